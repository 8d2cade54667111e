package logger

import (
	"github.com/stretchr/testify/mock"
)

// MockLogger is a testify mock of Logger.
//
// The key-value pairs of a log call are recorded as one []any argument, so an
// expectation is written as On("Warn", msg, mock.Anything) or matched with
// HasKeyValue. With records its pairs and returns the mock itself, so child
// loggers log into the same mock.
type MockLogger struct {
	mock.Mock
}

var _ Logger = (*MockLogger)(nil)

func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

// Expect registers a single expected record at level with the given message.
// Register expectations before calling Allow: testify uses the first match.
func (m *MockLogger) Expect(level Level, msg string, keysAndValues any) *mock.Call {
	if keysAndValues == nil {
		keysAndValues = mock.Anything
	}

	return m.On(methodName(level), msg, keysAndValues).Once()
}

// Allow accepts any number of records at the given levels, and any With call.
func (m *MockLogger) Allow(levels ...Level) {
	for _, level := range levels {
		m.On(methodName(level), mock.Anything, mock.Anything).Maybe()
	}
	m.On("With", mock.Anything).Maybe()
}

// HasKeyValue matches recorded key-value pairs that contain key with value.
func HasKeyValue(key string, value any) any {
	return mock.MatchedBy(func(kv []any) bool {
		for i := 0; i+1 < len(kv); i += 2 {
			if kv[i] == key && kv[i+1] == value {
				return true
			}
		}

		return false
	})
}

func methodName(level Level) string {
	switch level {
	case DebugLevel:
		return "Debug"
	case WarnLevel:
		return "Warn"
	case ErrorLevel:
		return "Error"
	case FatalLevel:
		return "Fatal"
	default:
		return "Info"
	}
}

func (m *MockLogger) Debug(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) Info(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) Warn(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) Error(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) Fatal(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) SetLevel(level Level) {
	m.Called(level)
}

func (m *MockLogger) Level() Level {
	args := m.Called()
	return args.Get(0).(Level)
}

func (m *MockLogger) With(keyValues ...any) Logger {
	m.Called(keyValues)
	return m
}

package titxt

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Defaults.
const (
	DefaultCapacity    = 32 * 1024
	DefaultMaxFileSize = 64 * 1024
)

// Errors returned by the parser.
var (
	ErrSyntax        = errors.New("titxt: syntax error")
	ErrImageTooLarge = errors.New("titxt: image exceeds capacity")
	ErrFileTooLarge  = errors.New("titxt: file too large")
)

// SyntaxError describes a malformed line.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("titxt: line %d: %s", e.Line, e.Msg)
}

func (e *SyntaxError) Unwrap() error { return ErrSyntax }

// --- Option ---

type config struct {
	capacity    int
	maxFileSize int64
	lenient     bool
}

// Option is a functional option for the parser.
type Option interface {
	apply(*config) error
}

type optFunc func(*config) error

func (f optFunc) apply(cfg *config) error { return f(cfg) }

// WithCapacity bounds the packed Footprint of the parsed image.
func WithCapacity(n int) Option {
	return optFunc(func(cfg *config) error {
		if n < HeaderSize+SegmentHeaderSize {
			return fmt.Errorf("titxt: capacity %d is below the minimum %d", n, HeaderSize+SegmentHeaderSize)
		}
		cfg.capacity = n

		return nil
	})
}

// WithMaxFileSize limits the size of files read by ParseFile.
func WithMaxFileSize(n int64) Option {
	return optFunc(func(cfg *config) error {
		if n <= 0 {
			return fmt.Errorf("titxt: max file size %d must be positive", n)
		}
		cfg.maxFileSize = n

		return nil
	})
}

// WithLenientHex accepts the loose number syntax of legacy tools: a token is
// read up to its first non-hex character, an optional 0x prefix is skipped,
// a token without digits counts as zero and byte values keep their low 8 bits.
// A missing 'q' terminator is also accepted.
func WithLenientHex() Option {
	return optFunc(func(cfg *config) error {
		cfg.lenient = true
		return nil
	})
}

func newConfig(opts []Option) (*config, error) {
	cfg := &config{
		capacity:    DefaultCapacity,
		maxFileSize: DefaultMaxFileSize,
	}
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// --- Entry points ---

// ParseFile reads and parses the TI-TXT file at path.
// Files larger than the max file size are rejected before parsing.
func ParseFile(path string, opts ...Option) (*Image, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("titxt: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("titxt: %w", err)
	}
	if info.Size() > cfg.maxFileSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, info.Size(), cfg.maxFileSize)
	}

	return parse(f, cfg)
}

// Parse parses a TI-TXT image held in memory.
func Parse(text []byte, opts ...Option) (*Image, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}

	return parse(bytes.NewReader(text), cfg)
}

// ParseReader parses a TI-TXT image from r.
func ParseReader(r io.Reader, opts ...Option) (*Image, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}

	return parse(r, cfg)
}

// --- Parser ---

type parser struct {
	cfg  *config
	img  *Image
	used int // footprint of the closed segments plus the header
	line int
}

func parse(r io.Reader, cfg *config) (*Image, error) {
	p := &parser{cfg: cfg, img: &Image{}, used: HeaderSize}

	scanner := bufio.NewScanner(r)
	scanner.Split(scanLines)

	terminated := false
	for scanner.Scan() {
		p.line++

		line := strings.TrimLeft(scanner.Text(), " \t")
		if strings.TrimSpace(line) == "" {
			continue
		}

		var err error
		switch line[0] {
		case '@':
			err = p.address(line[1:])
		case 'q', 'Q':
			terminated = true
		default:
			err = p.data(line)
		}
		if err != nil {
			return nil, err
		}
		if terminated {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("titxt: %w", err)
	}

	if !terminated && !cfg.lenient {
		return nil, &SyntaxError{Line: p.line, Msg: "missing 'q' terminator"}
	}

	return p.img, nil
}

func (p *parser) current() *Segment {
	if len(p.img.Segments) == 0 {
		return nil
	}

	return &p.img.Segments[len(p.img.Segments)-1]
}

// address opens a new segment.
func (p *parser) address(field string) error {
	addr, err := p.parseAddress(strings.TrimSpace(field))
	if err != nil {
		return err
	}

	if cur := p.current(); cur != nil {
		p.used += cur.footprint()
	}
	if p.used+SegmentHeaderSize > p.cfg.capacity {
		return p.tooLarge()
	}

	p.img.Segments = append(p.img.Segments, Segment{Address: addr})

	return nil
}

// data appends the byte tokens of a data line to the current segment.
func (p *parser) data(line string) error {
	cur := p.current()
	if cur == nil {
		return &SyntaxError{Line: p.line, Msg: "data before the first address record"}
	}

	for _, tok := range strings.FieldsFunc(line, isBlank) {
		b, err := p.parseByte(tok)
		if err != nil {
			return err
		}

		if p.used+segmentFootprint(len(cur.Data)+1) > p.cfg.capacity {
			return p.tooLarge()
		}
		cur.Data = append(cur.Data, b)
	}

	return nil
}

func (p *parser) tooLarge() error {
	return fmt.Errorf("%w: line %d, capacity %d bytes", ErrImageTooLarge, p.line, p.cfg.capacity)
}

func (p *parser) parseAddress(s string) (uint32, error) {
	if p.cfg.lenient {
		return uint32(leadingHex(s)), nil //nolint:gosec // legacy tools keep the low 32 bits
	}

	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, &SyntaxError{Line: p.line, Msg: fmt.Sprintf("invalid address %q", s)}
	}

	return uint32(v), nil
}

func (p *parser) parseByte(tok string) (byte, error) {
	if p.cfg.lenient {
		return byte(leadingHex(tok)), nil //nolint:gosec // legacy tools keep the low 8 bits
	}

	v, err := strconv.ParseUint(tok, 16, 8)
	if err != nil {
		return 0, &SyntaxError{Line: p.line, Msg: fmt.Sprintf("invalid byte %q", tok)}
	}

	return byte(v), nil
}

// leadingHex converts the leading hexadecimal digits of s, after an optional
// sign and 0x prefix. It saturates on overflow and returns 0 without digits.
func leadingHex(s string) uint64 {
	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') && isHexDigit(s[2]) {
		s = s[2:]
	}

	var v uint64
	for i := 0; i < len(s) && isHexDigit(s[i]); i++ {
		if v > (^uint64(0))>>4 {
			return ^uint64(0)
		}
		v = v<<4 | uint64(hexValue(s[i]))
	}
	if neg {
		v = -v
	}

	return v
}

func isBlank(r rune) bool {
	return r == ' ' || r == '\t'
}

func isHexDigit(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func hexValue(c byte) byte {
	switch {
	case c >= 'a':
		return c - 'a' + 10
	case c >= 'A':
		return c - 'A' + 10
	default:
		return c - '0'
	}
}

// scanLines is a bufio.SplitFunc accepting LF, CRLF and bare CR line endings.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\r' {
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					return i + 2, data[:i], nil
				}
				return i + 1, data[:i], nil
			}
			if !atEOF {
				// Need one more byte to tell CR from CRLF.
				return 0, nil, nil
			}
		}
		return i + 1, data[:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}

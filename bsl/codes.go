package bsl

import "fmt"

// Command is a BSL command opcode.
type Command byte

// Supported BSL commands.
const (
	CmdRxDataBlock    Command = 0x10
	CmdRxPassword     Command = 0x11
	CmdMassErase      Command = 0x15
	CmdCRCCheck       Command = 0x16
	CmdLoadPC         Command = 0x17
	CmdTxDataBlock    Command = 0x18
	CmdTxBSLVersion   Command = 0x19
	CmdChangeBaudRate Command = 0x52
)

// String returns the name of the command.
func (c Command) String() string {
	switch c {
	case CmdRxDataBlock:
		return "rx-data-block"
	case CmdRxPassword:
		return "rx-password"
	case CmdMassErase:
		return "mass-erase"
	case CmdCRCCheck:
		return "crc-check"
	case CmdLoadPC:
		return "load-pc"
	case CmdTxDataBlock:
		return "tx-data-block"
	case CmdTxBSLVersion:
		return "tx-bsl-version"
	case CmdChangeBaudRate:
		return "change-baud-rate"
	default:
		return fmt.Sprintf("command(0x%02X)", byte(c))
	}
}

// Response payload types.
const (
	RespData    byte = 0x3A
	RespMessage byte = 0x3B
)

// AckCode is the single byte the device sends after every received frame.
type AckCode byte

// ACK codes.
const (
	AckOK                 AckCode = 0x00
	AckHeaderIncorrect    AckCode = 0x51
	AckChecksumIncorrect  AckCode = 0x52
	AckPacketSizeZero     AckCode = 0x53
	AckPacketSizeTooLarge AckCode = 0x54
	AckUnknownError       AckCode = 0x55
	AckUnknownBaudRate    AckCode = 0x56
)

// String returns a description of the ACK code.
func (a AckCode) String() string {
	switch a {
	case AckOK:
		return "ok"
	case AckHeaderIncorrect:
		return "header incorrect"
	case AckChecksumIncorrect:
		return "checksum incorrect"
	case AckPacketSizeZero:
		return "packet size zero"
	case AckPacketSizeTooLarge:
		return "packet size exceeds buffer"
	case AckUnknownError:
		return "unknown error"
	case AckUnknownBaudRate:
		return "unknown baud rate"
	default:
		return fmt.Sprintf("ack(0x%02X)", byte(a))
	}
}

// Status is the status byte of a message response.
type Status byte

// Message response status codes.
const (
	StatusSuccess             Status = 0x00
	StatusFlashWriteCheck     Status = 0x01
	StatusFlashFailBit        Status = 0x02
	StatusVoltageChange       Status = 0x03
	StatusLocked              Status = 0x04
	StatusPasswordError       Status = 0x05
	StatusByteWriteForbidden  Status = 0x06
	StatusUnknownCommand      Status = 0x07
	StatusPacketLengthTooLong Status = 0x08
)

// String returns a description of the status code.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFlashWriteCheck:
		return "flash write check failed"
	case StatusFlashFailBit:
		return "flash fail bit set"
	case StatusVoltageChange:
		return "voltage change during program"
	case StatusLocked:
		return "BSL locked"
	case StatusPasswordError:
		return "BSL password error, code memory erased"
	case StatusByteWriteForbidden:
		return "byte write forbidden"
	case StatusUnknownCommand:
		return "unknown command"
	case StatusPacketLengthTooLong:
		return "packet length exceeds buffer size"
	default:
		return fmt.Sprintf("status(0x%02X)", byte(s))
	}
}

// baudIndex maps supported baud rates to the CHANGE_BAUD_RATE argument.
var baudIndex = map[int]byte{
	9600:   0x02,
	19200:  0x03,
	38400:  0x04,
	57600:  0x05,
	115200: 0x06,
}

// SupportedBaudRate reports whether baud can be negotiated with ChangeBaudRate.
func SupportedBaudRate(baud int) bool {
	_, ok := baudIndex[baud]
	return ok
}

package bsl

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/NoNine/libbsl430/logger"
)

// PasswordSize is the length of the BSL password, the interrupt vector table.
const PasswordSize = 32

// Client issues BSL commands over a Channel.
//
// Each method validates its arguments first, then sends one frame per chunk
// and waits for the answer before sending the next. Client is NOT
// goroutine-safe.
type Client struct {
	ch      Channel
	cfg     *Config
	tr      *transport
	logger  logger.Logger
	metrics *Metrics
}

// NewClient creates a Client on ch. A nil cfg uses the defaults of NewConfig.
// handlers are invoked on every link state change.
func NewClient(ch Channel, cfg *Config, handlers ...LinkStateHandler) (*Client, error) {
	if ch == nil {
		return nil, fmt.Errorf("%w: nil channel", ErrInvalidArgument)
	}
	if cfg == nil {
		var err error
		if cfg, err = NewConfig(); err != nil {
			return nil, err
		}
	}

	metrics := &Metrics{}

	return &Client{
		ch:      ch,
		cfg:     cfg,
		tr:      newTransport(ch, cfg, metrics, handlers...),
		logger:  cfg.GetLogger(),
		metrics: metrics,
	}, nil
}

// Config returns the client configuration.
func (c *Client) Config() *Config { return c.cfg }

// Metrics returns the link counters.
func (c *Client) Metrics() *Metrics { return c.metrics }

// LinkState returns the current link recovery state.
func (c *Client) LinkState() LinkState { return c.tr.linkState() }

// Resync waits out the device busy time and drains the line until it is quiet.
// It is run automatically after every failed exchange.
func (c *Client) Resync(ctx context.Context) {
	c.tr.resync(ctx)
}

// RxDataBlock writes data to device memory starting at addr.
//
// data is split into chunks of at most MaxDataSize bytes with the address
// advanced per chunk. The first failing chunk aborts the transfer.
func (c *Client) RxDataBlock(ctx context.Context, addr uint32, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: no data to write", ErrInvalidArgument)
	}
	if err := c.cfg.CheckRange(addr, len(data)); err != nil {
		return err
	}

	for off := 0; off < len(data); off += c.cfg.maxDataSize {
		chunk := data[off:min(off+c.cfg.maxDataSize, len(data))]
		chunkAddr := addr + uint32(off) //nolint:gosec // bounded by CheckRange

		payload := make([]byte, 1+addressSize+len(chunk))
		payload[0] = byte(CmdRxDataBlock)
		putAddress(payload[1:], chunkAddr)
		copy(payload[1+addressSize:], chunk)

		if err := c.messageCommand(ctx, CmdRxDataBlock, payload); err != nil {
			return fmt.Errorf("writing 0x%06X: %w", chunkAddr, err)
		}
	}

	return nil
}

// TxDataBlock reads size bytes of device memory starting at addr.
func (c *Client) TxDataBlock(ctx context.Context, addr uint32, size int) ([]byte, error) {
	if size <= 0 || size > 0xFFFF {
		return nil, fmt.Errorf("%w: read size %d", ErrInvalidArgument, size)
	}
	if err := c.cfg.CheckRange(addr, size); err != nil {
		return nil, err
	}

	out := make([]byte, 0, size)
	for off := 0; off < size; off += c.cfg.maxDataSize {
		n := min(c.cfg.maxDataSize, size-off)
		chunkAddr := addr + uint32(off) //nolint:gosec // bounded by CheckRange

		payload := make([]byte, 1+addressSize+2)
		payload[0] = byte(CmdTxDataBlock)
		putAddress(payload[1:], chunkAddr)
		binary.LittleEndian.PutUint16(payload[1+addressSize:], uint16(n)) //nolint:gosec // n <= MaxDataSize

		frame, err := c.tr.exchange(ctx, payload, true)
		if err != nil {
			return nil, fmt.Errorf("reading 0x%06X: %w", chunkAddr, err)
		}

		data, err := c.dataResponse(CmdTxDataBlock, frame, n)
		if err != nil {
			return nil, fmt.Errorf("reading 0x%06X: %w", chunkAddr, err)
		}
		out = append(out, data...)
	}

	return out, nil
}

// RxPassword unlocks the BSL with a 32-byte password.
//
// A wrong password makes the device erase its code memory and answer with
// StatusPasswordError; see IsPasswordErased.
func (c *Client) RxPassword(ctx context.Context, password []byte) error {
	if len(password) != PasswordSize {
		return fmt.Errorf("%w: password must be %d bytes, got %d", ErrInvalidArgument, PasswordSize, len(password))
	}

	payload := make([]byte, 1+PasswordSize)
	payload[0] = byte(CmdRxPassword)
	copy(payload[1:], password)

	return c.messageCommand(ctx, CmdRxPassword, payload)
}

// MassErase erases all code memory.
func (c *Client) MassErase(ctx context.Context) error {
	return c.messageCommand(ctx, CmdMassErase, []byte{byte(CmdMassErase)})
}

// CRCCheck asks the device for the CRC-CCITT of size bytes starting at addr.
func (c *Client) CRCCheck(ctx context.Context, addr uint32, size int) (uint16, error) {
	if size <= 0 || size > 0xFFFF {
		return 0, fmt.Errorf("%w: crc size %d", ErrInvalidArgument, size)
	}
	if err := c.cfg.CheckRange(addr, size); err != nil {
		return 0, err
	}

	payload := make([]byte, 1+addressSize+2)
	payload[0] = byte(CmdCRCCheck)
	putAddress(payload[1:], addr)
	binary.LittleEndian.PutUint16(payload[1+addressSize:], uint16(size)) //nolint:gosec // checked above

	frame, err := c.tr.exchange(ctx, payload, true)
	if err != nil {
		return 0, err
	}

	data, err := c.dataResponse(CmdCRCCheck, frame, 2)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint16(data), nil
}

// LoadPC makes the device jump to addr. The device only acknowledges the frame.
func (c *Client) LoadPC(ctx context.Context, addr uint32) error {
	if err := c.cfg.CheckRange(addr, 0); err != nil {
		return err
	}

	payload := make([]byte, 1+addressSize)
	payload[0] = byte(CmdLoadPC)
	putAddress(payload[1:], addr)

	_, err := c.tr.exchange(ctx, payload, false)

	return err
}

// TxVersion reads the BSL version.
func (c *Client) TxVersion(ctx context.Context) (Version, error) {
	frame, err := c.tr.exchange(ctx, []byte{byte(CmdTxBSLVersion)}, true)
	if err != nil {
		return 0, err
	}

	data, err := c.dataResponse(CmdTxBSLVersion, frame, 4)
	if err != nil {
		return 0, err
	}

	return Version(binary.BigEndian.Uint32(data)), nil
}

// ChangeBaudRate switches the link to baud.
//
// The device only acknowledges the request. The channel rate is changed only
// after a successful ACK, so a rejected request leaves both ends at the old rate.
func (c *Client) ChangeBaudRate(ctx context.Context, baud int) error {
	idx, ok := baudIndex[baud]
	if !ok {
		return fmt.Errorf("%w: unsupported baud rate %d", ErrInvalidArgument, baud)
	}

	if _, err := c.tr.exchange(ctx, []byte{byte(CmdChangeBaudRate), idx}, false); err != nil {
		return err
	}

	if err := c.ch.SetBaudRate(baud); err != nil {
		return fmt.Errorf("%w: set baud rate %d: %w", ErrChannel, baud, err)
	}
	c.logger.Debug("bsl: baud rate changed", "baud", baud)

	return nil
}

// --- Response decoding ---

// messageCommand runs a command answered by a message response and converts
// a non-success status into a *DeviceError.
func (c *Client) messageCommand(ctx context.Context, cmd Command, payload []byte) error {
	frame, err := c.tr.exchange(ctx, payload, true)
	if err != nil {
		return err
	}

	status, err := messageStatus(cmd, frame)
	if err != nil {
		return err
	}
	if status != StatusSuccess {
		return &DeviceError{Command: cmd, Status: status}
	}

	return nil
}

// dataResponse returns the n data bytes of a data response. A message
// response in its place is reported as a *DeviceError.
func (c *Client) dataResponse(cmd Command, frame *Frame, n int) ([]byte, error) {
	p := frame.Payload

	switch {
	case p[0] == RespData && len(p) == 1+n:
		return p[1:], nil
	case p[0] == RespMessage:
		status, err := messageStatus(cmd, frame)
		if err != nil {
			return nil, err
		}
		if status == StatusSuccess {
			return nil, fmt.Errorf("%w: %s answered with a bare success message", ErrUnexpectedResponse, cmd)
		}

		return nil, &DeviceError{Command: cmd, Status: status}
	default:
		return nil, fmt.Errorf("%w: %s answered with type 0x%02X and %d bytes, want 0x%02X and %d",
			ErrUnexpectedResponse, cmd, p[0], len(p)-1, RespData, n)
	}
}

func messageStatus(cmd Command, frame *Frame) (Status, error) {
	p := frame.Payload
	if len(p) != 2 || p[0] != RespMessage {
		return 0, fmt.Errorf("%w: %s answered with type 0x%02X and %d bytes, want a message",
			ErrUnexpectedResponse, cmd, p[0], len(p))
	}

	return Status(p[1]), nil
}

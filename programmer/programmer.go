package programmer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NoNine/libbsl430/bsl"
	"github.com/NoNine/libbsl430/crc"
	"github.com/NoNine/libbsl430/internal/clock"
	"github.com/NoNine/libbsl430/logger"
	"github.com/NoNine/libbsl430/titxt"
	"github.com/avast/retry-go/v4"
)

// MaxSegmentSize is the largest segment a single CRC check can verify.
const MaxSegmentSize = 0xFFFF

// Programmer runs the programming sequence against a Target.
type Programmer struct {
	target    Target
	cfg       *config
	clientCfg *bsl.Config
	logger    logger.Logger
}

// session is the state of one run. The transport itself keeps no session state.
type session struct {
	client        *bsl.Client
	baud          int
	authenticated bool
	version       bsl.Version
	start         time.Time
	segments      int
	totalBytes    int
	written       int
}

// New creates a Programmer for target.
func New(target Target, opts ...Option) (*Programmer, error) {
	if target == nil {
		return nil, errors.New("programmer: target must not be nil")
	}

	cfg := &config{
		baudRate:     DefaultBaudRate,
		password:     DefaultPassword(),
		lineInterval: DefaultLineInterval,
		settleDelay:  DefaultSettleDelay,
		logger:       logger.GetLogger(),
	}
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	l := cfg.logger.With("target", target.Name())
	clientCfg, err := bsl.NewConfig(append(cfg.clientOpts, bsl.WithLogger(l))...)
	if err != nil {
		return nil, err
	}

	return &Programmer{
		target:    target,
		cfg:       cfg,
		clientCfg: clientCfg,
		logger:    l,
	}, nil
}

// Run programs img into the target.
//
// Segments are validated against the client address range before the device
// is touched. Once Entry has started, Exit always runs; the first failure of
// the run is returned in preference to an Exit failure.
func (p *Programmer) Run(ctx context.Context, img *titxt.Image) (err error) {
	if err := p.preflight(img); err != nil {
		return err
	}

	release, err := acquire(p.target.Name())
	if err != nil {
		return err
	}
	defer release()

	client, err := bsl.NewClient(p.target, p.clientCfg, p.onLinkState)
	if err != nil {
		return err
	}

	s := &session{
		client:     client,
		start:      time.Now(),
		segments:   img.Count(),
		totalBytes: img.Size(),
	}

	defer func() {
		exitErr := p.exit(context.WithoutCancel(ctx), s)
		switch {
		case err != nil && exitErr != nil:
			p.logger.Warn("programmer: exit failed after run error", "error", exitErr)
		case exitErr != nil:
			err = exitErr
		}

		if err != nil {
			p.logger.Error("programmer: programming failed", "error", err, "elapsed", time.Since(s.start))
		} else {
			p.logger.Info("programmer: programming succeeded",
				"segments", s.segments, "bytes", s.written, "elapsed", time.Since(s.start))
			p.report(s, Progress{Phase: PhaseDone})
		}
	}()

	if err := p.enter(ctx, s); err != nil {
		return err
	}
	if err := p.negotiateBaudRate(ctx, s); err != nil {
		return err
	}
	if err := p.authenticate(ctx, s); err != nil {
		return err
	}
	if p.cfg.massErase {
		if err := p.massErase(ctx, s); err != nil {
			return err
		}
	}

	for i, seg := range img.Segments {
		if err := p.programSegment(ctx, s, i, seg); err != nil {
			return err
		}
	}

	return nil
}

// preflight validates the image before the device is touched.
func (p *Programmer) preflight(img *titxt.Image) error {
	if img == nil || img.Count() == 0 {
		return ErrEmptyImage
	}

	for i, seg := range img.Segments {
		if seg.Size() == 0 {
			continue
		}

		err := p.clientCfg.CheckRange(seg.Address, seg.Size())
		if err == nil && seg.Size() > MaxSegmentSize {
			err = fmt.Errorf("%w: segment exceeds %d bytes", bsl.ErrInvalidArgument, MaxSegmentSize)
		}
		if err != nil {
			return &SegmentError{Index: i, Address: seg.Address, Size: seg.Size(), Phase: PhasePreflight, Err: err}
		}
	}

	return nil
}

// enter pulses the device into the BSL, opens the channel and clears the line.
func (p *Programmer) enter(ctx context.Context, s *session) error {
	p.report(s, Progress{Phase: PhaseEntry})

	if err := p.bootstrap(ctx); err != nil {
		return fmt.Errorf("programmer: entry: %w", err)
	}

	if err := p.target.Open(InitialBaudRate); err != nil {
		return fmt.Errorf("programmer: entry: open channel: %w", err)
	}
	s.baud = InitialBaudRate

	if err := clock.Sleep(ctx, p.cfg.settleDelay); err != nil {
		return err
	}

	// The first frame after entry only resynchronizes the line.
	if v, err := s.client.TxVersion(ctx); err != nil {
		p.logger.Debug("programmer: initial version query failed", "error", err)
	} else {
		p.logger.Debug("programmer: initial version query", "version", v.String())
	}

	return ctx.Err()
}

// bootstrap drives the RST/TEST entry sequence.
func (p *Programmer) bootstrap(ctx context.Context) error {
	t := p.cfg.lineInterval
	steps := []struct {
		name string
		set  func(bool) error
		high bool
		wait time.Duration
	}{
		{"RST", p.target.SetReset, false, 0},
		{"TEST", p.target.SetTest, false, 2 * t},
		{"TEST", p.target.SetTest, true, t},
		{"TEST", p.target.SetTest, false, 2 * t},
		{"TEST", p.target.SetTest, true, t},
		{"RST", p.target.SetReset, true, t},
		{"TEST", p.target.SetTest, false, 0},
	}

	for _, step := range steps {
		if err := step.set(step.high); err != nil {
			return fmt.Errorf("set %s: %w", step.name, err)
		}
		if err := clock.Sleep(ctx, step.wait); err != nil {
			return err
		}
	}

	return nil
}

func (p *Programmer) negotiateBaudRate(ctx context.Context, s *session) error {
	p.report(s, Progress{Phase: PhaseBaudNegotiate})

	if p.cfg.baudRate == s.baud {
		return nil
	}
	if err := s.client.ChangeBaudRate(ctx, p.cfg.baudRate); err != nil {
		return fmt.Errorf("programmer: change baud rate to %d: %w", p.cfg.baudRate, err)
	}
	s.baud = p.cfg.baudRate
	p.logger.Debug("programmer: baud rate negotiated", "baud", s.baud)

	return nil
}

// authenticate unlocks the BSL. A password error means the device erased its
// code memory, after which the same password is sent exactly once more.
func (p *Programmer) authenticate(ctx context.Context, s *session) error {
	p.report(s, Progress{Phase: PhaseAuthenticate})

	attempt := 0
	err := retry.Do(
		func() error {
			attempt++
			if attempt > 1 {
				p.logger.Warn("programmer: password rejected, code memory erased; resending")
			}

			return s.client.RxPassword(ctx, p.cfg.password)
		},
		retry.Attempts(2),
		retry.RetryIf(bsl.IsPasswordErased),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		return fmt.Errorf("programmer: authenticate: %w", err)
	}
	s.authenticated = true

	if v, err := s.client.TxVersion(ctx); err != nil {
		p.logger.Warn("programmer: version query failed", "error", err)
	} else {
		s.version = v
		p.logger.Info("programmer: BSL unlocked", "version", v.String(), "baud", s.baud)
	}

	return nil
}

func (p *Programmer) massErase(ctx context.Context, s *session) error {
	p.report(s, Progress{Phase: PhaseMassErase})

	if err := s.client.MassErase(ctx); err != nil {
		return fmt.Errorf("programmer: mass erase: %w", err)
	}
	p.logger.Info("programmer: code memory erased")

	return nil
}

// programSegment writes one segment and verifies its CRC.
func (p *Programmer) programSegment(ctx context.Context, s *session, i int, seg titxt.Segment) error {
	segErr := func(phase Phase, err error) error {
		return &SegmentError{Index: i, Address: seg.Address, Size: seg.Size(), Phase: phase, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return segErr(PhaseWrite, err)
	}

	expected := crc.Checksum(seg.Data)
	event := Progress{Segment: i, Address: seg.Address, Size: seg.Size(), CRC: expected}

	if seg.Size() == 0 {
		event.Phase, event.Skipped = PhaseWrite, true
		p.report(s, event)
		p.logger.Info("programmer: segment skipped", "index", i, "address", fmt.Sprintf("0x%04X", seg.Address))

		return nil
	}

	event.Phase = PhaseWrite
	p.report(s, event)
	if err := s.client.RxDataBlock(ctx, seg.Address, seg.Data); err != nil {
		return segErr(PhaseWrite, err)
	}
	s.written += seg.Size()

	event.Phase = PhaseVerify
	p.report(s, event)
	actual, err := s.client.CRCCheck(ctx, seg.Address, seg.Size())
	if err != nil {
		return segErr(PhaseVerify, err)
	}
	if actual != expected {
		return segErr(PhaseVerify, &CRCMismatchError{
			Address:  seg.Address,
			Size:     seg.Size(),
			Expected: expected,
			Actual:   actual,
		})
	}

	p.logger.Info("programmer: segment programmed",
		"index", i,
		"address", fmt.Sprintf("0x%04X", seg.Address),
		"size", seg.Size(),
		"crc", fmt.Sprintf("0x%04X", expected),
	)

	return nil
}

// exit pulses RST to restart the device and releases the channel.
func (p *Programmer) exit(ctx context.Context, s *session) error {
	p.report(s, Progress{Phase: PhaseExit})

	var errs []error
	if err := p.target.SetReset(false); err != nil {
		errs = append(errs, fmt.Errorf("set RST: %w", err))
	}
	_ = clock.Sleep(ctx, p.cfg.lineInterval)
	if err := p.target.SetReset(true); err != nil {
		errs = append(errs, fmt.Errorf("set RST: %w", err))
	}
	if err := p.target.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close channel: %w", err))
	}
	s.authenticated = false

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("programmer: exit: %w", err)
	}

	return nil
}

func (p *Programmer) report(s *session, event Progress) {
	if p.cfg.progress == nil {
		return
	}

	event.Segments = s.segments
	event.TotalBytes = s.totalBytes
	event.BytesWritten = s.written
	event.Elapsed = time.Since(s.start)
	p.cfg.progress(event)
}

func (p *Programmer) onLinkState(prev, next bsl.LinkState) {
	p.logger.Debug("programmer: link state", "prev", prev.String(), "new", next.String())
}

// Package isp serialises the image pipeline's calls into one sensor
// instance. The engine underneath holds no locks; every entry point here
// takes the instance mutex for the whole operation.
package isp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/gain"
	"github.com/KevinKickass/OpenSensorCore/internal/sensor"
	"github.com/KevinKickass/OpenSensorCore/internal/timing"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrorReporter is told about failures the caller may not be watching for,
// such as a sensor dropping off the bus.
type ErrorReporter interface {
	SensorError(ctx context.Context, name string, err error)
}

// Auditor records debug register writes.
type Auditor interface {
	RegisterWritten(ctx context.Context, name string, reg sensor.DebugRegister, value byte, who string) error
}

// subject is implemented by credentials that carry a user name.
type subject interface {
	Subject() string
}

type Controller struct {
	ID     uuid.UUID
	name   string
	engine *sensor.Engine
	cfg    sensor.AttachConfig
	logger *zap.Logger

	reporter ErrorReporter
	auditor  Auditor

	mu           sync.Mutex
	present      bool
	chipID       sensor.ChipID
	lastCommand  Command
	errorMessage string
	lastChange   time.Time
}

type Option func(*Controller)

func WithErrorReporter(r ErrorReporter) Option {
	return func(c *Controller) { c.reporter = r }
}

func WithAuditor(a Auditor) Option {
	return func(c *Controller) { c.auditor = a }
}

func NewController(name string, engine *sensor.Engine, cfg sensor.AttachConfig, logger *zap.Logger, opts ...Option) *Controller {
	c := &Controller{
		ID:         uuid.New(),
		name:       name,
		engine:     engine,
		cfg:        cfg,
		logger:     logger.With(zap.String("instance", name)),
		lastChange: time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Name() string { return c.name }

// Attach selects the boot mode, runs the power sequence, checks the chip
// id and initialises the instance.
func (c *Controller) Attach(ctx context.Context) (sensor.ChipID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := c.engine.Attach(ctx, c.cfg)
	if err != nil {
		c.present = false
		return 0, c.fail(ctx, err)
	}
	c.present = true
	c.chipID = id

	if err := c.engine.Init(ctx); err != nil {
		return id, c.fail(ctx, err)
	}

	c.logger.Info("Sensor attached",
		zap.String("chip_id", id.String()),
		zap.Int("mode", c.engine.Mode()))
	return id, nil
}

// ExecuteCommand runs one lifecycle command.
func (c *Controller) ExecuteCommand(ctx context.Context, cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("Sensor command received",
		zap.String("command", string(cmd)),
		zap.Stringer("current_state", c.engine.State()))

	before := c.engine.State()
	var err error
	switch cmd {
	case CommandStreamOn:
		err = c.engine.SetStreamEnable(ctx, true)
	case CommandStreamOff:
		err = c.engine.SetStreamEnable(ctx, false)
	case CommandPrepareChange:
		err = c.engine.PrepareChange(ctx)
	case CommandFinishChange:
		err = c.engine.FinishChange(ctx)
	case CommandReset:
		err = c.engine.Reset(ctx)
	case CommandDetect:
		err = c.detect(ctx)
	case CommandInit:
		err = c.engine.Init(ctx)
	default:
		return fmt.Errorf("%w: unknown command: %s", sensor.ErrInvalidRequest, cmd)
	}

	c.lastCommand = cmd
	if c.engine.State() != before {
		c.lastChange = time.Now()
	}
	if err != nil {
		return c.fail(ctx, err)
	}
	c.errorMessage = ""
	return nil
}

func (c *Controller) detect(ctx context.Context) error {
	id, err := c.engine.Detect(ctx)
	c.present = err == nil
	if err == nil {
		c.chipID = id
	}
	return err
}

// CheckPresence re-reads the chip id. A failure is reported only when the
// sensor was present before.
func (c *Controller) CheckPresence(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	was := c.present
	err := c.detect(ctx)
	switch {
	case err != nil && was:
		c.logger.Error("Sensor lost", zap.Error(err))
		return c.fail(ctx, err)
	case err == nil && !was:
		c.logger.Info("Sensor present again", zap.String("chip_id", c.chipID.String()))
		c.errorMessage = ""
	}
	return err
}

// SetFps retimes the sensor. Both halves of the rate must fit the 16-bit
// fields of the packed form the engine takes.
func (c *Controller) SetFps(ctx context.Context, fps timing.Rational) error {
	if fps.Num > 0xffff || fps.Den > 0xffff {
		return fmt.Errorf("%w: frame rate %d/%d exceeds 16-bit fields", sensor.ErrInvalidRequest, fps.Num, fps.Den)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.check(ctx, c.engine.SetFps(ctx, fps.Pack()))
}

// Resize switches the window setting. A running stream is stopped around
// the change and the new mode program runs on the way back up.
func (c *Controller) Resize(ctx context.Context, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	running := c.engine.State() == sensor.StateRunning
	if err := c.engine.SetMode(ctx, index); err != nil {
		return c.check(ctx, err)
	}
	if !running {
		return nil
	}

	if err := c.engine.SetStreamEnable(ctx, false); err != nil {
		return c.fail(ctx, err)
	}
	if err := c.engine.SetStreamEnable(ctx, true); err != nil {
		return c.fail(ctx, err)
	}
	c.lastChange = time.Now()
	return nil
}

func (c *Controller) SetFlip(ctx context.Context, mask sensor.FlipMask) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.check(ctx, c.engine.SetFlip(ctx, mask))
}

func (c *Controller) SetIntegrationTime(ctx context.Context, it uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.check(ctx, c.engine.SetIntegrationTime(ctx, it))
}

// SetAnalogGain allocates the requested gain and programs the resulting
// code.
func (c *Controller) SetAnalogGain(ctx context.Context, requested uint32) (code, achieved uint32, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	code, achieved = c.engine.AllocAgain(requested)
	if err := c.engine.SetAnalogGain(ctx, code); err != nil {
		return 0, 0, c.check(ctx, err)
	}
	return code, achieved, nil
}

func (c *Controller) SetDigitalGain(ctx context.Context, requested uint32) (code, achieved uint32, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	code, achieved = c.engine.AllocDgain(requested)
	if err := c.engine.SetDigitalGain(ctx, code); err != nil {
		return 0, 0, c.check(ctx, err)
	}
	return code, achieved, nil
}

// SetExposure writes integration time and analog gain as one batch.
func (c *Controller) SetExposure(ctx context.Context, it, requestedGain uint32) (code, achieved uint32, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	code, achieved = c.engine.AllocAgain(requestedGain)
	if err := c.engine.SetCombinedExposure(ctx, gain.PackExposure(it, code)); err != nil {
		return 0, 0, c.check(ctx, err)
	}
	return code, achieved, nil
}

func (c *Controller) AllocAgain(requested uint32) (code, achieved uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.AllocAgain(requested)
}

func (c *Controller) GetRegister(ctx context.Context, creds sensor.Credentials, reg sensor.DebugRegister) (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, err := c.engine.GetRegister(ctx, creds, reg)
	if err != nil {
		return 0, c.check(ctx, err)
	}
	return v, nil
}

func (c *Controller) SetRegister(ctx context.Context, creds sensor.Credentials, reg sensor.DebugRegister, value byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.engine.SetRegister(ctx, creds, reg, value); err != nil {
		return c.check(ctx, err)
	}

	if c.auditor != nil {
		who := "unknown"
		if s, ok := creds.(subject); ok {
			who = s.Subject()
		}
		if err := c.auditor.RegisterWritten(ctx, c.name, reg, value, who); err != nil {
			c.logger.Error("Failed to record register write", zap.Error(err))
		}
	}
	return nil
}

func (c *Controller) Video() sensor.Video {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.Video()
}

func (c *Controller) Attribute() sensor.Attribute {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.Attribute()
}

func (c *Controller) State() sensor.StreamState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.State()
}

func (c *Controller) Descriptor() *sensor.Descriptor {
	return c.engine.Descriptor()
}

func (c *Controller) GetStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		ID:              c.ID.String(),
		Name:            c.name,
		Descriptor:      c.engine.Name(),
		State:           c.engine.State(),
		Present:         c.present,
		Mode:            c.engine.Mode(),
		LastCommand:     c.lastCommand,
		ErrorMessage:    c.errorMessage,
		LastStateChange: c.lastChange,
		Video:           c.engine.Video(),
		Config:          c.cfg,
	}
	if c.present {
		s.ChipID = c.chipID.String()
	}
	return s
}

// check records err when it is a bus or presence failure. Rejected
// requests are the caller's problem and leave the status alone.
func (c *Controller) check(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sensor.ErrInvalidRequest) || errors.Is(err, sensor.ErrPrivilege) {
		return err
	}
	return c.fail(ctx, err)
}

func (c *Controller) fail(ctx context.Context, err error) error {
	c.errorMessage = err.Error()
	c.logger.Error("Sensor operation failed", zap.Error(err))
	if c.reporter != nil {
		c.reporter.SensorError(ctx, c.name, err)
	}
	return err
}

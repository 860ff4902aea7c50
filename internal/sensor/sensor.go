package sensor

import (
	"context"

	"github.com/KevinKickass/OpenSensorCore/internal/regprog"
	"github.com/KevinKickass/OpenSensorCore/internal/transport"
	"go.uber.org/zap"
)

// Sensor is the control surface the ISP drives. Every sensor family is
// served by the same Engine parameterised by a Descriptor.
type Sensor interface {
	Name() string
	Detect(ctx context.Context) (ChipID, error)
	Reset(ctx context.Context) error
	Init(ctx context.Context) error
	SetStreamEnable(ctx context.Context, enable bool) error

	SetIntegrationTime(ctx context.Context, it uint32) error
	SetAnalogGain(ctx context.Context, code uint32) error
	SetDigitalGain(ctx context.Context, code uint32) error
	SetCombinedExposure(ctx context.Context, packed uint32) error
	AllocAgain(requested uint32) (code uint32, achieved uint32)
	AllocDgain(requested uint32) (code uint32, achieved uint32)

	SetFps(ctx context.Context, packed uint32) error
	SetMode(ctx context.Context, index int) error
	SetFlip(ctx context.Context, mask FlipMask) error

	GetRegister(ctx context.Context, creds Credentials, reg DebugRegister) (byte, error)
	SetRegister(ctx context.Context, creds Credentials, reg DebugRegister, value byte) error

	Attribute() Attribute
	Video() Video
	State() StreamState
}

// Notifier receives the video snapshot after every attribute change.
type Notifier interface {
	AttributeChanged(ctx context.Context, v Video)
}

// StateObserver is optionally implemented by a Notifier that also wants
// stream state transitions.
type StateObserver interface {
	StreamStateChanged(ctx context.Context, sensor string, from, to StreamState)
}

// Credentials identify the caller of the debug register surface.
type Credentials interface {
	IsAdmin() bool
}

// ClockProvider programs the sensor master clock.
type ClockProvider interface {
	SetRate(ctx context.Context, source MclkSource, hz uint64) error
}

// PinController drives the sensor's reset and power-down lines.
type PinController interface {
	Has(pin PinRole) bool
	Set(ctx context.Context, pin PinRole, high bool) error
}

type Option func(*Engine)

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithClock(c ClockProvider) Option {
	return func(e *Engine) { e.clock = c }
}

func WithPins(p PinController) Option {
	return func(e *Engine) { e.pins = p }
}

func WithSleeper(s regprog.Sleeper) Option {
	return func(e *Engine) { e.sleeper = s }
}

// Engine implements Sensor for one attached instance. It holds no lock;
// the owner serialises calls.
type Engine struct {
	desc     *Descriptor
	t        transport.Transport
	exec     *regprog.Executor
	logger   *zap.Logger
	notifier Notifier
	clock    ClockProvider
	pins     PinController
	sleeper  regprog.Sleeper

	attr     Attribute
	video    Video
	mode     int
	state    StreamState
	gainHigh bool
}

func New(desc *Descriptor, t transport.Transport, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		desc:    desc,
		t:       t,
		logger:  logger.With(zap.String("sensor", desc.Name)),
		sleeper: regprog.WallClock,
		state:   StateDeinit,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.exec = regprog.NewExecutor(t, desc.Sentinels, desc.DelayUnit())
	e.exec.Sleeper = e.sleeper

	e.attr = desc.Attribute
	e.attr.Name = desc.Name
	e.attr.BusAddress = desc.BusAddress
	e.attr.ChipID = uint32(desc.ExpectedChipID())
	e.mode = desc.DefaultMode
	e.applyMode(&e.attr, desc.Modes[e.mode])
	e.video = e.snapshot()

	return e, nil
}

func (e *Engine) Name() string { return e.desc.Name }

func (e *Engine) Descriptor() *Descriptor { return e.desc }

func (e *Engine) Attribute() Attribute { return e.attr }

func (e *Engine) Video() Video { return e.video }

func (e *Engine) State() StreamState { return e.state }

// Mode is the index of the active window setting.
func (e *Engine) Mode() int { return e.mode }

func (e *Engine) snapshot() Video {
	m := e.desc.Modes[e.mode]
	return Video{
		Name:        e.desc.Name,
		Mode:        e.mode,
		Width:       m.Width,
		Height:      m.Height,
		PixelFormat: m.PixelFormat,
		Colorspace:  m.Colorspace,
		FPS:         m.FPS,
		State:       e.state,
		Attribute:   e.attr,
	}
}

func (e *Engine) notify(ctx context.Context) {
	e.video.State = e.state
	e.video.Attribute = e.attr
	if e.notifier != nil {
		e.notifier.AttributeChanged(ctx, e.video)
	}
}

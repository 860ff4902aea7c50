package regprog

import (
	"context"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/transport"
)

// Op is one entry of a register program.
type Op struct {
	Addr  uint16 `json:"addr" yaml:"addr" toml:"addr"`
	Value uint8  `json:"value" yaml:"value" toml:"value"`
}

// Program is an ordered register program. Order matters: page selects
// precede the writes that depend on them.
type Program []Op

// Sentinels are the reserved addresses of a sensor's program encoding.
type Sentinels struct {
	End   uint16 `json:"end" yaml:"end" toml:"end"`
	Delay uint16 `json:"delay" yaml:"delay" toml:"delay"`
}

var (
	Sentinels8  = Sentinels{End: 0xff, Delay: 0xfe}
	Sentinels16 = Sentinels{End: 0xffff, Delay: 0xfffe}
)

// Sleeper blocks the caller for a hardware settling time.
type Sleeper interface {
	Sleep(d time.Duration)
}

type SleeperFunc func(d time.Duration)

func (f SleeperFunc) Sleep(d time.Duration) { f(d) }

// WallClock sleeps on the real clock.
var WallClock Sleeper = SleeperFunc(time.Sleep)

// Executor runs programs against a transport.
type Executor struct {
	Transport transport.Transport
	Sentinels Sentinels
	DelayUnit time.Duration
	Sleeper   Sleeper
}

func NewExecutor(t transport.Transport, s Sentinels, delayUnit time.Duration) *Executor {
	if delayUnit <= 0 {
		delayUnit = time.Millisecond
	}
	return &Executor{
		Transport: t,
		Sentinels: s,
		DelayUnit: delayUnit,
		Sleeper:   WallClock,
	}
}

// Execute runs p until its terminator or the first transport error. Delay
// directives block for Value*DelayUnit and are not interrupted by ctx; a
// program that has started always runs to completion or to a bus failure.
// Writes issued before a failure are not rolled back.
func (e *Executor) Execute(ctx context.Context, p Program) error {
	for i, op := range p {
		switch op.Addr {
		case e.Sentinels.End:
			return nil
		case e.Sentinels.Delay:
			e.Sleeper.Sleep(time.Duration(op.Value) * e.DelayUnit)
		default:
			if err := transport.Write(ctx, e.Transport, op.Addr, op.Value); err != nil {
				return fmt.Errorf("program step %d: %w", i, err)
			}
		}
	}
	return nil
}

// WriteAll issues ops as plain writes without interpreting sentinels.
func (e *Executor) WriteAll(ctx context.Context, ops []Op) error {
	for _, op := range ops {
		if err := transport.Write(ctx, e.Transport, op.Addr, op.Value); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of ops before the terminator.
func (p Program) Len(s Sentinels) int {
	for i, op := range p {
		if op.Addr == s.End {
			return i
		}
	}
	return len(p)
}

// Duration sums the delay directives of p.
func (p Program) Duration(s Sentinels, unit time.Duration) time.Duration {
	var d time.Duration
	for _, op := range p[:p.Len(s)] {
		if op.Addr == s.Delay {
			d += time.Duration(op.Value) * unit
		}
	}
	return d
}

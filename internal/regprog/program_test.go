package regprog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/transport"
)

// recordingSleeper records requested waits and the write count at the time
// of each wait.
type recordingSleeper struct {
	mem    *transport.Memory
	waits  []time.Duration
	before []int
}

func (r *recordingSleeper) Sleep(d time.Duration) {
	r.waits = append(r.waits, d)
	r.before = append(r.before, len(r.mem.Writes()))
}

func newExecutor(mem *transport.Memory, s Sentinels, unit time.Duration) (*Executor, *recordingSleeper) {
	e := NewExecutor(mem, s, unit)
	rs := &recordingSleeper{mem: mem}
	e.Sleeper = rs
	return e, rs
}

func TestExecuteTerminatorOnly(t *testing.T) {
	mem := transport.NewMemory(transport.Addr16)
	e, _ := newExecutor(mem, Sentinels16, time.Millisecond)

	if err := e.Execute(context.Background(), Program{{Addr: 0xffff}}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if n := len(mem.Writes()); n != 0 {
		t.Errorf("expected no writes, got %d", n)
	}
	if err := e.Execute(context.Background(), nil); err != nil {
		t.Fatalf("empty program: %v", err)
	}
}

func TestExecuteStopsAtTerminator(t *testing.T) {
	mem := transport.NewMemory(transport.Addr8)
	e, _ := newExecutor(mem, Sentinels8, time.Millisecond)

	p := Program{{0x12, 0x01}, {0x13, 0x02}, {0xff, 0x00}, {0x14, 0x03}}
	if err := e.Execute(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	writes := mem.Writes()
	if len(writes) != 2 || writes[1].Addr != 0x13 {
		t.Errorf("unexpected writes %+v", writes)
	}
}

func TestExecuteNthWriteFails(t *testing.T) {
	tests := []struct {
		name string
		n    int
	}{
		{"first", 1},
		{"third", 3},
		{"last", 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := transport.NewMemory(transport.Addr16)
			mem.FailNthWrite(tt.n)
			e, _ := newExecutor(mem, Sentinels16, time.Millisecond)

			p := Program{
				{0x0103, 0x01}, {0x0100, 0x00}, {0x36e9, 0x80}, {0x37f9, 0x80}, {0x301f, 0x01},
				{0xffff, 0x00},
			}
			err := e.Execute(context.Background(), p)
			if !errors.Is(err, transport.ErrTransport) {
				t.Fatalf("expected transport error, got %v", err)
			}
			if got := len(mem.Writes()); got != tt.n-1 {
				t.Errorf("expected %d writes before failure, got %d", tt.n-1, got)
			}
			var te *transport.Error
			if !errors.As(err, &te) || te.Addr != p[tt.n-1].Addr {
				t.Errorf("error should name the failing register, got %v", err)
			}
		})
	}
}

func TestExecuteDelay(t *testing.T) {
	mem := transport.NewMemory(transport.Addr8)
	e, rs := newExecutor(mem, Sentinels8, 10*time.Millisecond)

	p := Program{{0xfd, 0x00}, {0xfe, 0x05}, {0x20, 0x00}, {0xff, 0x00}}
	if err := e.Execute(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	if len(rs.waits) != 1 || rs.waits[0] != 50*time.Millisecond {
		t.Fatalf("expected one 50ms wait, got %v", rs.waits)
	}
	if rs.before[0] != 1 {
		t.Errorf("delay must happen after the first write and before the second, saw %d writes", rs.before[0])
	}
	if len(mem.Writes()) != 2 {
		t.Errorf("delay directive must not be written to the bus")
	}
	if got := p.Duration(Sentinels8, 10*time.Millisecond); got != 50*time.Millisecond {
		t.Errorf("Duration = %v", got)
	}
}

func TestExecuteDelayNotCancelled(t *testing.T) {
	mem := transport.NewMemory(transport.Addr16)
	e, rs := newExecutor(mem, Sentinels16, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Program{{0xfffe, 0x0a}, {0x0100, 0x01}}
	if err := e.Execute(ctx, p); err != nil {
		t.Fatalf("memory transport ignores ctx, program should complete: %v", err)
	}
	if len(rs.waits) != 1 || rs.waits[0] != 10*time.Millisecond {
		t.Errorf("delay must be honoured in full, got %v", rs.waits)
	}
}

func TestWriteAllIgnoresSentinels(t *testing.T) {
	mem := transport.NewMemory(transport.Addr8)
	e, rs := newExecutor(mem, Sentinels8, time.Millisecond)

	ops := []Op{{0xfd, 0x01}, {0x22, 0x40}, {0xfe, 0x02}}
	if err := e.WriteAll(context.Background(), ops); err != nil {
		t.Fatal(err)
	}
	if len(rs.waits) != 0 {
		t.Errorf("WriteAll must not sleep")
	}
	if mem.Value(0xfe) != 0x02 {
		t.Errorf("latch register 0xfe should have been written")
	}
}

func TestProgramLen(t *testing.T) {
	p := Program{{1, 1}, {2, 2}, {0xffff, 0}}
	if p.Len(Sentinels16) != 2 {
		t.Errorf("Len = %d", p.Len(Sentinels16))
	}
	if Program(nil).Len(Sentinels16) != 0 {
		t.Errorf("nil program should be empty")
	}
}

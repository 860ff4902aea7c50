package sensor

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

func ValidateTransition(from, to StreamState) error {
	validTransitions := map[StreamState][]StreamState{
		StateDeinit:  {StateInit, StateDeinit},
		StateInit:    {StateRunning, StateDeinit},
		StateRunning: {StateDeinit},
	}

	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("invalid current state: %s", from)
	}
	for _, validTo := range allowed {
		if validTo == to {
			return nil
		}
	}
	return fmt.Errorf("invalid state transition: %s -> %s", from, to)
}

func (e *Engine) setState(ctx context.Context, to StreamState) {
	from := e.state
	if err := ValidateTransition(from, to); err != nil {
		// unreachable through the public methods
		e.logger.Error("Rejected stream transition", zap.Error(err))
		return
	}
	e.state = to
	e.video.State = to
	if from == to {
		return
	}

	e.logger.Info("Stream state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to))
	if obs, ok := e.notifier.(StateObserver); ok {
		obs.StreamStateChanged(ctx, e.desc.Name, from, to)
	}
}

// Init resets the video description to the selected window and puts the
// instance in DEINIT.
func (e *Engine) Init(ctx context.Context) error {
	e.setState(ctx, StateDeinit)
	e.video = e.snapshot()
	e.notify(ctx)
	return nil
}

// SetStreamEnable drives the stream lifecycle. Enabling from DEINIT runs
// the mode program then the stream-on program. Disabling always ends in
// DEINIT, even when the stream-off program fails.
func (e *Engine) SetStreamEnable(ctx context.Context, enable bool) error {
	if !enable {
		err := e.exec.Execute(ctx, e.desc.StreamOff)
		e.setState(ctx, StateDeinit)
		if err != nil {
			return fmt.Errorf("failed to stop stream: %w", err)
		}
		return nil
	}

	if e.state == StateRunning {
		e.logger.Debug("Stream already running")
		return nil
	}

	if e.state == StateDeinit {
		m := e.desc.Modes[e.mode]
		if err := e.exec.Execute(ctx, m.Program); err != nil {
			return fmt.Errorf("failed to apply mode %q: %w", m.Name, err)
		}
		e.setState(ctx, StateInit)
	}

	if err := e.exec.Execute(ctx, e.desc.StreamOn); err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}
	e.setState(ctx, StateRunning)
	return nil
}

// PrepareChange halts frame output ahead of a reconfiguration without
// touching the stream state.
func (e *Engine) PrepareChange(ctx context.Context) error {
	if err := e.exec.Execute(ctx, e.desc.StreamOff); err != nil {
		return fmt.Errorf("failed to prepare change: %w", err)
	}
	return nil
}

// FinishChange resumes frame output after PrepareChange.
func (e *Engine) FinishChange(ctx context.Context) error {
	if err := e.exec.Execute(ctx, e.desc.StreamOn); err != nil {
		return fmt.Errorf("failed to finish change: %w", err)
	}
	return nil
}

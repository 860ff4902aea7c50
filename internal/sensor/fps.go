package sensor

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenSensorCore/internal/timing"
	"go.uber.org/zap"
)

func (e *Engine) constraints() timing.Constraints {
	m := e.desc.Modes[e.mode]
	return timing.Constraints{
		PixelClock:     m.PixelClock,
		MinFPS:         m.MinFPS,
		MaxFPS:         m.MaxFPS,
		BlankingMargin: e.desc.BlankingMargin,
	}
}

// SetFps retimes the frame by rewriting VTS for the packed rate
// (num<<16 | den). The attribute is only updated once every register write
// has succeeded.
func (e *Engine) SetFps(ctx context.Context, packed uint32) error {
	fps := timing.Unpack(packed)
	c := e.constraints()
	if err := c.Check(fps); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	hts, err := e.desc.HTS.Decode(ctx, e.t)
	if err != nil {
		return fmt.Errorf("failed to read hts: %w", err)
	}

	plan, err := c.NewPlan(fps, hts)
	if err != nil {
		return fmt.Errorf("failed to plan fps %s: %w", fps, err)
	}
	raw, err := e.desc.VTS.Raw(plan.VTS)
	if err != nil || raw > e.desc.VTS.Max() {
		return fmt.Errorf("%w: vts %d not representable", timing.ErrVTSRange, plan.VTS)
	}
	ops, err := e.desc.VTS.Encode(plan.VTS)
	if err != nil {
		return err
	}
	if err := e.exec.WriteAll(ctx, ops); err != nil {
		return fmt.Errorf("failed to write vts: %w", err)
	}

	e.attr.TotalHeight = plan.VTS
	e.attr.MaxIntegrationTime = plan.MaxIntegration
	e.attr.MaxIntegrationTimeNative = plan.MaxIntegration
	e.attr.IntegrationTimeLimit = plan.MaxIntegration
	e.video.FPS = fps

	e.logger.Debug("Frame rate changed",
		zap.Stringer("fps", fps),
		zap.Uint32("hts", hts),
		zap.Uint32("vts", plan.VTS))

	e.notify(ctx)
	return nil
}

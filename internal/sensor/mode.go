package sensor

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// applyMode copies the per-mode constants of m into attr.
func (e *Engine) applyMode(attr *Attribute, m WindowSetting) {
	attr.TotalWidth = m.TotalWidth
	attr.TotalHeight = m.TotalHeight
	if m.MIPIClock != 0 {
		attr.MIPI.Clock = m.MIPIClock
	}
	if m.Lanes != 0 {
		attr.MIPI.Lanes = m.Lanes
	}
	if m.MinIntegrationTime != 0 {
		attr.MinIntegrationTime = m.MinIntegrationTime
		attr.MinIntegrationTimeNative = m.MinIntegrationTime
	}
	if m.IntegrationTime != 0 {
		attr.IntegrationTime = m.IntegrationTime
	}
	if m.OneLineExposureUs != 0 {
		attr.OneLineExposureUs = m.OneLineExposureUs
	}

	maxIT := m.TotalHeight - e.desc.BlankingMargin
	attr.MaxIntegrationTime = maxIT
	attr.MaxIntegrationTimeNative = maxIT
	attr.IntegrationTimeLimit = maxIT
}

// SelectMode applies the board configuration at attach time. An unknown
// boot index keeps the current selection. A clock failure aborts attach.
func (e *Engine) SelectMode(ctx context.Context, cfg AttachConfig) error {
	idx := cfg.BootIndex
	if idx < 0 || idx >= len(e.desc.Modes) {
		e.logger.Warn("Unknown boot index, keeping current mode",
			zap.Int("boot_index", cfg.BootIndex),
			zap.Int("mode", e.mode))
		idx = e.mode
	}
	m := e.desc.Modes[idx]

	attr := e.attr
	e.applyMode(&attr, m)

	switch cfg.Interface {
	case InterfaceMIPICSI0:
		attr.DataBus = BusMIPI
		attr.MIPI.Index = 0
	case InterfaceMIPICSI1:
		attr.DataBus = BusMIPI
		attr.MIPI.Index = 1
	case InterfaceDVP:
		attr.DataBus = BusDVP
	case "":
	default:
		e.logger.Warn("Unsupported video interface, keeping default",
			zap.String("interface", string(cfg.Interface)))
	}

	if e.clock != nil && m.MclkHz > 0 {
		if err := e.clock.SetRate(ctx, cfg.Mclk, m.MclkHz); err != nil {
			return fmt.Errorf("failed to set mclk %d to %d Hz: %w", cfg.Mclk, m.MclkHz, err)
		}
	}

	e.attr = attr
	e.mode = idx
	e.video = e.snapshot()

	e.logger.Info("Mode selected",
		zap.Int("mode", idx),
		zap.String("window", m.Name),
		zap.Uint32("width", m.Width),
		zap.Uint32("height", m.Height),
		zap.String("data_bus", string(attr.DataBus)))

	e.notify(ctx)
	return nil
}

// SetMode switches the window setting at runtime. The register program of
// the new mode is applied on the next DEINIT to INIT transition.
func (e *Engine) SetMode(ctx context.Context, index int) error {
	if index < 0 || index >= len(e.desc.Modes) {
		return invalidRequest("mode %d not in [0, %d)", index, len(e.desc.Modes))
	}

	attr := e.attr
	e.applyMode(&attr, e.desc.Modes[index])
	e.attr = attr
	e.mode = index
	e.video = e.snapshot()

	e.logger.Debug("Mode changed", zap.Int("mode", index))
	e.notify(ctx)
	return nil
}

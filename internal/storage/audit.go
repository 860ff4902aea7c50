package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenSensorCore/internal/notify"
	"github.com/KevinKickass/OpenSensorCore/internal/sensor"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

func (p *PostgresClient) LogAuthEvent(ctx context.Context, eventType, subject, ipAddress, userAgent string, success bool, reason string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO auth_events (event_type, subject, ip_address, user_agent, success, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, eventType, subject, ipAddress, userAgent, success, reason)
	return err
}

// RegisterWritten records one debug register write.
func (p *PostgresClient) RegisterWritten(ctx context.Context, name string, reg sensor.DebugRegister, value byte, who string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO register_writes (sensor, target, address, value, written_by)
		VALUES ($1, $2, $3, $4, $5)
	`, name, reg.Name, int32(reg.Addr), int16(value), who)
	if err != nil {
		return fmt.Errorf("failed to record register write: %w", err)
	}
	return nil
}

// ListRegisterWrites returns the newest writes for a sensor first.
func (p *PostgresClient) ListRegisterWrites(ctx context.Context, name string, limit int) ([]RegisterWrite, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, sensor, target, address, value, written_by, created_at
		FROM register_writes
		WHERE sensor = $1
		ORDER BY id DESC
		LIMIT $2
	`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query register writes: %w", err)
	}
	defer rows.Close()

	var writes []RegisterWrite
	for rows.Next() {
		var w RegisterWrite
		var addr int32
		var value int16
		if err := rows.Scan(&w.ID, &w.Sensor, &w.Target, &addr, &value, &w.WrittenBy, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan register write: %w", err)
		}
		w.Address = uint16(addr)
		w.Value = uint8(value)
		writes = append(writes, w)
	}
	return writes, rows.Err()
}

// SaveSnapshot upserts the latest video description of a sensor.
func (p *PostgresClient) SaveSnapshot(ctx context.Context, name string, v sensor.Video) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal video: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO attribute_snapshots (sensor, state, mode, video, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (sensor) DO UPDATE
		SET state = EXCLUDED.state, mode = EXCLUDED.mode, video = EXCLUDED.video, updated_at = NOW()
	`, name, v.State.String(), v.Mode, data)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (p *PostgresClient) GetSnapshot(ctx context.Context, name string) (*AttributeSnapshot, error) {
	var s AttributeSnapshot
	err := p.pool.QueryRow(ctx, `
		SELECT sensor, state, mode, video, updated_at
		FROM attribute_snapshots
		WHERE sensor = $1
	`, name).Scan(&s.Sensor, &s.State, &s.Mode, &s.Video, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return &s, nil
}

// SnapshotSink persists attribute events as they are published.
type SnapshotSink struct {
	client *PostgresClient
	logger *zap.Logger
}

func NewSnapshotSink(client *PostgresClient, logger *zap.Logger) *SnapshotSink {
	return &SnapshotSink{client: client, logger: logger}
}

func (s *SnapshotSink) Publish(ctx context.Context, e notify.Event) {
	v, ok := e.Data.(sensor.Video)
	if e.Type != notify.EventAttribute || !ok {
		return
	}
	if err := s.client.SaveSnapshot(ctx, e.Sensor, v); err != nil {
		s.logger.Error("Failed to persist attribute snapshot",
			zap.String("sensor", e.Sensor),
			zap.Error(err))
	}
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/AlexeyKoz/fall-detection-system/internal/models"

	"go.uber.org/zap"
)

// FallEventsRepository 跌倒事件持久化仓库（PostgreSQL）
type FallEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewFallEventsRepository 创建跌倒事件仓库
func NewFallEventsRepository(db *sql.DB, logger *zap.Logger) *FallEventsRepository {
	return &FallEventsRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema 创建 fall_events 表（已存在则跳过）
func (r *FallEventsRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS fall_events (
			event_id     UUID PRIMARY KEY,
			sensor_id    INTEGER NOT NULL,
			ip           TEXT NOT NULL,
			gx           DOUBLE PRECISION NOT NULL,
			gy           DOUBLE PRECISION NOT NULL,
			gz           DOUBLE PRECISION NOT NULL,
			ax           DOUBLE PRECISION NOT NULL,
			ay           DOUBLE PRECISION NOT NULL,
			az           DOUBLE PRECISION NOT NULL,
			fall_index   DOUBLE PRECISION NOT NULL,
			observed_at  TIMESTAMPTZ NOT NULL,
			logged_at    TIMESTAMPTZ NOT NULL,
			UNIQUE (sensor_id, observed_at)
		)
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create fall_events table: %w", err)
	}
	return nil
}

// CreateFallEvent 写入一次跌倒（同一传感器同一观测时间只保留一条）
func (r *FallEventsRepository) CreateFallEvent(ctx context.Context, record models.FallRecord) error {
	query := `
		INSERT INTO fall_events (
			event_id, sensor_id, ip,
			gx, gy, gz, ax, ay, az,
			fall_index, observed_at, logged_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (sensor_id, observed_at) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		record.EventID,
		record.SensorID,
		record.SourceAddress,
		record.Gyro.X, record.Gyro.Y, record.Gyro.Z,
		record.Accel.X, record.Accel.Y, record.Accel.Z,
		record.GyroMagnitude,
		record.ObservedAt,
		record.LoggedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert fall event: %w", err)
	}

	r.logger.Debug("Stored fall event",
		zap.String("event_id", record.EventID),
		zap.Int("sensor_id", record.SensorID),
	)
	return nil
}

// ListFallEventsSince 查询某时间之后的跌倒事件（按观测时间升序）
func (r *FallEventsRepository) ListFallEventsSince(ctx context.Context, since time.Time, limit int) ([]models.FallRecord, error) {
	query := `
		SELECT
			event_id, sensor_id, ip,
			gx, gy, gz, ax, ay, az,
			fall_index, observed_at, logged_at
		FROM fall_events
		WHERE observed_at >= $1
		ORDER BY observed_at ASC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query fall events: %w", err)
	}
	defer rows.Close()

	var records []models.FallRecord
	for rows.Next() {
		var rec models.FallRecord
		if err := rows.Scan(
			&rec.EventID,
			&rec.SensorID,
			&rec.SourceAddress,
			&rec.Gyro.X, &rec.Gyro.Y, &rec.Gyro.Z,
			&rec.Accel.X, &rec.Accel.Y, &rec.Accel.Z,
			&rec.GyroMagnitude,
			&rec.ObservedAt,
			&rec.LoggedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan fall event: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate fall events: %w", err)
	}
	return records, nil
}

// api/store/event_store.go
package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"printshop/analytics/database"
	"printshop/analytics/models"
	"printshop/analytics/utils"
)

// EventSink receives custom events. Delivery is best-effort.
type EventSink interface {
	InsertEvents(ctx context.Context, events []models.AnalyticsEvent) error
	EventCountsOverTime(ctx context.Context, interval string, start, end time.Time, eventName string) ([]models.EventCountByTime, error)
}

// ClickHouseEventStore appends custom events to the analytics_events table.
type ClickHouseEventStore struct {
	DB     *database.ClickHouseClient
	logger *zap.Logger
}

func NewClickHouseEventStore(chClient *database.ClickHouseClient, logger *zap.Logger) *ClickHouseEventStore {
	return &ClickHouseEventStore{
		DB:     chClient,
		logger: logger,
	}
}

func (s *ClickHouseEventStore) InsertEvents(ctx context.Context, events []models.AnalyticsEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Column order must match the analytics_events schema in database/clickhouse.go.
	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO analytics_events (
			event_id, event_name, session_id, visitor_id, user_id, timestamp,
			page_path, user_agent, ip_address, event_data
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, event := range events {
		eventData := string(event.EventData)
		if eventData == "" {
			eventData = "{}"
		}
		err := batch.Append(
			event.EventID,
			event.EventName,
			event.SessionID,
			event.VisitorID,
			event.UserID,
			event.Timestamp,
			event.PagePath,
			event.UserAgent,
			event.IPAddress,
			eventData,
		)
		if err != nil {
			s.logger.Warn("dropping event from batch", zap.String("event_id", event.EventID), zap.Error(err))
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	s.logger.Debug("inserted analytics events", zap.Int("count", len(events)))
	return nil
}

func (s *ClickHouseEventStore) EventCountsOverTime(ctx context.Context, interval string, start, end time.Time, eventName string) ([]models.EventCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, &models.ValidationError{Field: "interval", Reason: fmt.Sprintf("invalid interval %q", interval)}
	}

	args := []any{start, end}
	selectCols := fmt.Sprintf("toStartOf%s(timestamp) AS time_bucket, count() AS total_events", interval)
	groupByCols := "time_bucket"
	whereClause := "WHERE timestamp >= ? AND timestamp < ?"
	orderByCols := "time_bucket ASC"
	filtering := eventName != ""

	if filtering {
		selectCols += ", event_name"
		groupByCols += ", event_name"
		whereClause += " AND event_name = ?"
		args = append(args, eventName)
		orderByCols += ", event_name ASC"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM analytics_events
		%s
		GROUP BY %s
		ORDER BY %s
	`, selectCols, whereClause, groupByCols, orderByCols)

	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts over time: %w", err)
	}
	defer rows.Close()

	results := []models.EventCountByTime{}
	for rows.Next() {
		var (
			bucket time.Time
			count  uint64
			name   string
			result models.EventCountByTime
		)

		if filtering {
			if err := rows.Scan(&bucket, &count, &name); err != nil {
				return nil, fmt.Errorf("failed to scan event count row: %w", err)
			}
			result.EventName = &name
		} else if err := rows.Scan(&bucket, &count); err != nil {
			return nil, fmt.Errorf("failed to scan event count row: %w", err)
		}

		result.Time = bucket
		result.Count = count
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during event counts query: %w", err)
	}

	return results, nil
}

// LogEventSink stands in when ClickHouse is not configured: events are
// logged and dropped.
type LogEventSink struct {
	Logger *zap.Logger
}

func (s LogEventSink) InsertEvents(_ context.Context, events []models.AnalyticsEvent) error {
	for _, e := range events {
		s.Logger.Debug("custom event (no sink configured)",
			zap.String("event", e.EventName),
			zap.String("session_id", e.SessionID))
	}
	return nil
}

func (s LogEventSink) EventCountsOverTime(context.Context, string, time.Time, time.Time, string) ([]models.EventCountByTime, error) {
	return []models.EventCountByTime{}, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"printshop/analytics/models"
	"printshop/analytics/utils"
)

const sessionColumns = `id, visitor_id, user_id, started_at, last_active_at, ended_at, duration,
	device, browser, os, is_bot, country, country_code, city, region,
	referrer, utm_source, utm_medium, utm_campaign, page_view_count`

// SessionStore backed by PostgreSQL.
type PostgresSessionStore struct {
	db *sql.DB
}

func NewPostgresSessionStore(db *sql.DB) *PostgresSessionStore {
	return &PostgresSessionStore{db: db}
}

func (s *PostgresSessionStore) CreateSession(ctx context.Context, sess *models.Session) (string, error) {
	if err := prepareSession(sess, utils.NewID); err != nil {
		return "", err
	}

	query, args := insertStatement("sessions", sessionFields(sess))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return sess.ID, nil
}

func (s *PostgresSessionStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session '%s': %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

func (s *PostgresSessionStore) Touch(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE sessions
		SET last_active_at = GREATEST(last_active_at, $2)
		WHERE id = $1 AND ended_at IS NULL
	`
	if _, err := s.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

func (s *PostgresSessionStore) EndSession(ctx context.Context, id string, at time.Time) error {
	// The first end wins; later calls leave the row untouched.
	query := `
		UPDATE sessions
		SET ended_at = GREATEST($2, last_active_at),
			last_active_at = GREATEST(last_active_at, $2),
			duration = GREATEST(0, FLOOR(EXTRACT(EPOCH FROM (GREATEST($2, last_active_at) - started_at))))::BIGINT
		WHERE id = $1 AND ended_at IS NULL
	`
	if _, err := s.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

func (s *PostgresSessionStore) IncrementPageViews(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE sessions
		SET page_view_count = page_view_count + 1,
			last_active_at = CASE WHEN ended_at IS NULL THEN GREATEST(last_active_at, $2) ELSE last_active_at END
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to increment page views: %w", err)
	}
	return nil
}

func (s *PostgresSessionStore) ActiveSince(ctx context.Context, since time.Time) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE ended_at IS NULL AND last_active_at >= $1
		ORDER BY last_active_at DESC`
	return s.querySessions(ctx, query, since)
}

func (s *PostgresSessionStore) Recent(ctx context.Context, limit int) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions
		ORDER BY started_at DESC
		LIMIT $1`
	return s.querySessions(ctx, query, limit)
}

func (s *PostgresSessionStore) InWindow(ctx context.Context, start, end time.Time) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE started_at >= $1 AND started_at < $2
		ORDER BY started_at ASC`
	return s.querySessions(ctx, query, start, end)
}

func (s *PostgresSessionStore) EndIdle(ctx context.Context, idleBefore time.Time) (int64, error) {
	query := `
		UPDATE sessions
		SET ended_at = last_active_at,
			duration = GREATEST(0, FLOOR(EXTRACT(EPOCH FROM (last_active_at - started_at))))::BIGINT
		WHERE ended_at IS NULL AND last_active_at < $1
	`
	res, err := s.db.ExecContext(ctx, query, idleBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to end idle sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count ended sessions: %w", err)
	}
	return n, nil
}

func (s *PostgresSessionStore) querySessions(ctx context.Context, query string, args ...any) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	var userID, country, countryCode, city, region sql.NullString
	var referrer, utmSource, utmMedium, utmCampaign sql.NullString
	var endedAt sql.NullTime
	err := row.Scan(
		&sess.ID, &sess.VisitorID, &userID, &sess.StartedAt, &sess.LastActiveAt, &endedAt, &sess.Duration,
		&sess.Device, &sess.Browser, &sess.OS, &sess.IsBot, &country, &countryCode, &city, &region,
		&referrer, &utmSource, &utmMedium, &utmCampaign, &sess.PageViewCount,
	)
	if err != nil {
		return nil, err
	}
	sess.UserID = userID.String
	sess.Country = country.String
	sess.CountryCode = countryCode.String
	sess.City = city.String
	sess.Region = region.String
	sess.Referrer = referrer.String
	sess.UTMSource = utmSource.String
	sess.UTMMedium = utmMedium.String
	sess.UTMCampaign = utmCampaign.String
	if endedAt.Valid {
		t := endedAt.Time
		sess.EndedAt = &t
	}
	sess.Duration = sess.DurationSeconds()
	return &sess, nil
}

// insertStatement renders an INSERT for exactly the columns present in f.
func insertStatement(table string, f *Fields) (string, []any) {
	placeholders := make([]string, f.Len())
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(f.Columns(), ", "), strings.Join(placeholders, ", "))
	return query, f.Values()
}

// updateStatement renders an UPDATE ... WHERE id = $n for the columns in f.
func updateStatement(table string, f *Fields, id string) (string, []any) {
	sets := make([]string, f.Len())
	for i, col := range f.Columns() {
		sets[i] = fmt.Sprintf("%s = $%d", col, i+1)
	}
	args := append(append([]any{}, f.Values()...), id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", table, strings.Join(sets, ", "), len(args))
	return query, args
}

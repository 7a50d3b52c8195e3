package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"printshop/analytics/models"
	"printshop/analytics/utils"
)

const pageViewColumns = `id, session_id, visitor_id, user_id, path, title, timestamp, time_on_page, scroll_depth`

// PageViewStore backed by PostgreSQL.
type PostgresPageViewStore struct {
	db *sql.DB
}

func NewPostgresPageViewStore(db *sql.DB) *PostgresPageViewStore {
	return &PostgresPageViewStore{db: db}
}

func (s *PostgresPageViewStore) CreatePageView(ctx context.Context, pv *models.PageView) (string, error) {
	if err := preparePageView(pv, utils.NewID); err != nil {
		return "", err
	}

	query, args := insertStatement("page_views", pageViewFields(pv))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("failed to create page view: %w", err)
	}
	return pv.ID, nil
}

func (s *PostgresPageViewStore) UpdateEngagement(ctx context.Context, id string, timeOnPage, scrollDepth *int) error {
	fields := engagementFields(timeOnPage, scrollDepth)
	if fields.Len() == 0 {
		return nil
	}

	query, args := updateStatement("page_views", fields, id)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update page view engagement: %w", err)
	}
	return nil
}

func (s *PostgresPageViewStore) ListBySession(ctx context.Context, sessionID string) ([]models.PageView, error) {
	query := `SELECT ` + pageViewColumns + `
		FROM page_views
		WHERE session_id = $1
		ORDER BY timestamp ASC, id ASC`
	return s.queryPageViews(ctx, query, sessionID)
}

func (s *PostgresPageViewStore) InWindow(ctx context.Context, start, end time.Time) ([]models.PageView, error) {
	query := `SELECT ` + pageViewColumns + `
		FROM page_views
		WHERE timestamp >= $1 AND timestamp < $2
		ORDER BY timestamp ASC`
	return s.queryPageViews(ctx, query, start, end)
}

func (s *PostgresPageViewStore) queryPageViews(ctx context.Context, query string, args ...any) ([]models.PageView, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query page views: %w", err)
	}
	defer rows.Close()

	views := []models.PageView{}
	for rows.Next() {
		var pv models.PageView
		var userID, title sql.NullString
		var timeOnPage, scrollDepth sql.NullInt64
		if err := rows.Scan(&pv.ID, &pv.SessionID, &pv.VisitorID, &userID, &pv.Path, &title,
			&pv.Timestamp, &timeOnPage, &scrollDepth); err != nil {
			return nil, fmt.Errorf("failed to scan page view: %w", err)
		}
		pv.UserID = userID.String
		pv.Title = title.String
		if timeOnPage.Valid {
			v := int(timeOnPage.Int64)
			pv.TimeOnPage = &v
		}
		if scrollDepth.Valid {
			v := int(scrollDepth.Int64)
			pv.ScrollDepth = &v
		}
		views = append(views, pv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating page view rows: %w", err)
	}
	return views, nil
}

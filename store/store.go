package store

import (
	"context"
	"time"

	"printshop/analytics/models"
)

// SessionStore persists sessions. Touch, EndSession and IncrementPageViews
// are no-ops for unknown ids; ended sessions are never touched again.
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.Session) (string, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	EndSession(ctx context.Context, id string, at time.Time) error
	IncrementPageViews(ctx context.Context, id string, at time.Time) error
	ActiveSince(ctx context.Context, since time.Time) ([]models.Session, error)
	Recent(ctx context.Context, limit int) ([]models.Session, error)
	InWindow(ctx context.Context, start, end time.Time) ([]models.Session, error)
	EndIdle(ctx context.Context, idleBefore time.Time) (int64, error)
}

// PageViewStore persists page views. UpdateEngagement is last-write-wins and
// silently ignores unknown ids.
type PageViewStore interface {
	CreatePageView(ctx context.Context, pv *models.PageView) (string, error)
	UpdateEngagement(ctx context.Context, id string, timeOnPage, scrollDepth *int) error
	ListBySession(ctx context.Context, sessionID string) ([]models.PageView, error)
	InWindow(ctx context.Context, start, end time.Time) ([]models.PageView, error)
}

// Backend bundles the stores of one storage driver.
type Backend struct {
	Sessions  SessionStore
	PageViews PageViewStore
	Close     func(ctx context.Context) error
}

// Fields is a sparse column set. Absent optional values are never added, so
// a write only ever carries the attributes that are actually present.
type Fields struct {
	cols []string
	vals []any
}

func (f *Fields) Set(col string, v any) *Fields {
	f.cols = append(f.cols, col)
	f.vals = append(f.vals, v)
	return f
}

func (f *Fields) SetString(col, v string) *Fields {
	if v == "" {
		return f
	}
	return f.Set(col, v)
}

func (f *Fields) SetInt(col string, v *int) *Fields {
	if v == nil {
		return f
	}
	return f.Set(col, *v)
}

func (f *Fields) SetTime(col string, v *time.Time) *Fields {
	if v == nil {
		return f
	}
	return f.Set(col, *v)
}

func (f *Fields) Len() int         { return len(f.cols) }
func (f *Fields) Columns() []string { return f.cols }
func (f *Fields) Values() []any     { return f.vals }

// Map returns the fields keyed by column name.
func (f *Fields) Map() map[string]any {
	m := make(map[string]any, len(f.cols))
	for i, c := range f.cols {
		m[c] = f.vals[i]
	}
	return m
}

func sessionFields(s *models.Session) *Fields {
	f := &Fields{}
	f.Set("id", s.ID).
		Set("visitor_id", s.VisitorID).
		SetString("user_id", s.UserID).
		Set("started_at", s.StartedAt).
		Set("last_active_at", s.LastActiveAt).
		SetTime("ended_at", s.EndedAt).
		Set("duration", s.Duration).
		Set("device", s.Device).
		Set("browser", s.Browser).
		Set("os", s.OS).
		Set("is_bot", s.IsBot).
		SetString("country", s.Country).
		SetString("country_code", s.CountryCode).
		SetString("city", s.City).
		SetString("region", s.Region).
		SetString("referrer", s.Referrer).
		SetString("utm_source", s.UTMSource).
		SetString("utm_medium", s.UTMMedium).
		SetString("utm_campaign", s.UTMCampaign).
		Set("page_view_count", s.PageViewCount).
		SetString("user_agent", s.UserAgent).
		SetString("ip_address", s.IPAddress)
	return f
}

func pageViewFields(pv *models.PageView) *Fields {
	f := &Fields{}
	f.Set("id", pv.ID).
		Set("session_id", pv.SessionID).
		Set("visitor_id", pv.VisitorID).
		SetString("user_id", pv.UserID).
		Set("path", pv.Path).
		SetString("title", pv.Title).
		Set("timestamp", pv.Timestamp).
		SetInt("time_on_page", pv.TimeOnPage).
		SetInt("scroll_depth", pv.ScrollDepth)
	return f
}

// engagementFields normalises reported metrics: negative time is clamped to
// zero and scroll depth to [0,100].
func engagementFields(timeOnPage, scrollDepth *int) *Fields {
	f := &Fields{}
	if timeOnPage != nil {
		v := *timeOnPage
		if v < 0 {
			v = 0
		}
		f.Set("time_on_page", v)
	}
	if scrollDepth != nil {
		f.Set("scroll_depth", models.ClampScrollDepth(*scrollDepth))
	}
	return f
}

func prepareSession(s *models.Session, newID func() string) error {
	if s.VisitorID == "" {
		return models.Required("visitorId")
	}
	if s.ID == "" {
		s.ID = newID()
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now().UTC()
	}
	if s.LastActiveAt.Before(s.StartedAt) {
		s.LastActiveAt = s.StartedAt
	}
	if s.Device == "" {
		s.Device = models.DeviceDesktop
	}
	return nil
}

func preparePageView(pv *models.PageView, newID func() string) error {
	if pv.Path == "" {
		return models.Required("path")
	}
	if pv.SessionID == "" {
		return models.Required("sessionId")
	}
	if pv.ID == "" {
		pv.ID = newID()
	}
	if pv.Timestamp.IsZero() {
		pv.Timestamp = time.Now().UTC()
	}
	if pv.ScrollDepth != nil {
		v := models.ClampScrollDepth(*pv.ScrollDepth)
		pv.ScrollDepth = &v
	}
	return nil
}

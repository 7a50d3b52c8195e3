package models

import "time"

type PathCount struct {
	Path  string `json:"path"`
	Count int64  `json:"count"`
}

type CountryCount struct {
	Country     string `json:"country"`
	CountryCode string `json:"countryCode,omitempty"`
	Count       int64  `json:"count"`
}

// Overview is the windowed summary behind the dashboard's headline numbers.
type Overview struct {
	Start              time.Time        `json:"start"`
	End                time.Time        `json:"end"`
	TotalSessions      int64            `json:"totalSessions"`
	UniqueVisitors     int64            `json:"uniqueVisitors"`
	TotalPageViews     int64            `json:"totalPageViews"`
	AvgSessionDuration float64          `json:"avgSessionDuration"`
	AvgPagesPerSession float64          `json:"avgPagesPerSession"`
	BounceRate         float64          `json:"bounceRate"`
	TopPages           []PathCount      `json:"topPages"`
	TopCountries       []CountryCount   `json:"topCountries"`
	Devices            map[string]int64 `json:"devices"`
	BotSessions        int64            `json:"botSessions"`
}

// DailyStat is one calendar-day bucket of the daily series.
type DailyStat struct {
	Date           string `json:"date"`
	Sessions       int64  `json:"sessions"`
	UniqueVisitors int64  `json:"uniqueVisitors"`
	PageViews      int64  `json:"pageViews"`
}

// SessionSummary is the privacy-trimmed view of a session used in listings
// and the session detail endpoint.
type SessionSummary struct {
	ID            string     `json:"id"`
	VisitorID     string     `json:"visitorId"`
	StartedAt     time.Time  `json:"startedAt"`
	LastActiveAt  time.Time  `json:"lastActiveAt"`
	EndedAt       *time.Time `json:"endedAt"`
	Duration      int64      `json:"duration"`
	Device        string     `json:"device"`
	Browser       string     `json:"browser"`
	OS            string     `json:"os"`
	IsBot         bool       `json:"isBot"`
	Country       string     `json:"country,omitempty"`
	CountryCode   string     `json:"countryCode,omitempty"`
	City          string     `json:"city,omitempty"`
	Region        string     `json:"region,omitempty"`
	Referrer      string     `json:"referrer,omitempty"`
	UTMSource     string     `json:"utmSource,omitempty"`
	UTMMedium     string     `json:"utmMedium,omitempty"`
	UTMCampaign   string     `json:"utmCampaign,omitempty"`
	PageViewCount int64      `json:"pageViewCount"`
}

const visitorPrefixLen = 8

// TrimVisitorID keeps the first few characters of a visitor id, cut on a
// rune boundary.
func TrimVisitorID(id string) string {
	n := 0
	for i := range id {
		if n == visitorPrefixLen {
			return id[:i]
		}
		n++
	}
	return id
}

// Summary trims a session for external display. The visitor id is cut to a
// short prefix and network details are dropped.
func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		ID:            s.ID,
		VisitorID:     TrimVisitorID(s.VisitorID),
		StartedAt:     s.StartedAt,
		LastActiveAt:  s.LastActiveAt,
		EndedAt:       s.EndedAt,
		Duration:      s.DurationSeconds(),
		Device:        s.Device,
		Browser:       s.Browser,
		OS:            s.OS,
		IsBot:         s.IsBot,
		Country:       s.Country,
		CountryCode:   s.CountryCode,
		City:          s.City,
		Region:        s.Region,
		Referrer:      s.Referrer,
		UTMSource:     s.UTMSource,
		UTMMedium:     s.UTMMedium,
		UTMCampaign:   s.UTMCampaign,
		PageViewCount: s.PageViewCount,
	}
}

// PageViewSummary is a page view as shown next to its session. The visitor
// id is trimmed the same way as in SessionSummary.
type PageViewSummary struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	VisitorID   string    `json:"visitorId"`
	Path        string    `json:"path"`
	Title       string    `json:"title,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	TimeOnPage  *int      `json:"timeOnPage,omitempty"`
	ScrollDepth *int      `json:"scrollDepth,omitempty"`
}

func (p *PageView) Summary() PageViewSummary {
	return PageViewSummary{
		ID:          p.ID,
		SessionID:   p.SessionID,
		VisitorID:   TrimVisitorID(p.VisitorID),
		Path:        p.Path,
		Title:       p.Title,
		Timestamp:   p.Timestamp,
		TimeOnPage:  p.TimeOnPage,
		ScrollDepth: p.ScrollDepth,
	}
}

// SessionDetail is the response of GET /analytics/session/:id.
type SessionDetail struct {
	Session   SessionSummary    `json:"session"`
	PageViews []PageViewSummary `json:"pageViews"`
}

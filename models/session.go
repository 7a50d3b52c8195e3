package models

import "time"

const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
)

// Session is one browsing episode for a visitor.
type Session struct {
	ID            string     `json:"id" bson:"_id"`
	VisitorID     string     `json:"visitorId" bson:"visitor_id"`
	UserID        string     `json:"userId,omitempty" bson:"user_id,omitempty"`
	StartedAt     time.Time  `json:"startedAt" bson:"started_at"`
	LastActiveAt  time.Time  `json:"lastActiveAt" bson:"last_active_at"`
	EndedAt       *time.Time `json:"endedAt,omitempty" bson:"ended_at,omitempty"`
	Duration      int64      `json:"duration" bson:"duration"`
	Device        string     `json:"device" bson:"device"`
	Browser       string     `json:"browser" bson:"browser"`
	OS            string     `json:"os" bson:"os"`
	IsBot         bool       `json:"isBot" bson:"is_bot"`
	Country       string     `json:"country,omitempty" bson:"country,omitempty"`
	CountryCode   string     `json:"countryCode,omitempty" bson:"country_code,omitempty"`
	City          string     `json:"city,omitempty" bson:"city,omitempty"`
	Region        string     `json:"region,omitempty" bson:"region,omitempty"`
	Referrer      string     `json:"referrer,omitempty" bson:"referrer,omitempty"`
	UTMSource     string     `json:"utmSource,omitempty" bson:"utm_source,omitempty"`
	UTMMedium     string     `json:"utmMedium,omitempty" bson:"utm_medium,omitempty"`
	UTMCampaign   string     `json:"utmCampaign,omitempty" bson:"utm_campaign,omitempty"`
	PageViewCount int64      `json:"pageViewCount" bson:"page_view_count"`
	UserAgent     string     `json:"-" bson:"user_agent,omitempty"`
	IPAddress     string     `json:"-" bson:"ip_address,omitempty"`
}

// Open reports whether the session has not been ended yet.
func (s *Session) Open() bool {
	return s.EndedAt == nil
}

// DurationSeconds derives the session length from its end, or from the last
// activity while it is still open. It never goes negative.
func (s *Session) DurationSeconds() int64 {
	until := s.LastActiveAt
	if s.EndedAt != nil {
		until = *s.EndedAt
	}
	d := int64(until.Sub(s.StartedAt) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}

// ClientInfo is what the classifier extracts from a user agent.
type ClientInfo struct {
	Device  string `json:"device"`
	Browser string `json:"browser"`
	OS      string `json:"os"`
	IsBot   bool   `json:"isBot"`
}

// GeoLocation is a coarse IP location. All fields are empty when unknown.
type GeoLocation struct {
	Country     string `json:"country,omitempty"`
	CountryCode string `json:"countryCode,omitempty"`
	City        string `json:"city,omitempty"`
	Region      string `json:"region,omitempty"`
}

func (g GeoLocation) Empty() bool {
	return g == GeoLocation{}
}

// SessionRequest is the body of POST /analytics/session.
type SessionRequest struct {
	VisitorID         string `json:"visitorId"`
	ExistingSessionID string `json:"existingSessionId,omitempty"`
	UserID            string `json:"userId,omitempty"`
	Referrer          string `json:"referrer,omitempty"`
	UTMSource         string `json:"utmSource,omitempty"`
	UTMMedium         string `json:"utmMedium,omitempty"`
	UTMCampaign       string `json:"utmCampaign,omitempty"`
}

// SessionResult tells the caller whether an existing session was resumed.
// Exactly one of Created and Resumed is set.
type SessionResult struct {
	SessionID string `json:"sessionId"`
	Created   bool   `json:"created,omitempty"`
	Resumed   bool   `json:"resumed,omitempty"`
}

// HeartbeatRequest is the body of POST /analytics/heartbeat.
type HeartbeatRequest struct {
	SessionID string `json:"sessionId"`
	End       bool   `json:"end,omitempty"`
}

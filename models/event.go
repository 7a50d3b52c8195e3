// api/models/event.go
package models

import (
	"encoding/json"
	"time"
)

// AnalyticsEvent is a custom named event fired by the storefront
// (add_to_cart, design_saved, ...). Events are append-only.
type AnalyticsEvent struct {
	EventID   string          `json:"eventId"`
	EventName string          `json:"eventName"`
	SessionID string          `json:"sessionId"`
	VisitorID string          `json:"visitorId"`
	UserID    string          `json:"userId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	PagePath  string          `json:"path,omitempty"`
	UserAgent string          `json:"-"`
	IPAddress string          `json:"-"`
	EventData json.RawMessage `json:"eventData,omitempty"`
}

// EventRequest is the body of POST /analytics/event.
type EventRequest struct {
	SessionID string          `json:"sessionId"`
	VisitorID string          `json:"visitorId"`
	UserID    string          `json:"userId,omitempty"`
	EventName string          `json:"eventName"`
	EventData json.RawMessage `json:"eventData,omitempty"`
	Path      string          `json:"path,omitempty"`
}

type EventCountByTime struct {
	Time      time.Time `json:"time"`
	EventName *string   `json:"eventName,omitempty"`
	Count     uint64    `json:"count"`
}

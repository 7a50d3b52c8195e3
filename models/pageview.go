package models

import "time"

// PageView is one URL visit within a session. TimeOnPage and ScrollDepth stay
// nil until the client reports engagement.
type PageView struct {
	ID          string    `json:"id" bson:"_id"`
	SessionID   string    `json:"sessionId" bson:"session_id"`
	VisitorID   string    `json:"visitorId" bson:"visitor_id"`
	UserID      string    `json:"userId,omitempty" bson:"user_id,omitempty"`
	Path        string    `json:"path" bson:"path"`
	Title       string    `json:"title,omitempty" bson:"title,omitempty"`
	Timestamp   time.Time `json:"timestamp" bson:"timestamp"`
	TimeOnPage  *int      `json:"timeOnPage,omitempty" bson:"time_on_page,omitempty"`
	ScrollDepth *int      `json:"scrollDepth,omitempty" bson:"scroll_depth,omitempty"`
}

// PageViewRequest is the body of POST /analytics/pageview. A body carrying
// PageViewID is an engagement update, anything else creates a page view.
type PageViewRequest struct {
	PageViewID  string `json:"pageViewId,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
	VisitorID   string `json:"visitorId,omitempty"`
	UserID      string `json:"userId,omitempty"`
	Path        string `json:"path,omitempty"`
	Title       string `json:"title,omitempty"`
	TimeOnPage  *int   `json:"timeOnPage,omitempty"`
	ScrollDepth *int   `json:"scrollDepth,omitempty"`
}

// ClampScrollDepth pins a scroll percentage to [0,100].
func ClampScrollDepth(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// PageViewResult answers POST /analytics/pageview: either a newly created
// page view or an acknowledged engagement update.
type PageViewResult struct {
	PageViewID string `json:"pageViewId,omitempty"`
	Created    bool   `json:"created,omitempty"`
	Updated    bool   `json:"updated,omitempty"`
}

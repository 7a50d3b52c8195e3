package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"printshop/analytics/classifier"
	"printshop/analytics/metrics"
	"printshop/analytics/models"
	"printshop/analytics/store"
)

// Locator resolves a client IP to a coarse location. Implementations must
// not fail; an unknown location is an empty value.
type Locator interface {
	Resolve(ctx context.Context, ip string) models.GeoLocation
}

// RequestMeta carries what the HTTP layer knows about the caller.
type RequestMeta struct {
	UserAgent string
	IP        string
}

// Service implements the write side of the pipeline: session lifecycle,
// page views, engagement and custom events.
type Service struct {
	sessions  store.SessionStore
	pageViews store.PageViewStore
	events    store.EventSink
	geo       Locator
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(backend *store.Backend, events store.EventSink, geo Locator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = store.LogEventSink{Logger: logger}
	}
	return &Service{
		sessions:  backend.Sessions,
		pageViews: backend.PageViews,
		events:    events,
		geo:       geo,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ResumeOrCreate continues the caller's session when the supplied session id
// is open and belongs to the same visitor. Any other case, including a
// session owned by a different visitor, starts a fresh session.
func (s *Service) ResumeOrCreate(ctx context.Context, req models.SessionRequest, meta RequestMeta) (models.SessionResult, error) {
	if req.VisitorID == "" {
		return models.SessionResult{}, models.Required("visitorId")
	}
	now := s.now()

	if req.ExistingSessionID != "" {
		existing, err := s.sessions.GetSession(ctx, req.ExistingSessionID)
		switch {
		case errors.Is(err, models.ErrNotFound):
		case err != nil:
			return models.SessionResult{}, fmt.Errorf("failed to load session for resume: %w", err)
		case existing.VisitorID == req.VisitorID && existing.Open():
			if err := s.sessions.Touch(ctx, existing.ID, now); err != nil {
				return models.SessionResult{}, fmt.Errorf("failed to touch resumed session: %w", err)
			}
			metrics.SessionsStarted.WithLabelValues("resumed").Inc()
			return models.SessionResult{SessionID: existing.ID, Resumed: true}, nil
		default:
			s.logger.Debug("session not resumable",
				zap.String("session_id", existing.ID),
				zap.Bool("visitor_match", existing.VisitorID == req.VisitorID),
				zap.Bool("open", existing.Open()))
		}
	}

	client := classifier.ClassifyUserAgent(meta.UserAgent)
	var loc models.GeoLocation
	if s.geo != nil {
		loc = s.geo.Resolve(ctx, meta.IP)
	}

	session := &models.Session{
		VisitorID:    req.VisitorID,
		UserID:       req.UserID,
		StartedAt:    now,
		LastActiveAt: now,
		Device:       client.Device,
		Browser:      client.Browser,
		OS:           client.OS,
		IsBot:        client.IsBot,
		Country:      loc.Country,
		CountryCode:  loc.CountryCode,
		City:         loc.City,
		Region:       loc.Region,
		Referrer:     req.Referrer,
		UTMSource:    req.UTMSource,
		UTMMedium:    req.UTMMedium,
		UTMCampaign:  req.UTMCampaign,
		UserAgent:    meta.UserAgent,
		IPAddress:    meta.IP,
	}
	id, err := s.sessions.CreateSession(ctx, session)
	if err != nil {
		return models.SessionResult{}, fmt.Errorf("failed to create session: %w", err)
	}

	metrics.SessionsStarted.WithLabelValues("created").Inc()
	return models.SessionResult{SessionID: id, Created: true}, nil
}

// Heartbeat extends an open session, or ends it when req.End is set. It
// reports whether the session was ended.
func (s *Service) Heartbeat(ctx context.Context, req models.HeartbeatRequest) (bool, error) {
	if req.SessionID == "" {
		return false, models.Required("sessionId")
	}
	now := s.now()

	if req.End {
		if err := s.sessions.EndSession(ctx, req.SessionID, now); err != nil {
			return false, fmt.Errorf("failed to end session: %w", err)
		}
		metrics.SessionsEnded.WithLabelValues("client").Inc()
		return true, nil
	}

	if err := s.sessions.Touch(ctx, req.SessionID, now); err != nil {
		return false, fmt.Errorf("failed to touch session: %w", err)
	}
	return false, nil
}

// RecordPageView either creates a page view (bumping the parent session's
// counter) or, when PageViewID is set, applies an engagement update.
func (s *Service) RecordPageView(ctx context.Context, req models.PageViewRequest) (models.PageViewResult, error) {
	if req.PageViewID != "" {
		if req.TimeOnPage == nil {
			return models.PageViewResult{}, models.Required("timeOnPage")
		}
		if err := s.pageViews.UpdateEngagement(ctx, req.PageViewID, req.TimeOnPage, req.ScrollDepth); err != nil {
			return models.PageViewResult{}, fmt.Errorf("failed to update engagement: %w", err)
		}
		metrics.PageViews.WithLabelValues("updated").Inc()
		return models.PageViewResult{Updated: true}, nil
	}

	switch {
	case req.SessionID == "":
		return models.PageViewResult{}, models.Required("sessionId")
	case req.VisitorID == "":
		return models.PageViewResult{}, models.Required("visitorId")
	case req.Path == "":
		return models.PageViewResult{}, models.Required("path")
	}

	now := s.now()
	pv := &models.PageView{
		SessionID:   req.SessionID,
		VisitorID:   req.VisitorID,
		UserID:      req.UserID,
		Path:        req.Path,
		Title:       req.Title,
		Timestamp:   now,
		TimeOnPage:  req.TimeOnPage,
		ScrollDepth: req.ScrollDepth,
	}
	id, err := s.pageViews.CreatePageView(ctx, pv)
	if err != nil {
		return models.PageViewResult{}, fmt.Errorf("failed to create page view: %w", err)
	}

	if err := s.sessions.IncrementPageViews(ctx, req.SessionID, now); err != nil {
		return models.PageViewResult{}, fmt.Errorf("failed to increment page view count: %w", err)
	}

	metrics.PageViews.WithLabelValues("created").Inc()
	return models.PageViewResult{PageViewID: id, Created: true}, nil
}

// TrackEvent hands a custom event to the configured sink.
func (s *Service) TrackEvent(ctx context.Context, req models.EventRequest, meta RequestMeta) error {
	switch {
	case req.EventName == "":
		return models.Required("eventName")
	case req.SessionID == "":
		return models.Required("sessionId")
	}

	event := models.AnalyticsEvent{
		EventID:   uuid.NewString(),
		EventName: req.EventName,
		SessionID: req.SessionID,
		VisitorID: req.VisitorID,
		UserID:    req.UserID,
		Timestamp: s.now(),
		PagePath:  req.Path,
		UserAgent: meta.UserAgent,
		IPAddress: meta.IP,
		EventData: req.EventData,
	}
	if err := s.events.InsertEvents(ctx, []models.AnalyticsEvent{event}); err != nil {
		return fmt.Errorf("failed to store event %q: %w", req.EventName, err)
	}

	metrics.Events.Inc()
	return nil
}

// SessionDetail returns a trimmed session together with its page views in
// chronological order.
func (s *Service) SessionDetail(ctx context.Context, id string) (*models.SessionDetail, error) {
	session, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	views, err := s.pageViews.ListBySession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list page views for session %s: %w", id, err)
	}
	summaries := make([]models.PageViewSummary, 0, len(views))
	for i := range views {
		summaries = append(summaries, views[i].Summary())
	}

	return &models.SessionDetail{Session: session.Summary(), PageViews: summaries}, nil
}

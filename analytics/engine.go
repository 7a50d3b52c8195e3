package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"printshop/analytics/models"
	"printshop/analytics/store"
)

const (
	DefaultActiveWindow = 300 * time.Second
	DefaultTopN         = 10
	dayLayout           = "2006-01-02"
)

type OverviewOptions struct {
	TopN        int
	ExcludeBots bool
}

// Engine computes read-only aggregates on demand. Nothing it returns is
// persisted and no snapshot isolation is attempted: open sessions may grow
// between two calls.
type Engine struct {
	sessions  store.SessionStore
	pageViews store.PageViewStore
	events    store.EventSink
	now       func() time.Time
}

func NewEngine(backend *store.Backend, events store.EventSink) *Engine {
	if events == nil {
		events = store.LogEventSink{Logger: zap.NewNop()}
	}
	return &Engine{
		sessions:  backend.Sessions,
		pageViews: backend.PageViews,
		events:    events,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) scan(ctx context.Context, start, end time.Time) ([]models.Session, []models.PageView, error) {
	var (
		sessions []models.Session
		views    []models.PageView
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sessions, err = e.sessions.InWindow(gctx, start, end)
		if err != nil {
			return fmt.Errorf("failed to scan sessions: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		views, err = e.pageViews.InWindow(gctx, start, end)
		if err != nil {
			return fmt.Errorf("failed to scan page views: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return sessions, views, nil
}

// botSessionIDs collects the bot sessions owning sessions or views. A view
// can belong to a session that started before the window; those owners are
// looked up individually.
func (e *Engine) botSessionIDs(ctx context.Context, sessions []models.Session, views []models.PageView) (map[string]struct{}, error) {
	bots := map[string]struct{}{}
	seen := make(map[string]struct{}, len(sessions))
	for i := range sessions {
		seen[sessions[i].ID] = struct{}{}
		if sessions[i].IsBot {
			bots[sessions[i].ID] = struct{}{}
		}
	}
	for _, pv := range views {
		if _, ok := seen[pv.SessionID]; ok || pv.SessionID == "" {
			continue
		}
		seen[pv.SessionID] = struct{}{}

		owner, err := e.sessions.GetSession(ctx, pv.SessionID)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to look up session %s: %w", pv.SessionID, err)
		}
		if owner.IsBot {
			bots[owner.ID] = struct{}{}
		}
	}
	return bots, nil
}

// Overview summarises sessions started and page views recorded in
// [start, end). Bounce rate counts sessions with exactly one page view over
// sessions with at least one; sessions without page views are incomplete
// data and stay out of the denominator.
func (e *Engine) Overview(ctx context.Context, start, end time.Time, opts OverviewOptions) (*models.Overview, error) {
	if opts.TopN <= 0 {
		opts.TopN = DefaultTopN
	}

	sessions, views, err := e.scan(ctx, start, end)
	if err != nil {
		return nil, err
	}

	out := &models.Overview{
		Start:        start,
		End:          end,
		TopPages:     []models.PathCount{},
		TopCountries: []models.CountryCount{},
		Devices:      map[string]int64{},
	}

	var bots map[string]struct{}
	if opts.ExcludeBots {
		if bots, err = e.botSessionIDs(ctx, sessions, views); err != nil {
			return nil, err
		}
	}

	visitors := map[string]struct{}{}
	countries := map[string]*models.CountryCount{}
	var (
		durationTotal int64
		withViews     int64
		bounces       int64
	)

	for i := range sessions {
		s := &sessions[i]
		if s.IsBot {
			out.BotSessions++
			if opts.ExcludeBots {
				continue
			}
		}

		out.TotalSessions++
		visitors[s.VisitorID] = struct{}{}
		durationTotal += s.DurationSeconds()
		out.Devices[s.Device]++

		if s.PageViewCount > 0 {
			withViews++
			if s.PageViewCount == 1 {
				bounces++
			}
		}

		if s.Country != "" {
			c, ok := countries[s.Country]
			if !ok {
				c = &models.CountryCount{Country: s.Country, CountryCode: s.CountryCode}
				countries[s.Country] = c
			}
			c.Count++
		}
	}

	paths := map[string]int64{}
	for _, pv := range views {
		if _, bot := bots[pv.SessionID]; bot {
			continue
		}
		out.TotalPageViews++
		paths[pv.Path]++
	}

	out.UniqueVisitors = int64(len(visitors))
	out.AvgSessionDuration = ratio(float64(durationTotal), out.TotalSessions)
	out.AvgPagesPerSession = ratio(float64(out.TotalPageViews), out.TotalSessions)
	out.BounceRate = ratio(float64(bounces)*100, withViews)

	for path, n := range paths {
		out.TopPages = append(out.TopPages, models.PathCount{Path: path, Count: n})
	}
	sort.Slice(out.TopPages, func(i, j int) bool {
		a, b := out.TopPages[i], out.TopPages[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Path < b.Path
	})
	if len(out.TopPages) > opts.TopN {
		out.TopPages = out.TopPages[:opts.TopN]
	}

	for _, c := range countries {
		out.TopCountries = append(out.TopCountries, *c)
	}
	sort.Slice(out.TopCountries, func(i, j int) bool {
		a, b := out.TopCountries[i], out.TopCountries[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Country < b.Country
	})
	if len(out.TopCountries) > opts.TopN {
		out.TopCountries = out.TopCountries[:opts.TopN]
	}

	return out, nil
}

// ratio divides and rounds to two decimals, yielding 0 for an empty
// denominator.
func ratio(num float64, den int64) float64 {
	if den == 0 {
		return 0
	}
	return math.Round(num/float64(den)*100) / 100
}

// DailySeries returns one bucket per UTC calendar day touched by
// [start, end), including days without any activity.
func (e *Engine) DailySeries(ctx context.Context, start, end time.Time, excludeBots bool) ([]models.DailyStat, error) {
	series := []models.DailyStat{}
	if !end.After(start) {
		return series, nil
	}

	sessions, views, err := e.scan(ctx, start, end)
	if err != nil {
		return nil, err
	}

	first := start.UTC().Truncate(24 * time.Hour)
	last := end.Add(-time.Nanosecond).UTC().Truncate(24 * time.Hour)

	index := map[string]int{}
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		key := d.Format(dayLayout)
		index[key] = len(series)
		series = append(series, models.DailyStat{Date: key})
	}

	var bots map[string]struct{}
	if excludeBots {
		if bots, err = e.botSessionIDs(ctx, sessions, views); err != nil {
			return nil, err
		}
	}

	visitors := make([]map[string]struct{}, len(series))
	for _, s := range sessions {
		if excludeBots && s.IsBot {
			continue
		}
		i, ok := index[s.StartedAt.UTC().Format(dayLayout)]
		if !ok {
			continue
		}
		series[i].Sessions++
		if visitors[i] == nil {
			visitors[i] = map[string]struct{}{}
		}
		visitors[i][s.VisitorID] = struct{}{}
	}
	for i := range series {
		series[i].UniqueVisitors = int64(len(visitors[i]))
	}

	for _, pv := range views {
		if _, bot := bots[pv.SessionID]; bot {
			continue
		}
		if i, ok := index[pv.Timestamp.UTC().Format(dayLayout)]; ok {
			series[i].PageViews++
		}
	}

	return series, nil
}

// ActiveNow lists open sessions seen within window, defaulting to five
// minutes.
func (e *Engine) ActiveNow(ctx context.Context, window time.Duration) ([]models.SessionSummary, error) {
	if window <= 0 {
		window = DefaultActiveWindow
	}
	sessions, err := e.sessions.ActiveSince(ctx, e.now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	return summaries(sessions), nil
}

// Recent lists the newest sessions by start time.
func (e *Engine) Recent(ctx context.Context, limit int) ([]models.SessionSummary, error) {
	sessions, err := e.sessions.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent sessions: %w", err)
	}
	return summaries(sessions), nil
}

// EventCounts buckets custom events by interval (Minute, Hour, Day, ...).
func (e *Engine) EventCounts(ctx context.Context, interval string, start, end time.Time, eventName string) ([]models.EventCountByTime, error) {
	return e.events.EventCountsOverTime(ctx, interval, start, end, eventName)
}

func summaries(sessions []models.Session) []models.SessionSummary {
	out := make([]models.SessionSummary, 0, len(sessions))
	for i := range sessions {
		out = append(out, sessions[i].Summary())
	}
	return out
}

package analytics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printshop/analytics/models"
	"printshop/analytics/store"
)

var day0 = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

type seeder struct {
	t       *testing.T
	backend *store.Backend
}

func newSeeder(t *testing.T) (*seeder, *store.MemoryStore) {
	mem := store.NewMemoryStore()
	return &seeder{t: t, backend: mem.Backend()}, mem
}

// session stores a session that started at `at` with one page view per path.
func (s *seeder) session(visitor string, at time.Time, mutate func(*models.Session), paths ...string) string {
	s.t.Helper()
	ctx := context.Background()
	sess := &models.Session{VisitorID: visitor, StartedAt: at, Device: models.DeviceDesktop}
	if mutate != nil {
		mutate(sess)
	}
	id, err := s.backend.Sessions.CreateSession(ctx, sess)
	require.NoError(s.t, err)

	for i, p := range paths {
		ts := at.Add(time.Duration(i+1) * time.Second)
		_, err := s.backend.PageViews.CreatePageView(ctx, &models.PageView{SessionID: id, VisitorID: visitor, Path: p, Timestamp: ts})
		require.NoError(s.t, err)
		require.NoError(s.t, s.backend.Sessions.IncrementPageViews(ctx, id, ts))
	}
	return id
}

func TestOverview_BounceRateCountsSessionsWithViews(t *testing.T) {
	s, _ := newSeeder(t)
	s.session("a", day0.Add(time.Hour), nil, "/")
	s.session("b", day0.Add(2*time.Hour), nil, "/", "/shop")
	s.session("c", day0.Add(3*time.Hour), nil, "/", "/shop", "/cart")
	s.session("d", day0.Add(4*time.Hour), nil, "/", "/shop", "/cart", "/checkout")
	s.session("e", day0.Add(5*time.Hour), nil)

	e := NewEngine(s.backend, nil)
	ov, err := e.Overview(context.Background(), day0, day0.AddDate(0, 0, 1), OverviewOptions{})
	require.NoError(t, err)

	assert.Equal(t, int64(5), ov.TotalSessions)
	assert.Equal(t, int64(5), ov.UniqueVisitors)
	assert.Equal(t, int64(10), ov.TotalPageViews)
	assert.Equal(t, 25.0, ov.BounceRate)
	assert.Equal(t, 2.0, ov.AvgPagesPerSession)
	assert.Equal(t, int64(5), ov.Devices[models.DeviceDesktop])
}

func TestOverview_EmptyWindow(t *testing.T) {
	s, _ := newSeeder(t)
	e := NewEngine(s.backend, nil)

	ov, err := e.Overview(context.Background(), day0, day0.AddDate(0, 0, 7), OverviewOptions{})
	require.NoError(t, err)
	assert.Zero(t, ov.TotalSessions)
	assert.Zero(t, ov.BounceRate)
	assert.Zero(t, ov.AvgSessionDuration)
	assert.NotNil(t, ov.TopPages)
	assert.NotNil(t, ov.TopCountries)
	assert.Empty(t, ov.Devices)
}

func TestOverview_AverageDuration(t *testing.T) {
	s, mem := newSeeder(t)
	ctx := context.Background()
	a := s.session("a", day0, nil)
	b := s.session("b", day0.Add(time.Hour), nil)
	require.NoError(t, mem.EndSession(ctx, a, day0.Add(100*time.Second)))
	require.NoError(t, mem.EndSession(ctx, b, day0.Add(time.Hour+51*time.Second)))

	e := NewEngine(s.backend, nil)
	ov, err := e.Overview(ctx, day0, day0.AddDate(0, 0, 1), OverviewOptions{})
	require.NoError(t, err)
	assert.Equal(t, 75.5, ov.AvgSessionDuration)
}

func TestOverview_BotsExcludedButCounted(t *testing.T) {
	s, _ := newSeeder(t)
	bot := func(sess *models.Session) { sess.IsBot = true }
	s.session("human", day0.Add(time.Hour), nil, "/")
	s.session("crawler", day0.Add(2*time.Hour), bot, "/robots", "/sitemap")

	e := NewEngine(s.backend, nil)
	ctx := context.Background()

	ov, err := e.Overview(ctx, day0, day0.AddDate(0, 0, 1), OverviewOptions{ExcludeBots: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), ov.TotalSessions)
	assert.Equal(t, int64(1), ov.BotSessions)
	assert.Equal(t, int64(1), ov.TotalPageViews)
	assert.Equal(t, 100.0, ov.BounceRate)

	ov, err = e.Overview(ctx, day0, day0.AddDate(0, 0, 1), OverviewOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), ov.TotalSessions)
	assert.Equal(t, int64(1), ov.BotSessions)
	assert.Equal(t, int64(3), ov.TotalPageViews)
	assert.Equal(t, 50.0, ov.BounceRate)
}

func TestBots_ViewsOfSessionsStartedBeforeWindowAreExcluded(t *testing.T) {
	s, _ := newSeeder(t)
	ctx := context.Background()
	bot := func(sess *models.Session) { sess.IsBot = true }
	crawler := s.session("crawler", day0.Add(-time.Hour), bot)
	returning := s.session("returning", day0.Add(-time.Hour), nil)

	for sessionID, path := range map[string]string{crawler: "/sitemap", returning: "/shop", "ghost": "/orphan"} {
		_, err := s.backend.PageViews.CreatePageView(ctx, &models.PageView{SessionID: sessionID, VisitorID: "v", Path: path, Timestamp: day0.Add(time.Hour)})
		require.NoError(t, err)
	}

	e := NewEngine(s.backend, nil)
	ov, err := e.Overview(ctx, day0, day0.AddDate(0, 0, 1), OverviewOptions{ExcludeBots: true})
	require.NoError(t, err)
	assert.Zero(t, ov.TotalSessions)
	assert.Equal(t, int64(2), ov.TotalPageViews)
	assert.ElementsMatch(t, []models.PathCount{{Path: "/shop", Count: 1}, {Path: "/orphan", Count: 1}}, ov.TopPages)

	series, err := e.DailySeries(ctx, day0, day0.AddDate(0, 0, 1), true)
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, int64(2), series[0].PageViews)

	ov, err = e.Overview(ctx, day0, day0.AddDate(0, 0, 1), OverviewOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), ov.TotalPageViews)
}

func TestBots_LookupFailureIsReported(t *testing.T) {
	s, mem := newSeeder(t)
	ctx := context.Background()
	_, err := s.backend.PageViews.CreatePageView(ctx, &models.PageView{SessionID: "elsewhere", VisitorID: "v", Path: "/", Timestamp: day0.Add(time.Hour)})
	require.NoError(t, err)

	backend := mem.Backend()
	backend.Sessions = brokenSessions{SessionStore: mem}
	e := NewEngine(backend, nil)

	_, err = e.Overview(ctx, day0, day0.AddDate(0, 0, 1), OverviewOptions{ExcludeBots: true})
	assert.Error(t, err)
	_, err = e.DailySeries(ctx, day0, day0.AddDate(0, 0, 1), true)
	assert.Error(t, err)
}

func TestOverview_TopListsOrderedAndTruncated(t *testing.T) {
	s, _ := newSeeder(t)
	in := func(country, code string) func(*models.Session) {
		return func(sess *models.Session) { sess.Country, sess.CountryCode = country, code }
	}
	s.session("a", day0.Add(time.Hour), in("Germany", "DE"), "/shop", "/shop", "/b")
	s.session("b", day0.Add(2*time.Hour), in("France", "FR"), "/shop", "/a")
	s.session("c", day0.Add(3*time.Hour), in("Germany", "DE"), "/c")
	s.session("d", day0.Add(4*time.Hour), nil, "/a")

	e := NewEngine(s.backend, nil)
	ov, err := e.Overview(context.Background(), day0, day0.AddDate(0, 0, 1), OverviewOptions{TopN: 2})
	require.NoError(t, err)

	assert.Equal(t, []models.PathCount{{Path: "/shop", Count: 3}, {Path: "/a", Count: 2}}, ov.TopPages)
	assert.Equal(t, []models.CountryCount{
		{Country: "Germany", CountryCode: "DE", Count: 2},
		{Country: "France", CountryCode: "FR", Count: 1},
	}, ov.TopCountries)
}

func TestOverview_WindowBoundaries(t *testing.T) {
	s, _ := newSeeder(t)
	s.session("before", day0.Add(-time.Second), nil, "/")
	s.session("first", day0, nil, "/")
	s.session("after", day0.AddDate(0, 0, 1), nil, "/")

	e := NewEngine(s.backend, nil)
	ov, err := e.Overview(context.Background(), day0, day0.AddDate(0, 0, 1), OverviewOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), ov.TotalSessions)
}

func TestDailySeries_ZeroFillsQuietDays(t *testing.T) {
	s, _ := newSeeder(t)
	day3 := day0.AddDate(0, 0, 2)
	s.session("v1", day3.Add(9*time.Hour), nil, "/", "/shop")
	s.session("v1", day3.Add(15*time.Hour), nil, "/")
	s.session("v2", day3.Add(20*time.Hour), nil)

	e := NewEngine(s.backend, nil)
	series, err := e.DailySeries(context.Background(), day0, day0.AddDate(0, 0, 7), false)
	require.NoError(t, err)
	require.Len(t, series, 7)

	zero := 0
	for i, d := range series {
		assert.Equal(t, day0.AddDate(0, 0, i).Format("2006-01-02"), d.Date)
		if d.Sessions == 0 && d.PageViews == 0 && d.UniqueVisitors == 0 {
			zero++
		}
	}
	assert.Equal(t, 6, zero)
	assert.Equal(t, models.DailyStat{Date: "2026-05-03", Sessions: 3, UniqueVisitors: 2, PageViews: 3}, series[2])
}

func TestDailySeries_PartialDaysAndBots(t *testing.T) {
	s, _ := newSeeder(t)
	bot := func(sess *models.Session) { sess.IsBot = true }
	s.session("human", day0.Add(23*time.Hour), nil, "/")
	s.session("crawler", day0.Add(25*time.Hour), bot, "/", "/robots")

	e := NewEngine(s.backend, nil)
	start := day0.Add(12 * time.Hour)
	end := day0.Add(36 * time.Hour)

	series, err := e.DailySeries(context.Background(), start, end, true)
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, int64(1), series[0].Sessions)
	assert.Equal(t, int64(0), series[1].Sessions)
	assert.Equal(t, int64(0), series[1].PageViews)
}

func TestDailySeries_EmptyRange(t *testing.T) {
	s, _ := newSeeder(t)
	e := NewEngine(s.backend, nil)

	series, err := e.DailySeries(context.Background(), day0, day0, false)
	require.NoError(t, err)
	assert.NotNil(t, series)
	assert.Empty(t, series)
}

func TestActiveNowAndRecent(t *testing.T) {
	s, mem := newSeeder(t)
	ctx := context.Background()
	now := day0.Add(12 * time.Hour)

	stale := s.session("stale", now.Add(-time.Hour), nil)
	live := s.session("live-visitor-0001", now.Add(-2*time.Minute), nil)
	ended := s.session("ended", now.Add(-time.Minute), nil)
	require.NoError(t, mem.EndSession(ctx, ended, now))

	e := NewEngine(s.backend, nil)
	e.now = func() time.Time { return now }

	active, err := e.ActiveNow(ctx, 0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, live, active[0].ID)
	assert.Equal(t, "live-vis", active[0].VisitorID)

	active, err = e.ActiveNow(ctx, 2*time.Hour)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	recent, err := e.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ended, recent[0].ID)
	assert.Equal(t, live, recent[1].ID)
	assert.NotContains(t, fmt.Sprint(recent), stale)
}

func TestEventCounts_DelegatesToSink(t *testing.T) {
	s, _ := newSeeder(t)
	name := "add_to_cart"
	sink := &recordingSink{counts: []models.EventCountByTime{{Time: day0, EventName: &name, Count: 4}}}
	e := NewEngine(s.backend, sink)

	counts, err := e.EventCounts(context.Background(), "Day", day0, day0.AddDate(0, 0, 1), name)
	require.NoError(t, err)
	assert.Equal(t, sink.counts, counts)

	sink.err = errors.New("unavailable")
	_, err = e.EventCounts(context.Background(), "Day", day0, day0.AddDate(0, 0, 1), "")
	assert.Error(t, err)
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 0.0, ratio(10, 0))
	assert.Equal(t, 33.33, ratio(100, 3))
	assert.Equal(t, 66.67, ratio(200, 3))
}

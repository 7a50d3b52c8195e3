// Package tracker is the client side of the analytics pipeline: a per-tab
// agent that establishes a session, reports page views with engagement, and
// keeps the session alive with heartbeats. Every call is best-effort and
// nothing the agent does is ever surfaced to the host page.
package tracker

import (
	"context"
	"encoding/json"
	"math"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"printshop/analytics/models"
)

type State int

const (
	Uninitialized State = iota
	Initializing
	Active
	Suspended
	Ended
	Disabled
)

var stateNames = [...]string{"uninitialized", "initializing", "active", "suspended", "ended", "disabled"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

type Config struct {
	// Endpoint is the collection API base, e.g. https://shop.example/api/analytics.
	// Ignored when Transport is set.
	Endpoint          string
	HeartbeatInterval time.Duration
	RequestTimeout    time.Duration
	Storage           DurableStore
	TabStore          TabStore
	Transport         Transport
	Clock             func() time.Time
	Logger            *zap.Logger
}

// Page describes the document the agent is mounted on.
type Page struct {
	Path        string
	Title       string
	Referrer    string
	UTMSource   string
	UTMMedium   string
	UTMCampaign string
	UserID      string
	DoNotTrack  bool
}

// PageFromURL fills Path and the utm_* attribution fields from a location.
func PageFromURL(rawURL, title, referrer string) (Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Page{}, err
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	q := u.Query()
	return Page{
		Path:        path,
		Title:       title,
		Referrer:    referrer,
		UTMSource:   q.Get("utm_source"),
		UTMMedium:   q.Get("utm_medium"),
		UTMCampaign: q.Get("utm_campaign"),
	}, nil
}

// MarkInternal flags this browser profile as staff traffic. Agents mounted
// afterwards stay disabled.
func MarkInternal(storage DurableStore) {
	storage.Set(InternalKey, "true")
}

type pendingView struct {
	seq uint64
	req models.PageViewRequest
}

// Agent is the tracking state for one tab. It is safe for concurrent use;
// the host typically calls it from its event handlers.
type Agent struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	state     State
	visitorID string
	sessionID string
	userID    string

	path         string
	pageViewID   string
	pageSeq      uint64
	visibleSince time.Time
	activeTime   time.Duration
	maxScroll    int

	stop chan struct{}
}

func New(cfg Config) *Agent {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.Storage == nil {
		cfg.Storage = NewMemoryStore()
	}
	if cfg.TabStore == nil {
		cfg.TabStore = NewMemoryStore()
	}
	if cfg.Transport == nil {
		cfg.Transport = NewHTTPTransport(cfg.Endpoint)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Agent{cfg: cfg, logger: cfg.Logger.With(zap.String("component", "tracker"))}
}

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

func (a *Agent) VisitorID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.visitorID
}

func (a *Agent) guard(op string) {
	if r := recover(); r != nil {
		a.logger.Error("tracker recovered from panic", zap.String("op", op), zap.Any("panic", r))
	}
}

func (a *Agent) post(ctx context.Context, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
	defer cancel()
	return a.cfg.Transport.Post(ctx, path, body, out)
}

func (a *Agent) tracking() bool {
	return a.state == Active || a.state == Suspended
}

// Mount runs once per page lifetime; later calls are ignored. It resumes the
// tab's session when the server still accepts it, sends the first page view
// and starts the heartbeat.
func (a *Agent) Mount(ctx context.Context, page Page) {
	defer a.guard("mount")

	first, ok := a.establish(ctx, page)
	if !ok {
		return
	}
	a.emitPageView(ctx, first)
	a.startHeartbeat()
}

// establish holds the lock across the session call so that nothing else can
// report before a session id exists.
func (a *Agent) establish(ctx context.Context, page Page) (pendingView, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != Uninitialized {
		return pendingView{}, false
	}
	a.state = Initializing

	visitor, found := a.cfg.Storage.Get(VisitorKey)
	if !found || visitor == "" {
		visitor = uuid.NewString()
		a.cfg.Storage.Set(VisitorKey, visitor)
	}
	a.visitorID = visitor

	if marker, _ := a.cfg.Storage.Get(InternalKey); isSet(marker) || page.DoNotTrack {
		a.state = Disabled
		a.logger.Debug("tracking disabled", zap.Bool("internal", isSet(marker)), zap.Bool("dnt", page.DoNotTrack))
		return pendingView{}, false
	}

	existing, _ := a.cfg.TabStore.Get(SessionKey)
	var res models.SessionResult
	err := a.post(ctx, "/session", models.SessionRequest{
		VisitorID:         visitor,
		ExistingSessionID: existing,
		UserID:            page.UserID,
		Referrer:          page.Referrer,
		UTMSource:         page.UTMSource,
		UTMMedium:         page.UTMMedium,
		UTMCampaign:       page.UTMCampaign,
	}, &res)
	if err != nil || res.SessionID == "" {
		a.state = Disabled
		a.logger.Debug("session could not be established", zap.Error(err))
		return pendingView{}, false
	}

	a.sessionID = res.SessionID
	a.userID = page.UserID
	a.cfg.TabStore.Set(SessionKey, res.SessionID)
	a.state = Active
	return a.beginPage(page.Path, page.Title), true
}

func isSet(marker string) bool {
	return marker != "" && marker != "0" && marker != "false"
}

// beginPage resets the per-page accumulators. Caller holds a.mu.
func (a *Agent) beginPage(path, title string) pendingView {
	a.pageSeq++
	a.path = path
	a.pageViewID = ""
	a.activeTime = 0
	a.maxScroll = 0
	a.visibleSince = a.cfg.Clock()
	return pendingView{
		seq: a.pageSeq,
		req: models.PageViewRequest{
			SessionID: a.sessionID,
			VisitorID: a.visitorID,
			UserID:    a.userID,
			Path:      path,
			Title:     title,
		},
	}
}

// takeEngagement snapshots the current page's metrics. Caller holds a.mu.
// It returns nil while the page view id is still unknown.
func (a *Agent) takeEngagement() *models.PageViewRequest {
	if a.pageViewID == "" {
		return nil
	}
	elapsed := a.activeTime
	if a.state == Active {
		elapsed += a.cfg.Clock().Sub(a.visibleSince)
	}
	seconds := int(elapsed.Round(time.Second) / time.Second)
	scroll := a.maxScroll
	return &models.PageViewRequest{
		PageViewID:  a.pageViewID,
		TimeOnPage:  &seconds,
		ScrollDepth: &scroll,
	}
}

func (a *Agent) emitPageView(ctx context.Context, pv pendingView) {
	var res models.PageViewResult
	if err := a.post(ctx, "/pageview", pv.req, &res); err != nil {
		a.logger.Debug("page view not recorded", zap.String("path", pv.req.Path), zap.Error(err))
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pageSeq == pv.seq {
		a.pageViewID = res.PageViewID
	}
}

func (a *Agent) sendEngagement(ctx context.Context, update *models.PageViewRequest) {
	if update == nil {
		return
	}
	if err := a.post(ctx, "/pageview", update, nil); err != nil {
		a.logger.Debug("engagement not recorded", zap.String("page_view_id", update.PageViewID), zap.Error(err))
	}
}

// Navigate reports a route change. The previous page's engagement is flushed
// first; a repeat of the current path is ignored.
func (a *Agent) Navigate(ctx context.Context, path, title string) {
	defer a.guard("navigate")

	a.mu.Lock()
	if !a.tracking() || path == a.path {
		a.mu.Unlock()
		return
	}
	flush := a.takeEngagement()
	next := a.beginPage(path, title)
	a.mu.Unlock()

	a.sendEngagement(ctx, flush)
	a.emitPageView(ctx, next)
}

// Hidden pauses time-on-page and flushes what has been measured so far.
func (a *Agent) Hidden(ctx context.Context) {
	defer a.guard("hidden")

	a.mu.Lock()
	if a.state != Active {
		a.mu.Unlock()
		return
	}
	a.activeTime += a.cfg.Clock().Sub(a.visibleSince)
	a.state = Suspended
	flush := a.takeEngagement()
	a.mu.Unlock()

	a.sendEngagement(ctx, flush)
}

// Visible resumes time-on-page from now; hidden time is not counted.
func (a *Agent) Visible() {
	defer a.guard("visible")

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == Suspended {
		a.visibleSince = a.cfg.Clock()
		a.state = Active
	}
}

// Scroll records the deepest scroll position seen on the current page.
func (a *Agent) Scroll(scrollTop, scrollHeight, viewportHeight float64) {
	defer a.guard("scroll")

	pct := ScrollPercent(scrollTop, scrollHeight, viewportHeight)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tracking() && pct > a.maxScroll {
		a.maxScroll = pct
	}
}

// ScrollPercent is how far through the scrollable height the viewport is.
// A page that cannot scroll counts as fully read.
func ScrollPercent(scrollTop, scrollHeight, viewportHeight float64) int {
	scrollable := scrollHeight - viewportHeight
	if scrollable <= 0 {
		return 100
	}
	return models.ClampScrollDepth(int(math.Round(scrollTop / scrollable * 100)))
}

// Unload ends the session. Both the final engagement and the end signal go
// through Beacon so that page teardown is never delayed.
func (a *Agent) Unload() {
	defer a.guard("unload")

	a.mu.Lock()
	if !a.tracking() {
		a.mu.Unlock()
		return
	}
	if a.state == Active {
		a.activeTime += a.cfg.Clock().Sub(a.visibleSince)
	}
	a.state = Ended
	flush := a.takeEngagement()
	sessionID := a.sessionID
	if a.stop != nil {
		close(a.stop)
		a.stop = nil
	}
	a.mu.Unlock()

	if flush != nil {
		a.cfg.Transport.Beacon("/pageview", flush)
	}
	a.cfg.Transport.Beacon("/heartbeat", models.HeartbeatRequest{SessionID: sessionID, End: true})
}

// TrackEvent fires a custom event for the current session. data is encoded
// as JSON; failures are dropped.
func (a *Agent) TrackEvent(ctx context.Context, name string, data any) {
	defer a.guard("track_event")

	a.mu.Lock()
	if !a.tracking() {
		a.mu.Unlock()
		return
	}
	req := models.EventRequest{
		SessionID: a.sessionID,
		VisitorID: a.visitorID,
		UserID:    a.userID,
		EventName: name,
		Path:      a.path,
	}
	a.mu.Unlock()

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			a.logger.Debug("event data not encodable", zap.String("event", name), zap.Error(err))
			return
		}
		req.EventData = raw
	}
	if err := a.post(ctx, "/event", req, nil); err != nil {
		a.logger.Debug("event not recorded", zap.String("event", name), zap.Error(err))
	}
}

func (a *Agent) startHeartbeat() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stop != nil || a.cfg.HeartbeatInterval < 0 || a.state != Active {
		return
	}
	a.stop = make(chan struct{})
	go a.heartbeatLoop(a.stop, a.cfg.HeartbeatInterval)
}

func (a *Agent) heartbeatLoop(stop <-chan struct{}, interval time.Duration) {
	defer a.guard("heartbeat")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.beat()
		}
	}
}

// beat extends the session. Hidden tabs stay quiet so that a background tab
// does not look like an engaged visitor.
func (a *Agent) beat() {
	a.mu.Lock()
	if a.state != Active {
		a.mu.Unlock()
		return
	}
	sessionID := a.sessionID
	a.mu.Unlock()

	if err := a.post(context.Background(), "/heartbeat", models.HeartbeatRequest{SessionID: sessionID}, nil); err != nil {
		a.logger.Debug("heartbeat failed", zap.Error(err))
	}
}

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"printshop/analytics/models"
	"printshop/analytics/utils"
)

// MemoryStore keeps sessions and page views in process. It backs
// STORE_DRIVER=memory and the service level tests.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*models.Session
	pageViews map[string]*models.PageView
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]*models.Session),
		pageViews: make(map[string]*models.PageView),
	}
}

// Backend exposes the memory store through both store interfaces.
func (m *MemoryStore) Backend() *Backend {
	return &Backend{
		Sessions:  m,
		PageViews: memoryPageViews{m},
		Close:     func(context.Context) error { return nil },
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, s *models.Session) (string, error) {
	if err := prepareSession(s, utils.NewID); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return "", fmt.Errorf("session '%s' already exists", s.ID)
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return s.ID, nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session '%s': %w", id, models.ErrNotFound)
	}
	return snapshotSession(s), nil
}

func (m *MemoryStore) Touch(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok && s.Open() && at.After(s.LastActiveAt) {
		s.LastActiveAt = at
	}
	return nil
}

func (m *MemoryStore) EndSession(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !s.Open() {
		return nil
	}
	if at.After(s.LastActiveAt) {
		s.LastActiveAt = at
	}
	end := s.LastActiveAt
	s.EndedAt = &end
	s.Duration = s.DurationSeconds()
	return nil
}

func (m *MemoryStore) IncrementPageViews(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	s.PageViewCount++
	if s.Open() && at.After(s.LastActiveAt) {
		s.LastActiveAt = at
	}
	return nil
}

func (m *MemoryStore) ActiveSince(_ context.Context, since time.Time) ([]models.Session, error) {
	out := m.filterSessions(func(s *models.Session) bool {
		return s.Open() && !s.LastActiveAt.Before(since)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].LastActiveAt.After(out[j].LastActiveAt) })
	return out, nil
}

func (m *MemoryStore) Recent(_ context.Context, limit int) ([]models.Session, error) {
	out := m.filterSessions(func(*models.Session) bool { return true })
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) InWindow(_ context.Context, start, end time.Time) ([]models.Session, error) {
	out := m.filterSessions(func(s *models.Session) bool {
		return !s.StartedAt.Before(start) && s.StartedAt.Before(end)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (m *MemoryStore) EndIdle(_ context.Context, idleBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if s.Open() && s.LastActiveAt.Before(idleBefore) {
			end := s.LastActiveAt
			s.EndedAt = &end
			s.Duration = s.DurationSeconds()
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) filterSessions(keep func(*models.Session) bool) []models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Session{}
	for _, s := range m.sessions {
		if keep(s) {
			out = append(out, *snapshotSession(s))
		}
	}
	return out
}

func snapshotSession(s *models.Session) *models.Session {
	cp := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		cp.EndedAt = &t
	}
	cp.Duration = cp.DurationSeconds()
	return &cp
}

// memoryPageViews gives MemoryStore a second method set, since both
// interfaces declare InWindow.
type memoryPageViews struct {
	m *MemoryStore
}

func (p memoryPageViews) CreatePageView(_ context.Context, pv *models.PageView) (string, error) {
	if err := preparePageView(pv, utils.NewID); err != nil {
		return "", err
	}

	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	cp := *pv
	p.m.pageViews[pv.ID] = &cp
	return pv.ID, nil
}

func (p memoryPageViews) UpdateEngagement(_ context.Context, id string, timeOnPage, scrollDepth *int) error {
	fields := engagementFields(timeOnPage, scrollDepth).Map()

	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	pv, ok := p.m.pageViews[id]
	if !ok {
		return nil
	}
	if v, ok := fields["time_on_page"].(int); ok {
		pv.TimeOnPage = &v
	}
	if v, ok := fields["scroll_depth"].(int); ok {
		pv.ScrollDepth = &v
	}
	return nil
}

func (p memoryPageViews) ListBySession(_ context.Context, sessionID string) ([]models.PageView, error) {
	out := p.filter(func(pv *models.PageView) bool { return pv.SessionID == sessionID })
	return out, nil
}

func (p memoryPageViews) InWindow(_ context.Context, start, end time.Time) ([]models.PageView, error) {
	out := p.filter(func(pv *models.PageView) bool {
		return !pv.Timestamp.Before(start) && pv.Timestamp.Before(end)
	})
	return out, nil
}

func (p memoryPageViews) filter(keep func(*models.PageView) bool) []models.PageView {
	p.m.mu.RLock()
	defer p.m.mu.RUnlock()
	out := []models.PageView{}
	for _, pv := range p.m.pageViews {
		if keep(pv) {
			cp := *pv
			if pv.TimeOnPage != nil {
				v := *pv.TimeOnPage
				cp.TimeOnPage = &v
			}
			if pv.ScrollDepth != nil {
				v := *pv.ScrollDepth
				cp.ScrollDepth = &v
			}
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

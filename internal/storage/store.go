package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/example/minyan-finder/internal/models"
)

// ReportFilter narrows ListReports. Zero values mean "no filter".
type ReportFilter struct {
	SynagogueID string
	PrayerType  models.PrayerType
	Status      models.ReportStatus
	Limit       int
}

// Store defines persistence operations for the core. Implementations must
// make AddVerifier an atomic set-union: concurrent calls for different
// verifiers both land, repeated calls for the same verifier never
// double-add.
type Store interface {
	CreateSynagogue(ctx context.Context, s *models.Synagogue) error
	GetSynagogue(ctx context.Context, id string) (*models.Synagogue, error)
	ListSynagogues(ctx context.Context) ([]models.Synagogue, error)

	SchedulesBySynagogue(ctx context.Context, synagogueID string) ([]models.PrayerSchedule, error)
	PhotosBySynagogue(ctx context.Context, synagogueID string, limit int) ([]models.SynagoguePhoto, error)
	ReviewsBySynagogue(ctx context.Context, synagogueID string) ([]models.Review, error)
	GetUser(ctx context.Context, id string) (*models.User, error)

	CreateReport(ctx context.Context, r *models.MinyanReport) error
	GetReport(ctx context.Context, id string) (*models.MinyanReport, error)
	AddVerifier(ctx context.Context, reportID, verifierID string) (*models.MinyanReport, error)
	ListReports(ctx context.Context, f ReportFilter) ([]models.MinyanReport, error)
}

// MemoryStore keeps everything behind one RWMutex. Used in tests and when
// no Postgres DSN is configured.
type MemoryStore struct {
	mu         sync.RWMutex
	synagogues map[string]*models.Synagogue
	schedules  map[string][]models.PrayerSchedule
	photos     map[string][]models.SynagoguePhoto
	reviews    map[string][]models.Review
	users      map[string]*models.User
	reports    map[string]*models.MinyanReport
	order      []string // report ids in insertion order, for stable ties
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		synagogues: make(map[string]*models.Synagogue),
		schedules:  make(map[string][]models.PrayerSchedule),
		photos:     make(map[string][]models.SynagoguePhoto),
		reviews:    make(map[string][]models.Review),
		users:      make(map[string]*models.User),
		reports:    make(map[string]*models.MinyanReport),
	}
}

func (m *MemoryStore) CreateSynagogue(ctx context.Context, s *models.Synagogue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.synagogues[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSynagogue(ctx context.Context, id string) (*models.Synagogue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.synagogues[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListSynagogues(ctx context.Context) ([]models.Synagogue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Synagogue, 0, len(m.synagogues))
	for _, s := range m.synagogues {
		out = append(out, *s)
	}
	// map iteration order is random; keep the corpus deterministic
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) SchedulesBySynagogue(ctx context.Context, synagogueID string) ([]models.PrayerSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.PrayerSchedule(nil), m.schedules[synagogueID]...), nil
}

// PutSchedule upserts reference data honoring the (synagogue, day, prayer)
// uniqueness invariant.
func (m *MemoryStore) PutSchedule(s models.PrayerSchedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.schedules[s.SynagogueID]
	for i, existing := range list {
		if existing.DayOfWeek == s.DayOfWeek && existing.PrayerType == s.PrayerType {
			list[i] = s
			return
		}
	}
	m.schedules[s.SynagogueID] = append(list, s)
}

func (m *MemoryStore) PhotosBySynagogue(ctx context.Context, synagogueID string, limit int) ([]models.SynagoguePhoto, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := append([]models.SynagoguePhoto(nil), m.photos[synagogueID]...)
	// primary photos first, so a limit cuts the same tail as the SQL query
	sort.SliceStable(list, func(i, j int) bool { return list[i].IsPrimary && !list[j].IsPrimary })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (m *MemoryStore) PutPhoto(p models.SynagoguePhoto) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.photos[p.SynagogueID] = append(m.photos[p.SynagogueID], p)
}

func (m *MemoryStore) ReviewsBySynagogue(ctx context.Context, synagogueID string) ([]models.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Review(nil), m.reviews[synagogueID]...), nil
}

func (m *MemoryStore) PutReview(r models.Review) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reviews[r.SynagogueID] = append(m.reviews[r.SynagogueID], r)
}

func (m *MemoryStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) PutUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = &u
}

func (m *MemoryStore) CreateReport(ctx context.Context, r *models.MinyanReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	cp.VerifiedBy = append([]string(nil), r.VerifiedBy...)
	m.reports[r.ID] = &cp
	m.order = append(m.order, r.ID)
	return nil
}

func (m *MemoryStore) GetReport(ctx context.Context, id string) (*models.MinyanReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyReport(r), nil
}

// AddVerifier performs the set-union under the write lock, so two racing
// calls serialize and the same verifier can never be counted twice.
func (m *MemoryStore) AddVerifier(ctx context.Context, reportID, verifierID string) (*models.MinyanReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[reportID]
	if !ok {
		return nil, models.ErrNotFound
	}
	present := false
	for _, v := range r.VerifiedBy {
		if v == verifierID {
			present = true
			break
		}
	}
	if !present {
		r.VerifiedBy = append(r.VerifiedBy, verifierID)
	}
	r.IsVerified = r.Verified()
	return copyReport(r), nil
}

func (m *MemoryStore) ListReports(ctx context.Context, f ReportFilter) ([]models.MinyanReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.MinyanReport, 0)
	// walk newest-insertion-first so equal timestamps stay stable under the sort
	for i := len(m.order) - 1; i >= 0; i-- {
		r := m.reports[m.order[i]]
		if f.SynagogueID != "" && r.SynagogueID != f.SynagogueID {
			continue
		}
		if f.PrayerType != "" && r.PrayerType != f.PrayerType {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, *copyReport(r))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReportTime.After(out[j].ReportTime) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func copyReport(r *models.MinyanReport) *models.MinyanReport {
	cp := *r
	cp.VerifiedBy = append([]string(nil), r.VerifiedBy...)
	if r.MinyanCount != nil {
		v := *r.MinyanCount
		cp.MinyanCount = &v
	}
	if r.NeedsMore != nil {
		v := *r.NeedsMore
		cp.NeedsMore = &v
	}
	return &cp
}

package session

import (
	"context"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebtcheng/insighted-monitor/internal/diag"
	"github.com/sebtcheng/insighted-monitor/internal/model"
	"github.com/sebtcheng/insighted-monitor/internal/roster"
)

// fakeStore is an in-memory live.Store with switchable failures and a gate
// for exercising the stale-fetch guard.
type fakeStore struct {
	mu          sync.Mutex
	submissions map[string][]model.LiveSubmissionEntry
	counts      map[string]model.NodeCounts
	childCounts map[string]map[string]model.NodeCounts
	projects    map[string]model.ProjectStats
	listCalls   map[string]int
	failList    bool
	listGate    chan struct{}
	listStarted chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		submissions: make(map[string][]model.LiveSubmissionEntry),
		counts:      make(map[string]model.NodeCounts),
		childCounts: make(map[string]map[string]model.NodeCounts),
		projects:    make(map[string]model.ProjectStats),
		listCalls:   make(map[string]int),
	}
}

func (f *fakeStore) ListSubmissions(ctx context.Context, path model.JurisdictionPath) ([]model.LiveSubmissionEntry, error) {
	f.mu.Lock()
	f.listCalls[path.Key()]++
	fail, gate, started := f.failList, f.listGate, f.listStarted
	entries := f.submissions[path.Key()]
	f.mu.Unlock()

	if gate != nil {
		if started != nil {
			started <- struct{}{}
		}
		<-gate
	}
	if fail {
		return nil, eris.New("ledger unreachable")
	}
	return entries, nil
}

func (f *fakeStore) NodeCounts(ctx context.Context, path model.JurisdictionPath) (*model.NodeCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.counts[path.Key()]; ok {
		return &c, nil
	}
	return nil, nil
}

func (f *fakeStore) ChildCounts(ctx context.Context, path model.JurisdictionPath) (map[string]model.NodeCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.childCounts[path.Key()], nil
}

func (f *fakeStore) ProjectStats(ctx context.Context, path model.JurisdictionPath) (model.ProjectStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.projects[path.Key()], nil
}

func (f *fakeStore) Migrate(ctx context.Context) error { return nil }
func (f *fakeStore) Ping(ctx context.Context) error    { return nil }
func (f *fakeStore) Close() error                      { return nil }

func (f *fakeStore) calls(path model.JurisdictionPath) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls[path.Key()]
}

func pct(v float64) *float64 { return &v }

func jp(region, division, district string) model.JurisdictionPath {
	return model.JurisdictionPath{Region: region, Division: division, District: district}
}

func testRoster() *roster.Roster {
	return roster.New([]model.RosterEntry{
		{SchoolID: "100001", SchoolName: "Mabini ES", Region: "Region I", Division: "Ilocos Norte", District: "Laoag North"},
		{SchoolID: "100002", SchoolName: "Aguinaldo ES", Region: "Region I", Division: "Ilocos Norte", District: "Laoag South"},
		{SchoolID: "100003", SchoolName: "Rizal ES", Region: "Region I", Division: "Ilocos Sur"},
		{SchoolID: "100004", SchoolName: "Luna ES", Region: "Region II", Division: "Isabela"},
	}, 0)
}

func seedStore(f *fakeStore) {
	rootKey := model.JurisdictionPath{}.Key()
	f.submissions[rootKey] = []model.LiveSubmissionEntry{
		{SchoolID: "100001", SchoolName: "Mabini ES", CompletionPercentage: pct(100), ValidationStatus: model.ValidationValidated},
		{SchoolID: "100003", SchoolName: "Rizal ES", CompletionPercentage: pct(50)},
	}
	f.childCounts[rootKey] = map[string]model.NodeCounts{
		"Region I":  {TotalSchools: 2, CompletedSchools: 1, ValidatedSchools: 1, ForValidationSchools: 0},
		"Region II": {ForValidationSchools: -1},
	}

	r1 := jp("Region I", "", "").Key()
	f.submissions[r1] = []model.LiveSubmissionEntry{
		{SchoolID: "100001", SchoolName: "Mabini ES", District: "Laoag North", CompletionPercentage: pct(100), ValidationStatus: model.ValidationValidated},
		{SchoolID: "100003", SchoolName: "Rizal ES", CompletionPercentage: pct(50)},
	}
	f.counts[r1] = model.NodeCounts{TotalSchools: 2, CompletedSchools: 1, ValidatedSchools: 1, ForValidationSchools: 0}
	f.childCounts[r1] = map[string]model.NodeCounts{
		"Ilocos Norte": {TotalSchools: 1, CompletedSchools: 1, ValidatedSchools: 1, ForValidationSchools: 0},
		"Ilocos Sur":   {TotalSchools: 1, ForValidationSchools: -1},
	}
	f.projects[r1] = model.ProjectStats{TotalProjects: 3, OngoingProjects: 2, CompletedProjects: 1}
}

func nationalSession(t *testing.T) (*Session, *fakeStore, *diag.Counters) {
	t.Helper()
	store := newFakeStore()
	seedStore(store)
	d := diag.NewCounters()
	s := New(model.RoleScope{Role: model.RoleNational}, testRoster(), store, d)
	require.NoError(t, s.Load(context.Background()))
	return s, store, d
}

func TestSession_LoadNationalRoot(t *testing.T) {
	s, _, _ := nationalSession(t)
	snap := s.View()

	assert.Equal(t, model.LevelNational, snap.Level)
	assert.Nil(t, snap.Pinned)
	// 4 roster schools, 2 submissions: denominator is the roster.
	assert.Equal(t, 4, snap.Stats.TotalSchools)
	assert.Equal(t, 1, snap.Stats.CompletedSchools)
	assert.Equal(t, 4, snap.Schools.Total)

	require.Len(t, snap.Children, 2)
	assert.Equal(t, "Region I", snap.Children[0].Segment)
	assert.Equal(t, 3, snap.Children[0].Stats.TotalSchools) // roster 3 beats ledger 2
	assert.Equal(t, "Region II", snap.Children[1].Segment)
	assert.Equal(t, 1, snap.Children[1].Stats.TotalSchools)
}

func TestSession_DescendAndBack(t *testing.T) {
	s, store, _ := nationalSession(t)

	require.NoError(t, s.Descend(context.Background(), "Region I"))
	snap := s.View()
	assert.Equal(t, model.LevelRegional, snap.Level)
	assert.Equal(t, "Region I", snap.Path.Region)
	assert.Equal(t, 3, snap.Stats.TotalSchools)
	assert.Equal(t, 3, snap.Stats.Projects.TotalProjects)
	require.Len(t, snap.Children, 2)
	assert.Equal(t, "Ilocos Norte", snap.Children[0].Segment)

	rootCalls := store.calls(model.JurisdictionPath{})
	s.Back()
	snap = s.View()
	assert.Equal(t, model.LevelNational, snap.Level)
	assert.Equal(t, rootCalls, store.calls(model.JurisdictionPath{}), "back must not refetch")

	// Back at the root is a no-op.
	s.Back()
	assert.Equal(t, model.LevelNational, s.View().Level)
}

func TestSession_DescendNormalizesSegment(t *testing.T) {
	s, _, _ := nationalSession(t)
	require.NoError(t, s.Descend(context.Background(), "  REGION I "))
	assert.Equal(t, "Region I", s.View().Path.Region)
}

func TestSession_DescendUnknownSegment(t *testing.T) {
	s, _, _ := nationalSession(t)
	err := s.Descend(context.Background(), "Region XIII")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown child segment")
	assert.Equal(t, model.LevelNational, s.View().Level, "state unchanged")
}

func TestSession_FetchFailureKeepsLastGoodState(t *testing.T) {
	s, store, d := nationalSession(t)
	before := s.View()

	store.mu.Lock()
	store.failList = true
	store.mu.Unlock()

	err := s.Descend(context.Background(), "Region I")
	require.Error(t, err)

	after := s.View()
	assert.Equal(t, before.Path, after.Path)
	assert.Equal(t, before.Stats, after.Stats)
	assert.Equal(t, int64(1), d.Snapshot().SourceFailures)
}

func TestSession_StaleRefreshDiscarded(t *testing.T) {
	s, store, d := nationalSession(t)
	require.NoError(t, s.Descend(context.Background(), "Region I"))

	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	store.mu.Lock()
	store.listGate = gate
	store.listStarted = started
	store.mu.Unlock()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Refresh(context.Background()) }()
	<-started

	// The viewer navigates away while the refresh is in flight.
	s.Back()
	store.mu.Lock()
	store.listGate = nil
	store.mu.Unlock()
	close(gate)

	err := <-errCh
	assert.ErrorIs(t, err, ErrStale)
	assert.Equal(t, int64(1), d.Snapshot().StaleFetchesDiscarded)
	assert.Equal(t, model.LevelNational, s.View().Level)
}

func TestSession_PinnedStatsForRegionalScope(t *testing.T) {
	store := newFakeStore()
	seedStore(store)
	d := diag.NewCounters()
	scope := model.RoleScope{Role: model.RoleRegional, EffectiveRegion: "Region I"}
	s := New(scope, testRoster(), store, d)
	require.NoError(t, s.Load(context.Background()))

	snap := s.View()
	assert.Equal(t, "Region I", snap.Path.Region, "drill-down starts at the pinned region")
	require.NotNil(t, snap.Pinned)
	assert.Equal(t, 3, snap.Pinned.TotalSchools)
	assert.Equal(t, 1, snap.Pinned.CompletedSchools)

	// The pin survives descending.
	require.NoError(t, s.Descend(context.Background(), "Ilocos Norte"))
	snap = s.View()
	assert.Equal(t, model.LevelDivisional, snap.Level)
	require.NotNil(t, snap.Pinned)
	assert.Equal(t, 3, snap.Pinned.TotalSchools)
}

func TestSession_LedgerOnlyChildFlagged(t *testing.T) {
	store := newFakeStore()
	seedStore(store)
	store.childCounts[model.JurisdictionPath{}.Key()]["Region XIII"] = model.NodeCounts{
		TotalSchools: 5, ForValidationSchools: -1,
	}

	s := New(model.RoleScope{Role: model.RoleNational}, testRoster(), store, diag.NewCounters())
	require.NoError(t, s.Load(context.Background()))

	snap := s.View()
	require.Len(t, snap.Children, 3)
	last := snap.Children[2]
	assert.Equal(t, "Region XIII", last.Segment)
	assert.True(t, last.LedgerOnly)
	assert.Equal(t, 5, last.Stats.TotalSchools)
}

func TestSession_SearchSortPaginate(t *testing.T) {
	s, _, _ := nationalSession(t)

	s.SetSort(SortByCompletion, true)
	snap := s.View()
	require.NotEmpty(t, snap.Schools.Records)
	assert.Equal(t, "Mabini ES", snap.Schools.Records[0].SchoolName, "highest completion first")

	s.SetSearch("rizal")
	snap = s.View()
	assert.Equal(t, 1, snap.Schools.Total)
	assert.Equal(t, "Rizal ES", snap.Schools.Records[0].SchoolName)
	assert.Equal(t, 1, snap.Schools.Page)

	s.SetSearch("")
	snap = s.View()
	assert.Equal(t, 4, snap.Schools.Total)
}

func TestSession_PageResetAndClamp(t *testing.T) {
	s, _, _ := nationalSession(t)

	s.SetPage(99)
	snap := s.View()
	assert.Equal(t, 1, snap.Schools.Page, "out-of-range page clamps to the last page")

	s.SetPage(1)
	s.SetSearch("es")
	s.SetPage(5)
	s.SetSort(SortByCompletion, false)
	snap = s.View()
	assert.Equal(t, 1, snap.Schools.Page, "sort change resets to page 1")
}

func TestSession_SearchByIDSubstring(t *testing.T) {
	s, _, _ := nationalSession(t)
	s.SetSearch("10000")
	assert.Equal(t, 4, s.View().Schools.Total)

	// Any fragment of the identifier matches, not just a leading one.
	s.SetSearch("0004")
	snap := s.View()
	require.Equal(t, 1, snap.Schools.Total)
	assert.Equal(t, "Luna ES", snap.Schools.Records[0].SchoolName)
}

func TestListSchools_DescendingTiesKeepNameOrder(t *testing.T) {
	records := []model.MergedSchoolRecord{
		{SchoolID: "1", SchoolName: "Alpha ES", CompletionPercentage: pct(100)},
		{SchoolID: "2", SchoolName: "Beta ES", CompletionPercentage: pct(100)},
		{SchoolID: "3", SchoolName: "Gamma ES", CompletionPercentage: pct(40)},
	}

	page := listSchools(records, ListQuery{SortBy: SortByCompletion, SortDesc: true})
	require.Len(t, page.Records, 3)
	// Direction flips the percentage only; tied records keep name order.
	assert.Equal(t, "Alpha ES", page.Records[0].SchoolName)
	assert.Equal(t, "Beta ES", page.Records[1].SchoolName)
	assert.Equal(t, "Gamma ES", page.Records[2].SchoolName)
}

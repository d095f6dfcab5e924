// Package session drives one viewer's drill-down through the jurisdiction
// tree. A session owns a stack of visited levels so Back never refetches,
// reconciles roster and ledger on every descent, and keeps the last good
// state when a fetch fails. All methods are safe for concurrent use.
package session

import (
	"cmp"
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/sebtcheng/insighted-monitor/internal/diag"
	"github.com/sebtcheng/insighted-monitor/internal/live"
	"github.com/sebtcheng/insighted-monitor/internal/merge"
	"github.com/sebtcheng/insighted-monitor/internal/model"
	"github.com/sebtcheng/insighted-monitor/internal/normalize"
	"github.com/sebtcheng/insighted-monitor/internal/roster"
	"github.com/sebtcheng/insighted-monitor/internal/rollup"
)

// ErrStale reports that a fetch finished after a newer navigation superseded
// it. The session state is untouched; the result was discarded.
var ErrStale = eris.New("session: fetch superseded by newer navigation")

// ErrUnknownSegment reports a descent into a child that neither the roster
// catalog nor the ledger knows.
var ErrUnknownSegment = eris.New("session: unknown child segment")

const defaultPageSize = 20

// SortField selects the school list ordering.
type SortField string

const (
	SortByName       SortField = "name"
	SortByCompletion SortField = "completion"
	SortByValidation SortField = "validation"
	SortByHealth     SortField = "health"
)

// ListQuery holds the school list controls for the current level. Changing
// search or sort resets the page to 1; so does descending.
type ListQuery struct {
	Search   string    `json:"search,omitempty"`
	SortBy   SortField `json:"sort_by"`
	SortDesc bool      `json:"sort_desc"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
}

// ChildCard is one child jurisdiction summary shown at the current level.
// LedgerOnly marks children the ledger reports but the roster has never
// heard of.
type ChildCard struct {
	Segment    string                  `json:"segment"`
	Stats      model.JurisdictionStats `json:"stats"`
	LedgerOnly bool                    `json:"ledger_only,omitempty"`
}

// SchoolPage is one page of the reconciled school list.
type SchoolPage struct {
	Records    []model.MergedSchoolRecord `json:"records"`
	Total      int                        `json:"total"`
	Page       int                        `json:"page"`
	PageSize   int                        `json:"page_size"`
	TotalPages int                        `json:"total_pages"`
	Query      ListQuery                  `json:"query"`
}

// Snapshot is the full view state for rendering one level.
type Snapshot struct {
	Scope       model.RoleScope          `json:"scope"`
	Path        model.JurisdictionPath   `json:"path"`
	Level       model.Level              `json:"level"`
	Stats       model.JurisdictionStats  `json:"stats"`
	Pinned      *model.JurisdictionStats `json:"pinned,omitempty"`
	Children    []ChildCard              `json:"children"`
	Schools     SchoolPage               `json:"schools"`
	Violations  []string                 `json:"violations,omitempty"`
	RefreshedAt time.Time                `json:"refreshed_at"`
}

// levelState caches everything fetched and derived for one visited level.
type levelState struct {
	path       model.JurisdictionPath
	merged     merge.Result
	stats      model.JurisdictionStats
	violations []rollup.Violation
	children   []ChildCard
	projects   model.ProjectStats
	query      ListQuery
	fetchedAt  time.Time
}

// Session is one viewer's navigation state.
type Session struct {
	scope  model.RoleScope
	roster *roster.Roster
	store  live.Store
	diag   *diag.Counters

	gen atomic.Int64

	mu          sync.Mutex
	stack       []*levelState
	pinnedStats *model.JurisdictionStats
}

// New creates a session for the resolved scope. Call Load before View.
func New(scope model.RoleScope, r *roster.Roster, store live.Store, d *diag.Counters) *Session {
	return &Session{scope: scope, roster: r, store: store, diag: d}
}

// rootPath is where the drill-down starts: the pinned jurisdiction for field
// scopes, the national root otherwise.
func (s *Session) rootPath() model.JurisdictionPath {
	if pinned, ok := s.scope.PinnedPath(); ok {
		return pinned
	}
	return model.JurisdictionPath{}
}

// Load performs the initial fetch for the root level and the pinned stats.
func (s *Session) Load(ctx context.Context) error {
	gen := s.gen.Add(1)

	state, pinned, err := s.fetchLevelAndPinned(ctx, s.rootPath())
	if err != nil {
		s.noteFailure(err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen.Load() != gen {
		s.diag.StaleFetchDiscarded()
		return ErrStale
	}
	s.stack = []*levelState{state}
	s.pinnedStats = pinned
	return nil
}

// Descend navigates into a child segment of the current level. The segment
// must exist among the current children; the school list controls reset.
func (s *Session) Descend(ctx context.Context, segment string) error {
	s.mu.Lock()
	if len(s.stack) == 0 {
		s.mu.Unlock()
		return eris.New("session: not loaded")
	}
	current := s.stack[len(s.stack)-1]
	display, ok := findChild(current.children, segment)
	if !ok {
		s.mu.Unlock()
		return eris.Wrapf(ErrUnknownSegment, "%q under %q", segment, current.path.Key())
	}
	child := current.path.Child(display)
	s.mu.Unlock()

	gen := s.gen.Add(1)
	state, err := s.fetchLevel(ctx, child)
	if err != nil {
		s.noteFailure(err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen.Load() != gen {
		s.diag.StaleFetchDiscarded()
		return ErrStale
	}
	s.stack = append(s.stack, state)
	return nil
}

// Back pops to the parent level using the cached state. No refetch happens.
// Backing out of the root is a no-op.
func (s *Session) Back() {
	// Invalidate any in-flight descent so it cannot land on the old stack.
	s.gen.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) > 1 {
		s.stack = s.stack[:len(s.stack)-1]
	}
}

// Refresh refetches the current level and the pinned stats, keeping the
// school list controls. On failure the previous state stays.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if len(s.stack) == 0 {
		s.mu.Unlock()
		return eris.New("session: not loaded")
	}
	current := s.stack[len(s.stack)-1]
	path, query := current.path, current.query
	s.mu.Unlock()

	gen := s.gen.Add(1)
	state, pinned, err := s.fetchLevelAndPinned(ctx, path)
	if err != nil {
		s.noteFailure(err)
		return err
	}
	state.query = query

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen.Load() != gen {
		s.diag.StaleFetchDiscarded()
		return ErrStale
	}
	s.stack[len(s.stack)-1] = state
	s.pinnedStats = pinned
	return nil
}

// SetSearch filters the school list and resets to page 1.
func (s *Session) SetSearch(query string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) == 0 {
		return
	}
	q := &s.stack[len(s.stack)-1].query
	if q.Search != query {
		q.Search = query
		q.Page = 1
	}
}

// SetSort orders the school list and resets to page 1.
func (s *Session) SetSort(field SortField, desc bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) == 0 {
		return
	}
	q := &s.stack[len(s.stack)-1].query
	if q.SortBy != field || q.SortDesc != desc {
		q.SortBy = field
		q.SortDesc = desc
		q.Page = 1
	}
}

// SetPage moves to the given page. Out-of-range pages clamp when the list
// is rendered.
func (s *Session) SetPage(page int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) == 0 || page < 1 {
		return
	}
	s.stack[len(s.stack)-1].query.Page = page
}

// View renders the current level. The school list applies the level's
// search, sort, and pagination controls.
func (s *Session) View() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) == 0 {
		return Snapshot{Scope: s.scope}
	}
	current := s.stack[len(s.stack)-1]

	var violations []string
	for _, v := range current.violations {
		violations = append(violations, v.String())
	}

	return Snapshot{
		Scope:       s.scope,
		Path:        current.path,
		Level:       current.path.Level(),
		Stats:       current.stats,
		Pinned:      s.pinnedStats,
		Children:    current.children,
		Schools:     listSchools(current.merged.Records, current.query),
		Violations:  violations,
		RefreshedAt: current.fetchedAt,
	}
}

// Inspect fetches, reconciles, and renders a single level without any
// navigation state, for stateless queries. Pinned stats follow the scope as
// in a full session. The path is not validated against the roster catalog;
// an empty subtree renders as zeros.
func Inspect(ctx context.Context, sc model.RoleScope, r *roster.Roster, store live.Store, d *diag.Counters, path model.JurisdictionPath, q ListQuery) (Snapshot, error) {
	s := New(sc, r, store, d)
	state, pinned, err := s.fetchLevelAndPinned(ctx, path)
	if err != nil {
		s.noteFailure(err)
		return Snapshot{}, err
	}
	state.query = q
	s.stack = []*levelState{state}
	s.pinnedStats = pinned
	return s.View(), nil
}

// Path returns the current jurisdiction path.
func (s *Session) Path() model.JurisdictionPath {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) == 0 {
		return model.JurisdictionPath{}
	}
	return s.stack[len(s.stack)-1].path
}

func (s *Session) noteFailure(err error) {
	s.diag.SourceFailure()
	zap.L().Warn("source fetch failed, keeping last good state", zap.Error(err))
}

// fetchLevelAndPinned fetches a level plus the pinned headline stats. For
// unpinned scopes the pinned stats are nil.
func (s *Session) fetchLevelAndPinned(ctx context.Context, path model.JurisdictionPath) (*levelState, *model.JurisdictionStats, error) {
	pinnedPath, pinned := s.scope.PinnedPath()

	var state *levelState
	var pinnedStats *model.JurisdictionStats

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		st, err := s.fetchLevel(gctx, path)
		if err != nil {
			return err
		}
		state = st
		return nil
	})
	if pinned {
		g.Go(func() error {
			st, err := s.fetchPinned(gctx, pinnedPath)
			if err != nil {
				return err
			}
			pinnedStats = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return state, pinnedStats, nil
}

// fetchPinned builds the headline stats for a pinned jurisdiction from the
// backend's pre-aggregated counts; it never needs the full record set.
func (s *Session) fetchPinned(ctx context.Context, path model.JurisdictionPath) (*model.JurisdictionStats, error) {
	var counts *model.NodeCounts
	var projects model.ProjectStats

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := s.store.NodeCounts(gctx, path)
		if err != nil {
			return eris.Wrap(err, "session: pinned node counts")
		}
		counts = c
		return nil
	})
	g.Go(func() error {
		p, err := s.store.ProjectStats(gctx, path)
		if err != nil {
			return eris.Wrap(err, "session: pinned project stats")
		}
		projects = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if counts == nil {
		counts = &model.NodeCounts{ForValidationSchools: -1}
	}
	stats, violations := rollup.FromCounts(path, s.roster.Count(path), *counts, projects)
	for range violations {
		s.diag.MergeIntegrityViolation()
	}
	return &stats, nil
}

// fetchLevel pulls roster, ledger, and project data for one path
// concurrently, reconciles, and aggregates.
func (s *Session) fetchLevel(ctx context.Context, path model.JurisdictionPath) (*levelState, error) {
	var (
		submissions []model.LiveSubmissionEntry
		counts      *model.NodeCounts
		childCounts map[string]model.NodeCounts
		projects    model.ProjectStats
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	g.Go(func() error {
		entries, err := s.store.ListSubmissions(gctx, path)
		if err != nil {
			return eris.Wrap(err, "session: list submissions")
		}
		submissions = entries
		return nil
	})
	g.Go(func() error {
		c, err := s.store.NodeCounts(gctx, path)
		if err != nil {
			return eris.Wrap(err, "session: node counts")
		}
		counts = c
		return nil
	})
	g.Go(func() error {
		c, err := s.store.ChildCounts(gctx, path)
		if err != nil {
			return eris.Wrap(err, "session: child counts")
		}
		childCounts = c
		return nil
	})
	g.Go(func() error {
		p, err := s.store.ProjectStats(gctx, path)
		if err != nil {
			return eris.Wrap(err, "session: project stats")
		}
		projects = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := merge.Reconcile(s.roster.Filter(path), submissions, path)
	stats, violations := rollup.Aggregate(path, merged, counts, projects)
	for range violations {
		s.diag.MergeIntegrityViolation()
	}

	children, childViolations := s.buildChildren(path, childCounts)
	violations = append(violations, childViolations...)

	return &levelState{
		path:       path,
		merged:     merged,
		stats:      stats,
		violations: violations,
		children:   children,
		projects:   projects,
		query:      ListQuery{SortBy: SortByName, Page: 1, PageSize: defaultPageSize},
		fetchedAt:  time.Now().UTC(),
	}, nil
}

// buildChildren joins the roster's child catalog with the ledger's grouped
// counts. Catalog children missing from the ledger get zero counts; ledger
// children missing from the catalog are appended and flagged.
func (s *Session) buildChildren(path model.JurisdictionPath, childCounts map[string]model.NodeCounts) ([]ChildCard, []rollup.Violation) {
	countsByKey := make(map[string]model.NodeCounts, len(childCounts))
	seen := make(map[string]bool, len(childCounts))
	for segment, c := range childCounts {
		countsByKey[normalize.Name(segment)] = c
	}

	var cards []ChildCard
	var violations []rollup.Violation

	for _, segment := range s.roster.ChildSegments(path) {
		childPath := path.Child(segment)
		key := normalize.Name(segment)
		seen[key] = true

		counts, ok := countsByKey[key]
		if !ok {
			counts = model.NodeCounts{ForValidationSchools: -1}
		}
		stats, v := rollup.FromCounts(childPath, s.roster.Count(childPath), counts, model.ProjectStats{})
		violations = append(violations, v...)
		cards = append(cards, ChildCard{Segment: segment, Stats: stats})
	}

	// Ledger drift: children the roster does not know.
	var extra []ChildCard
	for segment, counts := range childCounts {
		if seen[normalize.Name(segment)] {
			continue
		}
		childPath := path.Child(segment)
		stats, v := rollup.FromCounts(childPath, 0, counts, model.ProjectStats{})
		violations = append(violations, v...)
		extra = append(extra, ChildCard{Segment: segment, Stats: stats, LedgerOnly: true})
	}
	c := collate.New(language.Und, collate.IgnoreCase)
	sort.Slice(extra, func(i, j int) bool { return c.CompareString(extra[i].Segment, extra[j].Segment) < 0 })

	return append(cards, extra...), violations
}

func findChild(children []ChildCard, segment string) (string, bool) {
	key := normalize.Name(segment)
	for _, c := range children {
		if normalize.Name(c.Segment) == key {
			return c.Segment, true
		}
	}
	return "", false
}

// listSchools applies search, sort, and pagination to the reconciled records.
func listSchools(records []model.MergedSchoolRecord, q ListQuery) SchoolPage {
	if q.PageSize <= 0 {
		q.PageSize = defaultPageSize
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.SortBy == "" {
		q.SortBy = SortByName
	}

	filtered := records
	if q.Search != "" {
		needle := normalize.Name(q.Search)
		filtered = nil
		for _, r := range records {
			if strings.Contains(normalize.Name(r.SchoolName), needle) ||
				strings.Contains(r.SchoolID, strings.TrimSpace(q.Search)) {
				filtered = append(filtered, r)
			}
		}
	}

	sorted := make([]model.MergedSchoolRecord, len(filtered))
	copy(sorted, filtered)
	sortSchools(sorted, q.SortBy, q.SortDesc)

	total := len(sorted)
	totalPages := (total + q.PageSize - 1) / q.PageSize
	if totalPages == 0 {
		totalPages = 1
	}
	if q.Page > totalPages {
		q.Page = totalPages
	}

	start := (q.Page - 1) * q.PageSize
	end := min(start+q.PageSize, total)
	var page []model.MergedSchoolRecord
	if start < total {
		page = sorted[start:end]
	}

	return SchoolPage{
		Records:    page,
		Total:      total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: totalPages,
		Query:      q,
	}
}

// validationRank orders statuses for sorting: validated ahead of
// for-validation ahead of unvalidated.
func validationRank(v model.ValidationStatus) int {
	switch v {
	case model.ValidationValidated:
		return 2
	case model.ValidationForValidation:
		return 1
	default:
		return 0
	}
}

// sortSchools orders by the selected field, with direction applied to that
// field only. Ties always fall back to ascending name then ID, so the merge
// order shows through regardless of direction.
func sortSchools(records []model.MergedSchoolRecord, by SortField, desc bool) {
	c := collate.New(language.Und, collate.IgnoreCase)
	primary := func(a, b model.MergedSchoolRecord) int {
		switch by {
		case SortByCompletion:
			return cmp.Compare(a.EffectivePercentage(), b.EffectivePercentage())
		case SortByValidation:
			return cmp.Compare(validationRank(a.ValidationStatus), validationRank(b.ValidationStatus))
		case SortByHealth:
			return cmp.Compare(a.DataHealthScore, b.DataHealthScore)
		default:
			return c.CompareString(a.SchoolName, b.SchoolName)
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if v := primary(a, b); v != 0 {
			if desc {
				return v > 0
			}
			return v < 0
		}
		if v := c.CompareString(a.SchoolName, b.SchoolName); v != 0 {
			return v < 0
		}
		return a.SchoolID < b.SchoolID
	})
}

// Package report composes the ledger and the recertification tracker over
// the roster and document set into the compliance rollups the dashboards
// render. Read-side only: nothing here mutates state.
package report

import (
	"context"
	"sort"
	"time"

	"sopledger.org/internal/ack"
	"sopledger.org/internal/roster"
	"sopledger.org/internal/sop"
	"sopledger.org/internal/training"
)

const recentLimit = 25

// Window is the reporting range compliance is evaluated over.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// EffectiveWindow normalizes a caller-supplied range: a zero end means now,
// and the start is clamped so it never reaches further back than the
// re-acknowledgment window. Older acknowledgments cannot make anyone
// current, so they cannot widen the report either.
func EffectiveWindow(start, end, now time.Time, reackWindow time.Duration) Window {
	if end.IsZero() {
		end = now
	}
	cutoff := end.Add(-reackWindow)
	if start.IsZero() || start.Before(cutoff) {
		start = cutoff
	}
	return Window{Start: start, End: end}
}

// DocumentCompliance is the per-document rollup.
type DocumentCompliance struct {
	DocumentID   string  `json:"document_id"`
	Title        string  `json:"title"`
	Category     string  `json:"category"`
	Acknowledged int     `json:"acknowledged"`
	ActiveStaff  int     `json:"active_staff"`
	Percent      float64 `json:"percent"`
}

// CategoryCompliance is the per-category rollup.
type CategoryCompliance struct {
	Category     string  `json:"category"`
	Acknowledged int     `json:"acknowledged"`
	Required     int     `json:"required"`
	Percent      float64 `json:"percent"`
}

// StaffCompletion is the per-person rollup.
type StaffCompletion struct {
	StaffID      string  `json:"staff_id"`
	Name         string  `json:"name"`
	Acknowledged int     `json:"acknowledged"`
	Total        int     `json:"total"`
	Percent      float64 `json:"percent"`
}

// OverdueDocument lists active staff who are not current for a document.
type OverdueDocument struct {
	DocumentID string   `json:"document_id"`
	Title      string   `json:"title"`
	Missing    []string `json:"missing"`
}

// ModuleCompliance mirrors DocumentCompliance with the tracker's Passed
// state in place of acknowledgment currency.
type ModuleCompliance struct {
	ModuleID    string  `json:"module_id"`
	Title       string  `json:"title"`
	Passed      int     `json:"passed"`
	ActiveStaff int     `json:"active_staff"`
	Percent     float64 `json:"percent"`
}

// RecentAcknowledgment is one row of the dashboard's recent-activity feed.
type RecentAcknowledgment struct {
	StaffName      string    `json:"staff_name"`
	DocumentTitle  string    `json:"document_title"`
	Version        int       `json:"version"`
	AcknowledgedAt time.Time `json:"acknowledged_at"`
}

// Report is the full dashboard payload for one window.
type Report struct {
	Window         Window                 `json:"window"`
	ActiveStaff    int                    `json:"active_staff"`
	DocumentCount  int                    `json:"document_count"`
	OverallPercent float64                `json:"overall_percent"`
	Documents      []DocumentCompliance   `json:"documents"`
	Categories     []CategoryCompliance   `json:"categories"`
	Staff          []StaffCompletion      `json:"staff"`
	Overdue        []OverdueDocument      `json:"overdue"`
	Modules        []ModuleCompliance     `json:"modules"`
	Recent         []RecentAcknowledgment `json:"recent"`
	GeneratedAt    time.Time              `json:"generated_at"`
}

// DocumentSource, StaffSource, AckSource and TrainingSource are the
// read-side slices of the stores the aggregator composes.
type DocumentSource interface {
	ListDocuments(ctx context.Context) ([]*sop.Document, error)
}

type StaffSource interface {
	ListStaff(ctx context.Context, activeOnly bool) ([]*roster.Staff, error)
}

type AckSource interface {
	ListAcknowledgmentsInWindow(ctx context.Context, start, end time.Time) ([]*ack.Acknowledgment, error)
}

type TrainingSource interface {
	ListModules(ctx context.Context) ([]*training.Module, error)
	ListAttempts(ctx context.Context) ([]*training.Attempt, error)
}

// Aggregator builds compliance reports.
type Aggregator struct {
	docs        DocumentSource
	staff       StaffSource
	acks        AckSource
	train       TrainingSource
	reackWindow time.Duration
	now         func() time.Time
}

// Option configures Aggregator behavior.
type Option func(*Aggregator)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(a *Aggregator) {
		if fn != nil {
			a.now = fn
		}
	}
}

func NewAggregator(docs DocumentSource, staff StaffSource, acks AckSource, train TrainingSource, reackWindow time.Duration, opts ...Option) *Aggregator {
	a := &Aggregator{
		docs:        docs,
		staff:       staff,
		acks:        acks,
		train:       train,
		reackWindow: reackWindow,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ReackWindow exposes the validity window so callers can normalize
// requested ranges with EffectiveWindow.
func (a *Aggregator) ReackWindow() time.Duration { return a.reackWindow }

type pairKey struct {
	docID   string
	staffID string
}

// Build assembles the full report for a window. Compliance for a pair means
// its latest in-window acknowledgment satisfies the document as of the
// window end; acknowledgments outside the window never count, however
// recent. Empty rosters or document sets produce zero percentages, never a
// division error.
func (a *Aggregator) Build(ctx context.Context, w Window) (*Report, error) {
	activeStaff, err := a.staff.ListStaff(ctx, true)
	if err != nil {
		return nil, err
	}
	allStaff, err := a.staff.ListStaff(ctx, false)
	if err != nil {
		return nil, err
	}
	docs, err := a.docs.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	acks, err := a.acks.ListAcknowledgmentsInWindow(ctx, w.Start, w.End)
	if err != nil {
		return nil, err
	}

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Title != docs[j].Title {
			return docs[i].Title < docs[j].Title
		}
		return docs[i].ID < docs[j].ID
	})
	sort.Slice(activeStaff, func(i, j int) bool { return activeStaff[i].Name < activeStaff[j].Name })

	activeIDs := make(map[string]bool, len(activeStaff))
	for _, m := range activeStaff {
		activeIDs[m.ID] = true
	}
	names := make(map[string]string, len(allStaff))
	for _, m := range allStaff {
		names[m.ID] = m.Name
	}
	docByID := make(map[string]*sop.Document, len(docs))
	for _, d := range docs {
		docByID[d.ID] = d
	}

	// Latest in-window acknowledgment per (document, active staff) pair.
	latest := make(map[pairKey]*ack.Acknowledgment)
	for _, rec := range acks {
		if !activeIDs[rec.StaffID] {
			continue
		}
		key := pairKey{docID: rec.DocumentID, staffID: rec.StaffID}
		if prev, ok := latest[key]; !ok || newerAck(rec, prev) {
			latest[key] = rec
		}
	}

	currentPairs := make(map[pairKey]bool, len(latest))
	for key, rec := range latest {
		doc := docByID[key.docID]
		if doc == nil {
			continue
		}
		if ack.Current(doc, rec, w.End, a.reackWindow) {
			currentPairs[key] = true
		}
	}

	rep := &Report{
		Window:        w,
		ActiveStaff:   len(activeStaff),
		DocumentCount: len(docs),
		GeneratedAt:   a.now().UTC(),
	}

	// Per-document and overdue rollups.
	totalPairs := 0
	catAcked := make(map[string]int)
	catDocs := make(map[string]int)
	for _, doc := range docs {
		catDocs[doc.Category]++
		acked := 0
		var missing []string
		for _, m := range activeStaff {
			if currentPairs[pairKey{docID: doc.ID, staffID: m.ID}] {
				acked++
			} else {
				missing = append(missing, m.Name)
			}
		}
		totalPairs += acked
		catAcked[doc.Category] += acked
		rep.Documents = append(rep.Documents, DocumentCompliance{
			DocumentID:   doc.ID,
			Title:        doc.Title,
			Category:     doc.Category,
			Acknowledged: acked,
			ActiveStaff:  len(activeStaff),
			Percent:      percent(acked, len(activeStaff)),
		})
		if len(missing) > 0 && len(activeStaff) > 0 {
			rep.Overdue = append(rep.Overdue, OverdueDocument{
				DocumentID: doc.ID,
				Title:      doc.Title,
				Missing:    missing,
			})
		}
	}

	// Per-category rollups.
	categories := make([]string, 0, len(catDocs))
	for c := range catDocs {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	for _, c := range categories {
		required := len(activeStaff) * catDocs[c]
		rep.Categories = append(rep.Categories, CategoryCompliance{
			Category:     c,
			Acknowledged: catAcked[c],
			Required:     required,
			Percent:      percent(catAcked[c], required),
		})
	}

	// Per-staff completion.
	for _, m := range activeStaff {
		acked := 0
		for _, doc := range docs {
			if currentPairs[pairKey{docID: doc.ID, staffID: m.ID}] {
				acked++
			}
		}
		rep.Staff = append(rep.Staff, StaffCompletion{
			StaffID:      m.ID,
			Name:         m.Name,
			Acknowledged: acked,
			Total:        len(docs),
			Percent:      percent(acked, len(docs)),
		})
	}

	rep.OverallPercent = percent(totalPairs, len(activeStaff)*len(docs))

	if err := a.buildModules(ctx, rep, activeStaff, w.End); err != nil {
		return nil, err
	}
	a.buildRecent(rep, acks, names, docByID)

	return rep, nil
}

func (a *Aggregator) buildModules(ctx context.Context, rep *Report, activeStaff []*roster.Staff, asOf time.Time) error {
	modules, err := a.train.ListModules(ctx)
	if err != nil {
		return err
	}
	attempts, err := a.train.ListAttempts(ctx)
	if err != nil {
		return err
	}
	sort.Slice(modules, func(i, j int) bool {
		if modules[i].Title != modules[j].Title {
			return modules[i].Title < modules[j].Title
		}
		return modules[i].ID < modules[j].ID
	})

	// Group attempt history up to the window end per (module, staff) pair.
	byPair := make(map[pairKey][]*training.Attempt)
	for _, at := range attempts {
		if at.AttemptedAt.After(asOf) {
			continue
		}
		key := pairKey{docID: at.ModuleID, staffID: at.StaffID}
		byPair[key] = append(byPair[key], at)
	}

	for _, m := range modules {
		if !m.Active {
			continue
		}
		passed := 0
		for _, member := range activeStaff {
			history := byPair[pairKey{docID: m.ID, staffID: member.ID}]
			if training.Derive(m.RecertDays, history, asOf).State == training.StatePassed {
				passed++
			}
		}
		rep.Modules = append(rep.Modules, ModuleCompliance{
			ModuleID:    m.ID,
			Title:       m.Title,
			Passed:      passed,
			ActiveStaff: len(activeStaff),
			Percent:     percent(passed, len(activeStaff)),
		})
	}
	return nil
}

func (a *Aggregator) buildRecent(rep *Report, acks []*ack.Acknowledgment, names map[string]string, docs map[string]*sop.Document) {
	sorted := make([]*ack.Acknowledgment, len(acks))
	copy(sorted, acks)
	sort.Slice(sorted, func(i, j int) bool { return newerAck(sorted[i], sorted[j]) })

	for _, rec := range sorted {
		if len(rep.Recent) >= recentLimit {
			break
		}
		doc := docs[rec.DocumentID]
		if doc == nil {
			continue
		}
		rep.Recent = append(rep.Recent, RecentAcknowledgment{
			StaffName:      names[rec.StaffID],
			DocumentTitle:  doc.Title,
			Version:        rec.DocumentVersion,
			AcknowledgedAt: rec.AcknowledgedAt,
		})
	}
}

func newerAck(a, b *ack.Acknowledgment) bool {
	if a.AcknowledgedAt.Equal(b.AcknowledgedAt) {
		return a.Seq > b.Seq
	}
	return a.AcknowledgedAt.After(b.AcknowledgedAt)
}

func percent(num, denom int) float64 {
	if denom == 0 {
		return 0
	}
	return float64(num) / float64(denom) * 100
}

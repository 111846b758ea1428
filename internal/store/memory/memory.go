// Package memory implements every persistence port over in-process maps.
// A single mutex makes each operation atomic, which is exactly the
// guarantee the ports demand; used by unit tests and dev mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"sopledger.org/internal/ack"
	"sopledger.org/internal/audit"
	"sopledger.org/internal/roster"
	"sopledger.org/internal/sop"
	"sopledger.org/internal/training"
)

var (
	_ sop.Store      = (*Store)(nil)
	_ roster.Store   = (*Store)(nil)
	_ ack.Store      = (*Store)(nil)
	_ training.Store = (*Store)(nil)
	_ audit.Sink     = (*Store)(nil)
)

// Store holds all entities behind one lock.
type Store struct {
	mu sync.RWMutex

	docs     map[string]*sop.Document
	versions map[string][]*sop.Version

	staff      map[string]*roster.Staff
	staffByKey map[string]string // normalized name -> id

	acks   []*ack.Acknowledgment
	ackSeq uint64

	modules     map[string]*training.Module
	moduleByDoc map[string]string

	attempts   []*training.Attempt
	attemptSeq uint64

	auditLog []*audit.Entry
}

func New() *Store {
	return &Store{
		docs:        make(map[string]*sop.Document),
		versions:    make(map[string][]*sop.Version),
		staff:       make(map[string]*roster.Staff),
		staffByKey:  make(map[string]string),
		modules:     make(map[string]*training.Module),
		moduleByDoc: make(map[string]string),
	}
}

// Documents ----------------------------------------------------------------

func (s *Store) CreateDocument(ctx context.Context, d *sop.Document, snap *sop.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.docs[d.ID] = &cp
	sv := *snap
	s.versions[d.ID] = append(s.versions[d.ID], &sv)
	return nil
}

func (s *Store) FindDocument(ctx context.Context, id string) (*sop.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, sop.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *Store) ListDocuments(ctx context.Context) ([]*sop.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*sop.Document, 0, len(s.docs))
	for _, d := range s.docs {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateDocument(ctx context.Context, d *sop.Document, expectedVersion int, snap *sop.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.docs[d.ID]
	if !ok {
		return sop.ErrNotFound
	}
	if existing.CurrentVersion != expectedVersion {
		return sop.ErrStaleVersion
	}
	cp := *d
	s.docs[d.ID] = &cp
	sv := *snap
	s.versions[d.ID] = append(s.versions[d.ID], &sv)
	return nil
}

func (s *Store) Versions(ctx context.Context, documentID string) ([]*sop.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.versions[documentID]
	out := make([]*sop.Version, 0, len(history))
	for _, v := range history {
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	return out, nil
}

// Staff --------------------------------------------------------------------

func (s *Store) CreateStaff(ctx context.Context, m *roster.Staff) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.staffByKey[m.NormalizedName]; ok {
		return roster.ErrAlreadyExists
	}
	cp := *m
	s.staff[m.ID] = &cp
	s.staffByKey[m.NormalizedName] = m.ID
	return nil
}

func (s *Store) FindStaff(ctx context.Context, id string) (*roster.Staff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.staff[id]
	if !ok {
		return nil, roster.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Store) FindStaffByNormalizedName(ctx context.Context, name string) (*roster.Staff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.staffByKey[name]
	if !ok {
		return nil, roster.ErrNotFound
	}
	cp := *s.staff[id]
	return &cp, nil
}

func (s *Store) ListStaff(ctx context.Context, activeOnly bool) ([]*roster.Staff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*roster.Staff, 0, len(s.staff))
	for _, m := range s.staff {
		if activeOnly && !m.Active {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) SetStaffActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.staff[id]
	if !ok {
		return roster.ErrNotFound
	}
	m.Active = active
	return nil
}

// Acknowledgments ----------------------------------------------------------

func (s *Store) AppendAcknowledgment(ctx context.Context, a *ack.Acknowledgment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[a.DocumentID]
	if !ok {
		return ack.ErrUnknownDocument
	}
	// Commit-time version stamp: taken under the same lock that edits hold.
	a.DocumentVersion = doc.CurrentVersion
	s.ackSeq++
	a.Seq = s.ackSeq
	cp := *a
	s.acks = append(s.acks, &cp)
	return nil
}

func (s *Store) LatestAcknowledgment(ctx context.Context, documentID, staffID string) (*ack.Acknowledgment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *ack.Acknowledgment
	for _, rec := range s.acks {
		if rec.DocumentID != documentID || rec.StaffID != staffID {
			continue
		}
		if latest == nil || newerAck(rec, latest) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, ack.ErrNoAcknowledgment
	}
	cp := *latest
	return &cp, nil
}

func (s *Store) ListAcknowledgmentsByDocument(ctx context.Context, documentID string) ([]*ack.Acknowledgment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ack.Acknowledgment
	for _, rec := range s.acks {
		if rec.DocumentID != documentID {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return newerAck(out[i], out[j]) })
	return out, nil
}

func (s *Store) ListAcknowledgmentsInWindow(ctx context.Context, start, end time.Time) ([]*ack.Acknowledgment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ack.Acknowledgment
	for _, rec := range s.acks {
		if rec.AcknowledgedAt.Before(start) || rec.AcknowledgedAt.After(end) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func newerAck(a, b *ack.Acknowledgment) bool {
	if a.AcknowledgedAt.Equal(b.AcknowledgedAt) {
		return a.Seq > b.Seq
	}
	return a.AcknowledgedAt.After(b.AcknowledgedAt)
}

// Training -----------------------------------------------------------------

func (s *Store) CreateModule(ctx context.Context, m *training.Module) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.moduleByDoc[m.DocumentID]; ok {
		return training.ErrModuleExists
	}
	cp := *m
	s.modules[m.ID] = &cp
	s.moduleByDoc[m.DocumentID] = m.ID
	return nil
}

func (s *Store) FindModule(ctx context.Context, id string) (*training.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modules[id]
	if !ok {
		return nil, training.ErrModuleNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Store) FindModuleByDocument(ctx context.Context, documentID string) (*training.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.moduleByDoc[documentID]
	if !ok {
		return nil, training.ErrModuleNotFound
	}
	cp := *s.modules[id]
	return &cp, nil
}

func (s *Store) ListModules(ctx context.Context) ([]*training.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*training.Module, 0, len(s.modules))
	for _, m := range s.modules {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateModule(ctx context.Context, m *training.Module) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.modules[m.ID]
	if !ok {
		return training.ErrModuleNotFound
	}
	if existing.DocumentID != m.DocumentID {
		delete(s.moduleByDoc, existing.DocumentID)
		s.moduleByDoc[m.DocumentID] = m.ID
	}
	cp := *m
	s.modules[m.ID] = &cp
	return nil
}

func (s *Store) RecordAttempt(ctx context.Context, at *training.Attempt, policy training.LockoutPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Lockout check and insert share the lock, so parallel submissions for
	// the same pair serialize here.
	history := s.attemptsLocked(at.ModuleID, at.StaffID)
	if training.EvaluateLockout(policy, history, at.AttemptedAt).Locked {
		return training.ErrLocked
	}
	s.attemptSeq++
	at.Seq = s.attemptSeq
	cp := *at
	s.attempts = append(s.attempts, &cp)
	return nil
}

func (s *Store) Attempts(ctx context.Context, moduleID, staffID string) ([]*training.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attemptsLocked(moduleID, staffID), nil
}

func (s *Store) ListAttempts(ctx context.Context) ([]*training.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*training.Attempt, 0, len(s.attempts))
	for _, at := range s.attempts {
		cp := *at
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) attemptsLocked(moduleID, staffID string) []*training.Attempt {
	var out []*training.Attempt
	for _, at := range s.attempts {
		if at.ModuleID != moduleID || at.StaffID != staffID {
			continue
		}
		cp := *at
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AttemptedAt.Equal(out[j].AttemptedAt) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].AttemptedAt.Before(out[j].AttemptedAt)
	})
	return out
}

// Audit --------------------------------------------------------------------

func (s *Store) Append(ctx context.Context, e *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.auditLog = append(s.auditLog, &cp)
	return nil
}

// AuditEntries returns a copy of the appended audit trail. Test helper; the
// core never reads the trail back.
func (s *Store) AuditEntries() []*audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*audit.Entry, 0, len(s.auditLog))
	for _, e := range s.auditLog {
		cp := *e
		out = append(out, &cp)
	}
	return out
}

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/okian/fluentops/internal/domain/model"
)

type memRecord struct {
	assessment model.Assessment
	events     []model.Event
	nextSeq    int64
}

type ledgerKey struct {
	userID string
	reason string
	refID  string
}

// MemoryStore is a process-local Store. A single mutex makes every operation atomic.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*memRecord
	balances map[string]int64
	entries  map[ledgerKey]int64
	closed   bool
	opts     options
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryStore{
		records:  make(map[string]*memRecord),
		balances: make(map[string]int64),
		entries:  make(map[ledgerKey]int64),
		opts:     o,
	}
}

func copyAssessment(a *model.Assessment) *model.Assessment {
	c := *a
	c.Goals = append([]string(nil), a.Goals...)
	if a.Rubric != nil {
		c.Rubric = make(model.Rubric, len(a.Rubric))
		for k, v := range a.Rubric {
			c.Rubric[k] = v
		}
	}
	return &c
}

// CreateAssessment stores a new Queued assessment.
func (s *MemoryStore) CreateAssessment(ctx context.Context, a *model.Assessment) (err error) {
	defer observe("create_assessment")(&err)
	if a == nil || a.ID == "" || a.OwnerID == "" {
		return fmt.Errorf("create assessment: missing id or owner")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, exists := s.records[a.ID]; exists {
		return fmt.Errorf("create assessment %s: %w", a.ID, ErrDuplicate)
	}
	c := copyAssessment(a)
	now := s.opts.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.Status = model.StatusQueued
	c.Rubric = nil
	c.FeedbackText = ""
	s.records[a.ID] = &memRecord{assessment: *c}
	a.Status = c.Status
	a.CreatedAt = c.CreatedAt
	a.UpdatedAt = c.UpdatedAt
	return nil
}

// FindAssessment returns the assessment when it exists and belongs to ownerID.
func (s *MemoryStore) FindAssessment(ctx context.Context, ownerID, id string) (*model.Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	rec, ok := s.records[id]
	if !ok || rec.assessment.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return copyAssessment(&rec.assessment), nil
}

// ListAssessments returns ownerID's assessments newest first.
func (s *MemoryStore) ListAssessments(ctx context.Context, ownerID string, page model.Page) ([]model.Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	owned := make([]model.Assessment, 0)
	for _, rec := range s.records {
		if rec.assessment.OwnerID == ownerID {
			owned = append(owned, *copyAssessment(&rec.assessment))
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if !owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].CreatedAt.After(owned[j].CreatedAt)
		}
		return owned[i].ID > owned[j].ID
	})
	off := page.Offset()
	if off >= len(owned) {
		return []model.Assessment{}, nil
	}
	end := len(owned)
	if page.Size > 0 && off+page.Size < end {
		end = off + page.Size
	}
	return owned[off:end], nil
}

// UnfinishedAssessments returns the ids of Queued and Running assessments, oldest first.
func (s *MemoryStore) UnfinishedAssessments(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	pending := make([]*model.Assessment, 0)
	for _, rec := range s.records {
		if !rec.assessment.Status.IsTerminal() {
			pending = append(pending, &rec.assessment)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].CreatedAt.Before(pending[j].CreatedAt)
		}
		return pending[i].ID < pending[j].ID
	})
	ids := make([]string, len(pending))
	for i, a := range pending {
		ids[i] = a.ID
	}
	return ids, nil
}

// Transition moves id from one status to another if its current status is from.
func (s *MemoryStore) Transition(ctx context.Context, id string, from, to model.Status) (err error) {
	defer observe("transition")(&err)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.recordLocked(id)
	if err != nil {
		return err
	}
	if rec.assessment.Status != from {
		if rec.assessment.Status.IsTerminal() {
			return fmt.Errorf("transition %s: %w", id, ErrTerminal)
		}
		return fmt.Errorf("transition %s from %s (is %s): %w", id, from, rec.assessment.Status, ErrStatusConflict)
	}
	next, err := from.Transition(to)
	if err != nil {
		return err
	}
	rec.assessment.Status = next
	rec.assessment.UpdatedAt = s.opts.now()
	return nil
}

// AppendEvent appends a non-terminal event.
func (s *MemoryStore) AppendEvent(ctx context.Context, id string, kind model.EventKind, payload json.RawMessage) (ev model.Event, err error) {
	defer observe("append_event")(&err)
	if kind.IsTerminal() {
		return model.Event{}, ErrTerminalKind
	}
	s.mu.Lock()
	rec, err := s.recordLocked(id)
	if err == nil && rec.assessment.Status.IsTerminal() {
		err = fmt.Errorf("append to %s: %w", id, ErrTerminal)
	}
	if err == nil {
		ev = s.appendLocked(rec, kind, payload)
	}
	s.mu.Unlock()
	if err != nil {
		return model.Event{}, err
	}
	s.opts.notifier.Publish(id)
	return ev, nil
}

// Complete appends the Final event and marks the assessment Succeeded in one step.
func (s *MemoryStore) Complete(ctx context.Context, id string, result model.FinalPayload) (ev model.Event, err error) {
	defer observe("complete")(&err)
	s.mu.Lock()
	rec, err := s.recordLocked(id)
	if err == nil {
		switch st := rec.assessment.Status; {
		case st.IsTerminal():
			err = fmt.Errorf("complete %s: %w", id, ErrTerminal)
		case st != model.StatusRunning:
			err = fmt.Errorf("complete %s (is %s): %w", id, st, ErrStatusConflict)
		}
	}
	if err == nil {
		ev = s.appendLocked(rec, model.EventFinal, model.MustPayload(result))
		rec.assessment.Status = model.StatusSucceeded
		rec.assessment.Rubric = result.Rubric
		rec.assessment.FeedbackText = result.FeedbackText
	}
	s.mu.Unlock()
	if err != nil {
		return model.Event{}, err
	}
	s.opts.notifier.Publish(id)
	return ev, nil
}

// Fail appends an Error event and marks a Running assessment Failed in one step.
func (s *MemoryStore) Fail(ctx context.Context, id string, payload model.ErrorPayload) (ev model.Event, applied bool, err error) {
	defer observe("fail")(&err)
	s.mu.Lock()
	rec, err := s.recordLocked(id)
	if err == nil {
		switch st := rec.assessment.Status; {
		case st.IsTerminal():
			s.mu.Unlock()
			return model.Event{}, false, nil
		case st != model.StatusRunning:
			err = fmt.Errorf("fail %s (is %s): %w", id, st, ErrStatusConflict)
		}
	}
	if err == nil {
		ev = s.appendLocked(rec, model.EventError, model.MustPayload(payload))
		rec.assessment.Status = model.StatusFailed
	}
	s.mu.Unlock()
	if err != nil {
		return model.Event{}, false, err
	}
	s.opts.notifier.Publish(id)
	return ev, true, nil
}

// QueryEventsAfter returns at most limit events with seq > cursor, ascending.
func (s *MemoryStore) QueryEventsAfter(ctx context.Context, id string, cursor int64, limit int) ([]model.Event, error) {
	limit = clampLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, err := s.recordLocked(id)
	if err != nil {
		return nil, err
	}
	// events[i].Seq == i, so the first candidate is at cursor+1. Checked before
	// the increment so a cursor of math.MaxInt64 cannot wrap.
	if cursor >= int64(len(rec.events))-1 {
		return []model.Event{}, nil
	}
	start := max(cursor+1, 0)
	end := start + int64(limit)
	if end > int64(len(rec.events)) {
		end = int64(len(rec.events))
	}
	out := make([]model.Event, end-start)
	copy(out, rec.events[start:end])
	return out, nil
}

// Balance returns the user's credits.
func (s *MemoryStore) Balance(ctx context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.balances[userID], nil
}

// Debit spends one credit once per key.
func (s *MemoryStore) Debit(ctx context.Context, userID, reason, refID string) (applied bool, err error) {
	defer observe("debit")(&err)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	key := ledgerKey{userID: userID, reason: reason, refID: refID}
	if _, ok := s.entries[key]; ok {
		return false, nil
	}
	if s.balances[userID] <= 0 {
		return false, ErrInsufficientCredits
	}
	s.balances[userID]--
	s.entries[key] = -1
	return true, nil
}

// Grant adds credits once per key.
func (s *MemoryStore) Grant(ctx context.Context, userID string, amount int64, reason, refID string) (applied bool, err error) {
	defer observe("grant")(&err)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	key := ledgerKey{userID: userID, reason: reason, refID: refID}
	if _, ok := s.entries[key]; ok {
		return false, nil
	}
	s.balances[userID] += amount
	s.entries[key] = amount
	return true, nil
}

// Subscribe registers for change signals on id.
func (s *MemoryStore) Subscribe(id string) (<-chan struct{}, func()) {
	return s.opts.notifier.Subscribe(id)
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) recordLocked(id string) (*memRecord, error) {
	if s.closed {
		return nil, ErrClosed
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("assessment %s: %w", id, ErrNotFound)
	}
	return rec, nil
}

func (s *MemoryStore) appendLocked(rec *memRecord, kind model.EventKind, payload json.RawMessage) model.Event {
	now := s.opts.now()
	ev := model.Event{
		AssessmentID: rec.assessment.ID,
		Seq:          rec.nextSeq,
		Kind:         kind,
		Payload:      append(json.RawMessage(nil), payload...),
		CreatedAt:    now,
	}
	rec.nextSeq++
	rec.events = append(rec.events, ev)
	rec.assessment.UpdatedAt = now
	recordAppend(kind)
	return ev
}

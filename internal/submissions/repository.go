package submissions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists accepted submissions and their notification state.
type Store interface {
	Insert(ctx context.Context, a Accepted) (*Submission, error)
	UpdateNotificationState(ctx context.Context, id string, state NotificationState) error
}

// Reader exposes lookups used by the worker and tests.
type Reader interface {
	GetByID(ctx context.Context, id string) (*Submission, error)
	ListPending(ctx context.Context, before time.Time, limit int) ([]*Submission, error)
}

// Repository is a Store that can also be read back.
type Repository interface {
	Store
	Reader
}

type memoryEntry struct {
	mu  sync.Mutex
	sub Submission
}

// InMemoryRepository keeps submissions in process memory. Each record has its
// own lock so concurrent submissions never contend with each other.
type InMemoryRepository struct {
	entries sync.Map // id -> *memoryEntry
	now     func() time.Time
}

var _ Repository = (*InMemoryRepository)(nil)

// NewInMemoryRepository creates a new in-memory repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{now: func() time.Time { return time.Now().UTC() }}
}

// Insert stores a new submission with a fresh id and initial state.
func (r *InMemoryRepository) Insert(ctx context.Context, a Accepted) (*Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, &StoreError{Kind: Unavailable, Op: "insert", Err: err}
	}
	sub := Submission{
		ID:                uuid.New().String(),
		Name:              a.Name,
		Phone:             a.Phone,
		Product:           a.Product,
		Consent:           a.Consent,
		SubmittedAt:       r.now(),
		NotificationState: InitialState(a.Consent),
	}
	if _, loaded := r.entries.LoadOrStore(sub.ID, &memoryEntry{sub: sub}); loaded {
		return nil, &StoreError{Kind: ConstraintViolation, Op: "insert", Err: errDuplicateID}
	}
	out := sub
	return &out, nil
}

// UpdateNotificationState moves a record to state when the transition is legal.
func (r *InMemoryRepository) UpdateNotificationState(ctx context.Context, id string, state NotificationState) error {
	value, ok := r.entries.Load(id)
	if !ok {
		return ErrSubmissionNotFound
	}
	entry := value.(*memoryEntry)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	current := entry.sub.NotificationState
	if !CanTransition(current, state) {
		return errInvalidTransition("update notification state", current, state)
	}
	if current == state {
		return nil
	}
	now := r.now()
	entry.sub.NotificationState = state
	entry.sub.NotificationUpdatedAt = &now
	return nil
}

// GetByID returns a copy of the stored submission.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Submission, error) {
	value, ok := r.entries.Load(id)
	if !ok {
		return nil, ErrSubmissionNotFound
	}
	entry := value.(*memoryEntry)
	entry.mu.Lock()
	out := entry.sub
	entry.mu.Unlock()
	return &out, nil
}

// ListPending returns Pending submissions older than before, oldest first.
func (r *InMemoryRepository) ListPending(ctx context.Context, before time.Time, limit int) ([]*Submission, error) {
	var out []*Submission
	r.entries.Range(func(_, value any) bool {
		entry := value.(*memoryEntry)
		entry.mu.Lock()
		sub := entry.sub
		entry.mu.Unlock()
		if sub.NotificationState == NotificationPending && sub.SubmittedAt.Before(before) {
			out = append(out, &sub)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

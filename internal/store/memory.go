package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/vatwatch/internal/vat"
)

// MemoryStore keeps requests in process memory. A single mutex is the transaction scope.
type MemoryStore struct {
	opts Options

	mu      sync.Mutex
	pending []vat.PendingRequest
	errors  []vat.ErroredRequest
}

var _ Store = (*MemoryStore)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory(opts Options) *MemoryStore {
	return &MemoryStore{opts: opts.withDefaults()}
}

func (s *MemoryStore) AddPending(_ context.Context, id vat.Identity, expiration time.Time) (vat.PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := vat.PendingRequest{Identity: id, ExpirationDate: s.opts.expiration(expiration)}
	if i := s.pendingIndex(id); i >= 0 {
		s.pending[i].ExpirationDate = p.ExpirationDate
		return p, nil
	}
	s.pending = append(s.pending, p)
	return p, nil
}

func (s *MemoryStore) TryAddUniquePending(ctx context.Context, id vat.Identity, expiration time.Time) (vat.PendingRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := vat.PendingRequest{Identity: id, ExpirationDate: s.opts.expiration(expiration)}
	added, _ := memOps{s}.insertUniquePending(ctx, p)
	if !added {
		return vat.PendingRequest{}, false, nil
	}
	return p, true, nil
}

func (s *MemoryStore) FindPending(_ context.Context, id vat.Identity) (*vat.PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.pendingIndex(id); i >= 0 {
		p := s.pending[i]
		return &p, nil
	}
	return nil, nil
}

func (s *MemoryStore) RemovePending(ctx context.Context, id vat.Identity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memOps{s}.deletePending(ctx, id)
}

func (s *MemoryStore) ListPending(_ context.Context) ([]vat.PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]vat.PendingRequest(nil), s.pending...), nil
}

func (s *MemoryStore) ListPendingByOwner(_ context.Context, ownerID int64) ([]vat.PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []vat.PendingRequest
	for _, p := range s.pending {
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) CountPending(_ context.Context, ownerID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.pending {
		if p.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) RemoveAllPending(_ context.Context, ownerID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.pending[:0]
	removed := false
	for _, p := range s.pending {
		if p.OwnerID == ownerID {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	s.pending = kept
	return removed, nil
}

func (s *MemoryStore) AddError(ctx context.Context, p vat.PendingRequest, text string) (vat.ErroredRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.newError(p, text)
	_ = memOps{s}.insertError(ctx, e)
	return e, nil
}

func (s *MemoryStore) FindError(ctx context.Context, id string) (*vat.ErroredRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memOps{s}.findError(ctx, id)
}

func (s *MemoryStore) CountErrors(ctx context.Context, id vat.Identity) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memOps{s}.countErrors(ctx, id)
}

func (s *MemoryStore) RemoveError(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memOps{s}.deleteError(ctx, id)
}

func (s *MemoryStore) ListErrors(_ context.Context) ([]vat.ErroredRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]vat.ErroredRequest(nil), s.errors...), nil
}

func (s *MemoryStore) ResolveError(ctx context.Context, id string) (vat.ResolveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return resolveErrorTx(ctx, memOps{s}, id)
}

func (s *MemoryStore) DemoteToError(ctx context.Context, p vat.PendingRequest, text string) (vat.ErroredRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.newError(p, text)
	if err := demoteTx(ctx, memOps{s}, e); err != nil {
		return vat.ErroredRequest{}, wrap("demote to error", err)
	}
	return e, nil
}

func (s *MemoryStore) UpdateIdentity(_ context.Context, old vat.Identity, countryCode, vatNumber string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.pendingIndex(old)
	if i < 0 {
		return false, nil
	}
	next := old.WithNumber(countryCode, vatNumber)
	if next == old {
		return true, nil
	}
	if s.pendingIndex(next) >= 0 {
		return false, wrap("update identity", ErrIdentityTaken)
	}
	s.pending[i].Identity = next
	return true, nil
}

func (s *MemoryStore) newError(p vat.PendingRequest, text string) vat.ErroredRequest {
	return vat.ErroredRequest{
		ID:             uuid.NewString(),
		Identity:       p.Identity,
		ExpirationDate: p.ExpirationDate,
		ErrorText:      text,
		CreatedAt:      s.opts.Now(),
	}
}

func (s *MemoryStore) pendingIndex(id vat.Identity) int {
	for i, p := range s.pending {
		if p.Identity == id {
			return i
		}
	}
	return -1
}

// memOps runs the transition steps with s.mu already held.
type memOps struct{ s *MemoryStore }

func (memOps) lockIdentity(context.Context, vat.Identity) error { return nil }

func (m memOps) findError(_ context.Context, errorID string) (*vat.ErroredRequest, error) {
	if _, err := uuid.Parse(errorID); err != nil {
		return nil, nil
	}
	for _, e := range m.s.errors {
		if e.ID == errorID {
			found := e
			return &found, nil
		}
	}
	return nil, nil
}

func (m memOps) deleteError(_ context.Context, errorID string) (bool, error) {
	for i, e := range m.s.errors {
		if e.ID == errorID {
			m.s.errors = append(m.s.errors[:i], m.s.errors[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m memOps) countErrors(_ context.Context, id vat.Identity) (int, error) {
	n := 0
	for _, e := range m.s.errors {
		if e.Identity == id {
			n++
		}
	}
	return n, nil
}

func (m memOps) insertUniquePending(_ context.Context, p vat.PendingRequest) (bool, error) {
	if m.s.pendingIndex(p.Identity) >= 0 {
		return false, nil
	}
	m.s.pending = append(m.s.pending, p)
	return true, nil
}

func (m memOps) deletePending(_ context.Context, id vat.Identity) (bool, error) {
	i := m.s.pendingIndex(id)
	if i < 0 {
		return false, nil
	}
	m.s.pending = append(m.s.pending[:i], m.s.pending[i+1:]...)
	return true, nil
}

func (m memOps) insertError(_ context.Context, e vat.ErroredRequest) error {
	m.s.errors = append(m.s.errors, e)
	return nil
}

package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m3rciful/vatwatch/internal/store"
	"github.com/m3rciful/vatwatch/internal/vat"
	"github.com/m3rciful/vatwatch/internal/vies"
)

type checkResponse struct {
	valid bool
	err   error
}

type fakeChecker struct {
	mu        sync.Mutex
	responses map[string]checkResponse
	calls     []string
	inits     int
	// during runs inside CheckValidity; its error replaces the canned response.
	during func(ctx context.Context) error
}

func newFakeChecker() *fakeChecker {
	return &fakeChecker{responses: make(map[string]checkResponse)}
}

func (f *fakeChecker) set(number string, valid bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[number] = checkResponse{valid: valid, err: err}
}

func (f *fakeChecker) Init(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	return nil
}

func (f *fakeChecker) CheckValidity(ctx context.Context, cc, num string) (vies.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := cc + num
	f.calls = append(f.calls, key)
	if f.during != nil {
		if err := f.during(ctx); err != nil {
			return vies.Result{}, err
		}
	}
	r := f.responses[key]
	if r.err != nil {
		return vies.Result{}, r.err
	}
	return vies.Result{CountryCode: cc, VatNumber: num, Valid: r.valid}, nil
}

func (f *fakeChecker) checked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type sentMessage struct {
	ownerID int64
	text    string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, ownerID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{ownerID: ownerID, text: text})
	return nil
}

func (f *fakeNotifier) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

// failingStore fails selected operations.
type failingStore struct {
	store.Store
	failCount   bool
	failResolve string
}

func (f failingStore) ResolveError(ctx context.Context, id string) (vat.ResolveResult, error) {
	if id != "" && id == f.failResolve {
		return vat.ResolveResult{}, &store.Error{Op: "resolve error", Err: errors.New("db down")}
	}
	return f.Store.ResolveError(ctx, id)
}

func (f failingStore) CountPending(ctx context.Context, ownerID int64) (int, error) {
	if f.failCount {
		return 0, &store.Error{Op: "count pending", Err: errors.New("db down")}
	}
	return f.Store.CountPending(ctx, ownerID)
}

type recorder struct {
	mu          sync.Mutex
	cycles      []StopReason
	checks      map[string]int
	demotions   int
	resolutions map[string]int
	submissions map[string]int
}

func newRecorder() *recorder {
	return &recorder{
		checks:      make(map[string]int),
		resolutions: make(map[string]int),
		submissions: make(map[string]int),
	}
}

func (r *recorder) ObserveCycle(stop StopReason, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles = append(r.cycles, stop)
}

func (r *recorder) ObserveCheck(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[outcome]++
}

func (r *recorder) ObserveDemotion() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.demotions++
}

func (r *recorder) ObserveResolution(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolutions[outcome]++
}

func (r *recorder) ObserveSubmission(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submissions[status]++
}

type fixture struct {
	ctx      context.Context
	now      time.Time
	store    *store.MemoryStore
	checker  *fakeChecker
	notifier *fakeNotifier
	rec      *recorder
	engine   *Engine
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		ctx:      context.Background(),
		now:      time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		checker:  newFakeChecker(),
		notifier: &fakeNotifier{},
		rec:      newRecorder(),
	}
	clock := func() time.Time { return f.now }
	f.store = store.NewMemory(store.Options{ExpirationDays: cfg.ExpirationDays, Now: clock})
	f.engine = New(f.store, f.checker, f.notifier, cfg, WithClock(clock), WithRecorder(f.rec))
	return f
}

func (f *fixture) addPending(t *testing.T, owner int64, raw string, exp time.Time) vat.PendingRequest {
	t.Helper()
	id, err := vat.NewIdentity(owner, raw)
	if err != nil {
		t.Fatalf("identity %q: %v", raw, err)
	}
	p, err := f.store.AddPending(f.ctx, id, exp)
	if err != nil {
		t.Fatalf("add pending %q: %v", raw, err)
	}
	return p
}

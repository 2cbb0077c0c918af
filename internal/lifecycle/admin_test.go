package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/vatwatch/internal/store"
	"github.com/m3rciful/vatwatch/internal/vat"
)

func TestResolveErrorResumesAndNotifies(t *testing.T) {
	f := newFixture(t, Config{})
	p := vat.PendingRequest{Identity: vat.Identity{OwnerID: 4, CountryCode: "FR", VatNumber: "44"}, ExpirationDate: f.now.Add(time.Hour)}
	e1, err := f.store.AddError(f.ctx, p, "a")
	require.NoError(t, err)
	e2, err := f.store.AddError(f.ctx, p, "b")
	require.NoError(t, err)

	res, err := f.engine.ResolveError(f.ctx, e1.ID, false)
	require.NoError(t, err)
	assert.Equal(t, vat.ResolveErrorResolved, res.Outcome)
	assert.Empty(t, f.notifier.messages())

	res, err = f.engine.ResolveError(f.ctx, e2.ID, false)
	require.NoError(t, err)
	assert.Equal(t, vat.ResolveAllResolvedAndResumed, res.Outcome)

	msgs := f.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(4), msgs[0].ownerID)
	assert.Equal(t, "We resumed monitoring your VAT number 'FR44'.", msgs[0].text)

	res, err = f.engine.ResolveError(f.ctx, e2.ID, false)
	require.NoError(t, err)
	assert.Equal(t, vat.ResolveNotFound, res.Outcome)
	assert.Len(t, f.notifier.messages(), 1)
}

func TestResolveErrorSilent(t *testing.T) {
	f := newFixture(t, Config{})
	p := vat.PendingRequest{Identity: vat.Identity{OwnerID: 4, CountryCode: "FR", VatNumber: "44"}}
	e, err := f.store.AddError(f.ctx, p, "a")
	require.NoError(t, err)

	res, err := f.engine.ResolveError(f.ctx, e.ID, true)
	require.NoError(t, err)
	assert.Equal(t, vat.ResolveAllResolvedAndResumed, res.Outcome)
	assert.Empty(t, f.notifier.messages())
}

func TestResolveErrorAlreadyMonitored(t *testing.T) {
	f := newFixture(t, Config{})
	pending := f.addPending(t, 4, "FR44", time.Time{})
	e, err := f.store.AddError(f.ctx, pending, "a")
	require.NoError(t, err)

	res, err := f.engine.ResolveError(f.ctx, e.ID, false)
	require.NoError(t, err)
	assert.Equal(t, vat.ResolveAllResolved, res.Outcome)
	assert.Empty(t, f.notifier.messages())

	n, err := f.store.CountPending(f.ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestResolveErrorMissingID(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.engine.ResolveError(f.ctx, "", false)
	assert.ErrorIs(t, err, ErrMissingErrorID)
}

func TestResolveAllErrors(t *testing.T) {
	f := newFixture(t, Config{})
	a := vat.PendingRequest{Identity: vat.Identity{OwnerID: 1, CountryCode: "PL", VatNumber: "1"}}
	b := vat.PendingRequest{Identity: vat.Identity{OwnerID: 2, CountryCode: "PL", VatNumber: "2"}}
	for _, p := range []vat.PendingRequest{a, a, b} {
		_, err := f.store.AddError(f.ctx, p, "x")
		require.NoError(t, err)
	}

	sum, err := f.engine.ResolveAllErrors(f.ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 1, sum.Outcomes[vat.ResolveErrorResolved])
	assert.Equal(t, 2, sum.Outcomes[vat.ResolveAllResolvedAndResumed])
	assert.Len(t, f.notifier.messages(), 2)

	errs, err := f.engine.ListErrors(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, errs)

	pending, err := f.engine.ListPending(f.ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestResolveAllErrorsContinuesPastFailures(t *testing.T) {
	f := newFixture(t, Config{})
	var ids []string
	for i, raw := range []string{"1", "2", "3"} {
		p := vat.PendingRequest{Identity: vat.Identity{OwnerID: int64(i + 1), CountryCode: "PL", VatNumber: raw}}
		item, err := f.store.AddError(f.ctx, p, "x")
		require.NoError(t, err)
		ids = append(ids, item.ID)
	}
	engine := New(failingStore{Store: f.store, failResolve: ids[0]}, f.checker, f.notifier, Config{})

	sum, err := engine.ResolveAllErrors(f.ctx, true)
	require.Error(t, err)
	assert.True(t, IsStoreFailure(err))
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 2, sum.Outcomes[vat.ResolveAllResolvedAndResumed])

	left, err := f.store.ListErrors(f.ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, ids[0], left[0].ID)
}

func TestRemoveErrorDoesNotResume(t *testing.T) {
	f := newFixture(t, Config{})
	e, err := f.store.AddError(f.ctx, vat.PendingRequest{Identity: vat.Identity{OwnerID: 1, CountryCode: "PL", VatNumber: "1"}}, "x")
	require.NoError(t, err)

	removed, err := f.engine.RemoveError(f.ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = f.engine.RemoveError(f.ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	n, err := f.store.CountPending(f.ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdateIdentity(t *testing.T) {
	f := newFixture(t, Config{})
	f.addPending(t, 3, "PL1", time.Time{})
	f.addPending(t, 3, "PL9", time.Time{})

	out, err := f.engine.UpdateIdentity(f.ctx, 3, "PL1", "pl1")
	require.NoError(t, err)
	assert.Equal(t, UpdateNoop, out)

	out, err = f.engine.UpdateIdentity(f.ctx, 3, "PL1", "DE2")
	require.NoError(t, err)
	assert.Equal(t, UpdateApplied, out)

	out, err = f.engine.UpdateIdentity(f.ctx, 3, "PL1", "DE3")
	require.NoError(t, err)
	assert.Equal(t, UpdateNotFound, out)

	_, err = f.engine.UpdateIdentity(f.ctx, 3, "DE2", "PL9")
	assert.ErrorIs(t, err, store.ErrIdentityTaken)

	_, err = f.engine.UpdateIdentity(f.ctx, 3, "DE2", "P")
	assert.ErrorIs(t, err, vat.ErrNumberTooShort)
}

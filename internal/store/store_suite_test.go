package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/m3rciful/vatwatch/internal/vat"
)

// storeSuite holds behaviour shared by every Store implementation.
type storeSuite struct {
	suite.Suite
	newStore func(t *testing.T, opts Options) Store

	ctx   context.Context
	now   time.Time
	store Store
}

func (s *storeSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.store = s.newStore(s.T(), Options{
		ExpirationDays: 90,
		Now:            func() time.Time { return s.now },
	})
}

func ident(owner int64, cc, num string) vat.Identity {
	return vat.Identity{OwnerID: owner, CountryCode: cc, VatNumber: num}
}

func (s *storeSuite) TestAddPendingDefaultsExpiration() {
	p, err := s.store.AddPending(s.ctx, ident(123, "XX", "123"), time.Time{})
	s.Require().NoError(err)
	s.Equal(ident(123, "XX", "123"), p.Identity)
	s.WithinDuration(s.now.AddDate(0, 0, 90), p.ExpirationDate, time.Second)

	found, err := s.store.FindPending(s.ctx, ident(123, "XX", "123"))
	s.Require().NoError(err)
	s.Require().NotNil(found)
	s.WithinDuration(p.ExpirationDate, found.ExpirationDate, time.Second)
}

func (s *storeSuite) TestAddPendingRefreshesExpiration() {
	id := ident(1, "PL", "1")
	_, err := s.store.AddPending(s.ctx, id, time.Time{})
	s.Require().NoError(err)

	later := s.now.AddDate(1, 0, 0)
	_, err = s.store.AddPending(s.ctx, id, later)
	s.Require().NoError(err)

	all, err := s.store.ListPending(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 1)
	s.WithinDuration(later, all[0].ExpirationDate, time.Second)
}

func (s *storeSuite) TestTryAddUniquePending() {
	id := ident(1, "PL", "1")
	exp := s.now.Add(48 * time.Hour)

	p, added, err := s.store.TryAddUniquePending(s.ctx, id, exp)
	s.Require().NoError(err)
	s.True(added)
	s.WithinDuration(exp, p.ExpirationDate, time.Second)

	_, added, err = s.store.TryAddUniquePending(s.ctx, id, time.Time{})
	s.Require().NoError(err)
	s.False(added)

	n, err := s.store.CountPending(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *storeSuite) TestFindAndRemovePending() {
	id := ident(7, "DE", "42")

	found, err := s.store.FindPending(s.ctx, id)
	s.Require().NoError(err)
	s.Nil(found)

	_, err = s.store.AddPending(s.ctx, id, time.Time{})
	s.Require().NoError(err)

	removed, err := s.store.RemovePending(s.ctx, id)
	s.Require().NoError(err)
	s.True(removed)

	removed, err = s.store.RemovePending(s.ctx, id)
	s.Require().NoError(err)
	s.False(removed)
}

func (s *storeSuite) TestListPendingKeepsInsertionOrder() {
	ids := []vat.Identity{ident(1, "PL", "3"), ident(2, "DE", "1"), ident(1, "FR", "2")}
	for _, id := range ids {
		_, err := s.store.AddPending(s.ctx, id, time.Time{})
		s.Require().NoError(err)
	}

	all, err := s.store.ListPending(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 3)
	for i, p := range all {
		s.Equal(ids[i], p.Identity)
	}

	mine, err := s.store.ListPendingByOwner(s.ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(mine, 2)
	s.Equal(ids[0], mine[0].Identity)
	s.Equal(ids[2], mine[1].Identity)
}

func (s *storeSuite) TestRemoveAllPending() {
	for _, id := range []vat.Identity{ident(1, "PL", "1"), ident(1, "PL", "2"), ident(2, "PL", "1")} {
		_, err := s.store.AddPending(s.ctx, id, time.Time{})
		s.Require().NoError(err)
	}

	removed, err := s.store.RemoveAllPending(s.ctx, 1)
	s.Require().NoError(err)
	s.True(removed)

	n, err := s.store.CountPending(s.ctx, 1)
	s.Require().NoError(err)
	s.Zero(n)
	n, err = s.store.CountPending(s.ctx, 2)
	s.Require().NoError(err)
	s.Equal(1, n)

	removed, err = s.store.RemoveAllPending(s.ctx, 1)
	s.Require().NoError(err)
	s.False(removed)
}

func (s *storeSuite) TestErrorsCrud() {
	p := vat.PendingRequest{Identity: ident(5, "IT", "9"), ExpirationDate: s.now.Add(time.Hour)}

	e1, err := s.store.AddError(s.ctx, p, "first")
	s.Require().NoError(err)
	s.NotEmpty(e1.ID)
	_, err = s.store.AddError(s.ctx, p, "second")
	s.Require().NoError(err)

	n, err := s.store.CountErrors(s.ctx, p.Identity)
	s.Require().NoError(err)
	s.Equal(2, n)

	found, err := s.store.FindError(s.ctx, e1.ID)
	s.Require().NoError(err)
	s.Require().NotNil(found)
	s.Equal("first", found.ErrorText)
	s.Equal(p.Identity, found.Identity)
	s.WithinDuration(p.ExpirationDate, found.ExpirationDate, time.Second)

	list, err := s.store.ListErrors(s.ctx)
	s.Require().NoError(err)
	s.Len(list, 2)

	removed, err := s.store.RemoveError(s.ctx, e1.ID)
	s.Require().NoError(err)
	s.True(removed)
	removed, err = s.store.RemoveError(s.ctx, e1.ID)
	s.Require().NoError(err)
	s.False(removed)
}

func (s *storeSuite) TestFindErrorWithMalformedID() {
	found, err := s.store.FindError(s.ctx, "not-a-uuid")
	s.Require().NoError(err)
	s.Nil(found)

	removed, err := s.store.RemoveError(s.ctx, "not-a-uuid")
	s.Require().NoError(err)
	s.False(removed)

	res, err := s.store.ResolveError(s.ctx, "not-a-uuid")
	s.Require().NoError(err)
	s.Equal(vat.ResolveNotFound, res.Outcome)
}

func (s *storeSuite) TestDemoteToError() {
	p, err := s.store.AddPending(s.ctx, ident(123, "XX", "123"), time.Time{})
	s.Require().NoError(err)

	e, err := s.store.DemoteToError(s.ctx, p, "Oops")
	s.Require().NoError(err)
	s.Equal("Oops", e.ErrorText)

	found, err := s.store.FindPending(s.ctx, p.Identity)
	s.Require().NoError(err)
	s.Nil(found)

	list, err := s.store.ListErrors(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(p.Identity, list[0].Identity)
	s.Equal("Oops", list[0].ErrorText)
	s.WithinDuration(p.ExpirationDate, list[0].ExpirationDate, time.Second)
}

func (s *storeSuite) TestResolveErrorTransitions() {
	id := ident(9, "PL", "77")
	exp := s.now.AddDate(0, 0, 30)
	p := vat.PendingRequest{Identity: id, ExpirationDate: exp}

	e1, err := s.store.AddError(s.ctx, p, "one")
	s.Require().NoError(err)
	e2, err := s.store.AddError(s.ctx, p, "two")
	s.Require().NoError(err)

	res, err := s.store.ResolveError(s.ctx, e1.ID)
	s.Require().NoError(err)
	s.Equal(vat.ResolveErrorResolved, res.Outcome)
	s.Require().NotNil(res.Request)
	s.Equal(id, res.Request.Identity)

	found, err := s.store.FindPending(s.ctx, id)
	s.Require().NoError(err)
	s.Nil(found, "identity stays out of monitoring while errors remain")

	res, err = s.store.ResolveError(s.ctx, e2.ID)
	s.Require().NoError(err)
	s.Equal(vat.ResolveAllResolvedAndResumed, res.Outcome)

	found, err = s.store.FindPending(s.ctx, id)
	s.Require().NoError(err)
	s.Require().NotNil(found)
	s.WithinDuration(exp, found.ExpirationDate, time.Second)

	res, err = s.store.ResolveError(s.ctx, e2.ID)
	s.Require().NoError(err)
	s.Equal(vat.ResolveNotFound, res.Outcome)
}

func (s *storeSuite) TestResolveErrorDoesNotDuplicatePending() {
	id := ident(9, "PL", "78")
	_, err := s.store.AddPending(s.ctx, id, time.Time{})
	s.Require().NoError(err)
	e, err := s.store.AddError(s.ctx, vat.PendingRequest{Identity: id, ExpirationDate: s.now}, "boom")
	s.Require().NoError(err)

	res, err := s.store.ResolveError(s.ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(vat.ResolveAllResolved, res.Outcome)

	n, err := s.store.CountPending(s.ctx, 9)
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *storeSuite) TestConcurrentResolveResumesOnce() {
	id := ident(11, "NL", "5")
	p := vat.PendingRequest{Identity: id, ExpirationDate: s.now.Add(time.Hour)}
	e1, err := s.store.AddError(s.ctx, p, "a")
	s.Require().NoError(err)
	e2, err := s.store.AddError(s.ctx, p, "b")
	s.Require().NoError(err)

	var wg sync.WaitGroup
	outcomes := make([]vat.ResolveOutcome, 2)
	errs := make([]error, 2)
	for i, errID := range []string{e1.ID, e2.ID} {
		wg.Add(1)
		go func(i int, errID string) {
			defer wg.Done()
			res, err := s.store.ResolveError(s.ctx, errID)
			outcomes[i], errs[i] = res.Outcome, err
		}(i, errID)
	}
	wg.Wait()

	s.Require().NoError(errs[0])
	s.Require().NoError(errs[1])
	s.ElementsMatch([]vat.ResolveOutcome{vat.ResolveErrorResolved, vat.ResolveAllResolvedAndResumed}, outcomes)

	n, err := s.store.CountPending(s.ctx, 11)
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *storeSuite) TestUpdateIdentity() {
	old := ident(3, "PL", "1")

	ok, err := s.store.UpdateIdentity(s.ctx, old, "PL", "2")
	s.Require().NoError(err)
	s.False(ok)

	_, err = s.store.AddPending(s.ctx, old, time.Time{})
	s.Require().NoError(err)
	_, err = s.store.AddPending(s.ctx, ident(3, "DE", "9"), time.Time{})
	s.Require().NoError(err)

	ok, err = s.store.UpdateIdentity(s.ctx, old, "PL", "2")
	s.Require().NoError(err)
	s.True(ok)

	found, err := s.store.FindPending(s.ctx, ident(3, "PL", "2"))
	s.Require().NoError(err)
	s.NotNil(found)

	_, err = s.store.UpdateIdentity(s.ctx, ident(3, "PL", "2"), "DE", "9")
	s.Require().ErrorIs(err, ErrIdentityTaken)
	s.True(IsStoreError(err))
}

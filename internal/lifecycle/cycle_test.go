package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/vatwatch/internal/vat"
	"github.com/m3rciful/vatwatch/internal/vies"
)

func TestRunCycleEmptyBatch(t *testing.T) {
	f := newFixture(t, Config{})

	report, err := f.engine.RunCycle(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Total)
	assert.Equal(t, StopNone, report.Stopped)
	assert.Empty(t, f.checker.checked())
	assert.Equal(t, 1, f.checker.inits)
}

func TestRunCycleValidIsRetiredAndBatchContinues(t *testing.T) {
	f := newFixture(t, Config{})
	f.addPending(t, 1, "PL111", time.Time{})
	f.addPending(t, 2, "DE222", time.Time{})
	f.checker.set("PL111", true, nil)
	f.checker.set("DE222", false, nil)

	report, err := f.engine.RunCycle(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Valid)
	assert.Equal(t, 1, report.StillPending)
	assert.Equal(t, []string{"PL111", "DE222"}, f.checker.checked())

	pending, err := f.store.ListPending(f.ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "DE222", pending[0].String())

	msgs := f.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(1), msgs[0].ownerID)
	assert.Contains(t, msgs[0].text, "'PL111' is now VALID")
}

func TestRunCycleExpiryHaltsBatch(t *testing.T) {
	f := newFixture(t, Config{})
	f.addPending(t, 1, "PL111", f.now.Add(-time.Hour))
	f.addPending(t, 2, "DE222", time.Time{})
	f.checker.set("PL111", false, nil)
	f.checker.set("DE222", true, nil)

	report, err := f.engine.RunCycle(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, StopExpired, report.Stopped)
	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, []string{"PL111"}, f.checker.checked(), "items after the expired one are not checked")

	pending, err := f.store.ListPending(f.ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "DE222", pending[0].String())

	msgs := f.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].text, "no longer monitored")
	assert.Equal(t, []StopReason{StopExpired}, f.rec.cycles)
}

func TestRunCycleInvalidNotExpiredStaysPending(t *testing.T) {
	f := newFixture(t, Config{})
	f.addPending(t, 1, "PL111", f.now.Add(time.Hour))
	f.checker.set("PL111", false, nil)

	report, err := f.engine.RunCycle(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.StillPending)
	assert.Empty(t, f.notifier.messages())

	n, err := f.store.CountPending(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// Scenario C: a recoverable failure stops the batch without touching the request.
func TestRunCycleRecoverableFailureStopsBatch(t *testing.T) {
	f := newFixture(t, Config{})
	f.addPending(t, 123, "XX123", time.Time{})
	f.addPending(t, 123, "XX456", time.Time{})
	f.checker.set("XX123", false, errors.New("soap fault: ... MS_UNAVAILABLE ..."))

	report, err := f.engine.RunCycle(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, StopRecoverable, report.Stopped)
	assert.Equal(t, vies.KindEndpointUnavailable, report.StopKind)
	assert.Equal(t, []string{"XX123"}, f.checker.checked())

	found, err := f.store.FindPending(f.ctx, vat.Identity{OwnerID: 123, CountryCode: "XX", VatNumber: "123"})
	require.NoError(t, err)
	assert.NotNil(t, found)

	errs, err := f.store.ListErrors(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.Empty(t, f.notifier.messages())
}

// Scenario D: an unclassified failure demotes the request and the batch continues.
func TestRunCycleUnknownFailureDemotes(t *testing.T) {
	f := newFixture(t, Config{})
	f.addPending(t, 123, "XX123", time.Time{})
	f.addPending(t, 7, "DE777", time.Time{})
	f.checker.set("XX123", false, errors.New("Oops"))
	f.checker.set("DE777", true, nil)

	report, err := f.engine.RunCycle(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, StopNone, report.Stopped)
	assert.Equal(t, 1, report.Demoted)
	assert.Equal(t, 1, report.Valid)

	found, err := f.store.FindPending(f.ctx, vat.Identity{OwnerID: 123, CountryCode: "XX", VatNumber: "123"})
	require.NoError(t, err)
	assert.Nil(t, found)

	errs, err := f.store.ListErrors(f.ctx)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "Oops", errs[0].ErrorText)
	assert.Equal(t, vat.Identity{OwnerID: 123, CountryCode: "XX", VatNumber: "123"}, errs[0].Identity)

	msgs := f.notifier.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(123), msgs[0].ownerID)
	assert.Contains(t, msgs[0].text, "stop monitoring the VAT number 'XX123'")
	assert.Equal(t, 1, f.rec.demotions)
}

func TestRunCycleCancelledCheckKeepsRequest(t *testing.T) {
	f := newFixture(t, Config{})
	f.addPending(t, 123, "XX123", time.Time{})
	f.addPending(t, 7, "DE777", time.Time{})

	ctx, cancel := context.WithCancel(f.ctx)
	defer cancel()
	f.checker.during = func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	}

	report, err := f.engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, StopCancelled, report.Stopped)
	assert.Equal(t, 1, report.Processed)
	assert.Zero(t, report.Demoted)
	assert.Equal(t, []string{"XX123"}, f.checker.checked())

	errs, err := f.store.ListErrors(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, errs)
	n, err := f.store.CountPending(f.ctx, 123)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, f.notifier.messages())
	assert.Zero(t, f.rec.demotions)
}

func TestRunCycleInvalidInputDemotes(t *testing.T) {
	f := newFixture(t, Config{})
	f.addPending(t, 1, "PL1", time.Time{})
	f.checker.set("PL1", false, &vies.Error{Kind: vies.KindInvalidInput, Message: "INVALID_INPUT"})

	report, err := f.engine.RunCycle(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Demoted)
}

func TestRunCycleNotifiesAdminWhenConfigured(t *testing.T) {
	f := newFixture(t, Config{AdminChatID: 999, NotifyAdminOnUnrecoverable: true})
	f.addPending(t, 1, "PL1", time.Time{})
	f.checker.set("PL1", false, errors.New("Oops"))

	_, err := f.engine.RunCycle(f.ctx)
	require.NoError(t, err)

	msgs := f.notifier.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(999), msgs[1].ownerID)
	assert.Contains(t, msgs[1].text, "[ADMIN]")
	assert.Contains(t, msgs[1].text, "Oops")
}

func TestRunCycleSkipsAdminWithoutChat(t *testing.T) {
	f := newFixture(t, Config{NotifyAdminOnUnrecoverable: true})
	f.addPending(t, 1, "PL1", time.Time{})
	f.checker.set("PL1", false, errors.New("Oops"))

	_, err := f.engine.RunCycle(f.ctx)
	require.NoError(t, err)
	assert.Len(t, f.notifier.messages(), 1)
}

func TestRunCycleNotificationFailures(t *testing.T) {
	t.Run("swallowed on the valid path", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.notifier.err = errors.New("telegram down")
		f.addPending(t, 1, "PL1", time.Time{})
		f.checker.set("PL1", true, nil)

		report, err := f.engine.RunCycle(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Valid)
	})

	t.Run("returned on the demotion path after the transition", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.notifier.err = errors.New("telegram down")
		f.addPending(t, 1, "PL1", time.Time{})
		f.checker.set("PL1", false, errors.New("Oops"))

		report, err := f.engine.RunCycle(f.ctx)
		require.Error(t, err)
		assert.Equal(t, StopFailed, report.Stopped)

		errs, lerr := f.store.ListErrors(f.ctx)
		require.NoError(t, lerr)
		assert.Len(t, errs, 1)
	})
}

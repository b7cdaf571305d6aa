package registrystore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, fmt.Sprintf("sqlite://file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedTenantAndTest(t *testing.T, s *Store, testID string) Test {
	t.Helper()
	ctx := context.Background()
	_, err := s.CreateTenant(ctx, "tenant-1", "Acme", 1000)
	require.NoError(t, err)

	test := Test{
		ID:                testID,
		TenantID:          "tenant-1",
		Name:              "homepage",
		BaseURL:           "https://example.com",
		TestKind:          TestKindStepflow,
		IntervalSeconds:   60,
		TimeoutSeconds:    30,
		DownAfterFailures: 2,
		UpAfterSuccesses:  2,
		Enabled:           true,
		CreatedAt:         1000,
	}
	created, err := s.CreateTest(ctx, test)
	require.NoError(t, err)
	return created
}

func TestCreateTenantAndAPIKeyRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateTenant(ctx, "tenant-1", "Acme", 1000)
	require.NoError(t, err)

	_, err = s.CreateAPIKey(ctx, "key-1", "tenant-1", "supersecrettoken", "ci", 1000)
	require.NoError(t, err)

	key, err := s.VerifyAPIKey(ctx, "supersecrettoken")
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", key.TenantID)

	_, err = s.VerifyAPIKey(ctx, "wrong-token")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.RevokeAPIKey(ctx, "key-1", 2000))
	_, err = s.VerifyAPIKey(ctx, "supersecrettoken")
	assert.Error(t, err)
}

func TestCreateAndGetTest(t *testing.T) {
	s := openTestStore(t)
	seedTenantAndTest(t, s, "test-1")

	got, err := s.GetTest(context.Background(), "test-1", "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "homepage", got.Name)
	assert.True(t, got.Enabled)

	_, err = s.GetTest(context.Background(), "test-1", "other-tenant")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunNowAndSetEnabled(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedTenantAndTest(t, s, "test-1")

	require.NoError(t, s.RunNow(ctx, "test-1", "tenant-1", 5000))
	st, err := s.GetTestState(ctx, "test-1")
	require.NoError(t, err)
	require.NotNil(t, st.NextDueTs)
	assert.Equal(t, int64(5000), *st.NextDueTs)

	require.NoError(t, s.SetEnabled(ctx, "test-1", "tenant-1", false, "maintenance", nil))
	got, err := s.GetTest(ctx, "test-1", "tenant-1")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, "maintenance", got.DisabledReason)
}

func TestClaimLeasesDueTestsAndLocksThem(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedTenantAndTest(t, s, "test-1")

	ids := []string{"run-1"}
	i := 0
	claimed, err := s.Claim(ctx, 5, 300, 2000, func() string {
		id := ids[i]
		i++
		return id
	})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "test-1", claimed[0].Test.ID)
	assert.Equal(t, "run-1", claimed[0].Run.ID)

	// Locked test should not be claimable again before the lock times out.
	more, err := s.Claim(ctx, 5, 300, 2001, func() string { return "run-2" })
	require.NoError(t, err)
	assert.Empty(t, more)

	st, err := s.GetTestState(ctx, "test-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", st.RunningLockID)
}

func TestClaimReclaimsStaleLock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedTenantAndTest(t, s, "test-1")

	_, err := s.Claim(ctx, 5, 60, 1000, func() string { return "run-1" })
	require.NoError(t, err)

	// Lock was taken at ts=1000 with a 60s timeout; by ts=2000 it is stale.
	claimed, err := s.Claim(ctx, 5, 60, 2000, func() string { return "run-2" })
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "run-2", claimed[0].Run.ID)
}

func TestCompletePassMarksEffectiveAfterThreshold(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedTenantAndTest(t, s, "test-1")

	claimed, err := s.Claim(ctx, 1, 300, 1000, func() string { return "run-1" })
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	elapsed := 120
	outcome, err := s.Complete(ctx, CompleteInput{
		RunID:     "run-1",
		Status:    RunStatusPass,
		ElapsedMs: &elapsed,
	}, 1100)
	require.NoError(t, err)
	assert.True(t, outcome.State.EffectiveOK)
	assert.False(t, outcome.AlertedDown)

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusPass, run.Status)
	require.NotNil(t, run.ElapsedMs)
	assert.Equal(t, 120, *run.ElapsedMs)

	st, err := s.GetTestState(ctx, "test-1")
	require.NoError(t, err)
	assert.Empty(t, st.RunningLockID)
	require.NotNil(t, st.NextDueTs)
	assert.GreaterOrEqual(t, *st.NextDueTs, int64(1100+60))
}

func TestCompleteFailAlertsOnDownTransition(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedTenantAndTest(t, s, "test-1") // down_after_failures=2

	for i, runID := range []string{"run-1", "run-2"} {
		claimed, err := s.Claim(ctx, 1, 300, int64(1000+i*1000), func() string { return runID })
		require.NoError(t, err)
		require.Len(t, claimed, 1)

		outcome, err := s.Complete(ctx, CompleteInput{
			RunID:        runID,
			Status:       RunStatusFail,
			ErrorKind:    "assertion_failed",
			ErrorMessage: "selector not found",
		}, int64(1050+i*1000))
		require.NoError(t, err)

		if i == 0 {
			assert.False(t, outcome.AlertedDown)
		} else {
			assert.True(t, outcome.AlertedDown)
			assert.False(t, outcome.State.EffectiveOK)
		}
	}
}

func TestCompleteInfraDegradedDoesNotTouchEffectiveState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedTenantAndTest(t, s, "test-1")

	_, err := s.Claim(ctx, 1, 300, 1000, func() string { return "run-1" })
	require.NoError(t, err)

	outcome, err := s.Complete(ctx, CompleteInput{
		RunID:        "run-1",
		Status:       RunStatusInfraDegraded,
		ErrorKind:    "timeout",
		ErrorMessage: "browser launch timed out",
	}, 1050)
	require.NoError(t, err)
	assert.True(t, outcome.State.EffectiveOK)
	assert.False(t, outcome.AlertedDown)
	require.NotNil(t, outcome.State.LastInfraTs)
}

func TestCompleteIsIdempotentPerRunID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedTenantAndTest(t, s, "test-1") // down_after_failures=2

	_, err := s.Claim(ctx, 1, 300, 1000, func() string { return "run-1" })
	require.NoError(t, err)

	first, err := s.Complete(ctx, CompleteInput{
		RunID:        "run-1",
		Status:       RunStatusFail,
		ErrorKind:    "assertion_failed",
		ErrorMessage: "selector not found",
	}, 1050)
	require.NoError(t, err)
	assert.False(t, first.AlertedDown) // first failure, threshold not yet reached
	assert.Equal(t, 1, first.State.FailStreak)
	firstNextDue := *first.State.NextDueTs

	// A duplicate delivery of the same completion (e.g. a runner retry
	// after a dropped ack) must not double-increment the fail streak or
	// reschedule next_due_ts to a new value.
	second, err := s.Complete(ctx, CompleteInput{
		RunID:        "run-1",
		Status:       RunStatusFail,
		ErrorKind:    "assertion_failed",
		ErrorMessage: "selector not found",
	}, 1999)
	require.NoError(t, err)
	assert.False(t, second.AlertedDown)
	assert.Equal(t, 1, second.State.FailStreak)
	assert.Equal(t, firstNextDue, *second.State.NextDueTs)

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusFail, run.Status)
}

func TestCompleteUnknownRunIsBenignNoOp(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Complete(context.Background(), CompleteInput{RunID: "missing", Status: RunStatusPass}, 1000)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStatusSummaryScopesToTenant(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedTenantAndTest(t, s, "test-1")

	_, err := s.CreateTenant(ctx, "tenant-2", "Other", 1000)
	require.NoError(t, err)
	_, err = s.CreateTest(ctx, Test{
		ID: "test-2", TenantID: "tenant-2", Name: "other", BaseURL: "https://other.example.com",
		TestKind: TestKindStepflow, IntervalSeconds: 60, Enabled: true, CreatedAt: 1000,
	})
	require.NoError(t, err)

	rows, err := s.StatusSummary(ctx, "tenant-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "test-1", rows[0].TestID)

	all, err := s.StatusSummary(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRecordDispatchRun(t *testing.T) {
	s := openTestStore(t)
	err := s.RecordDispatchRun(context.Background(), DispatchRun{
		ID:       "dispatch-1",
		Ts:       1000,
		StateKey: "registry:test-1",
		Bundle:   "e2e-fix-bundle",
	})
	assert.NoError(t, err)
}

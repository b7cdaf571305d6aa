package registrystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"

	"sentryfleet/internal/debounce"
)

// Claim leases up to maxRuns due tests, inserting a pending run row for
// each and marking the test locked. Stale locks older than lockTimeoutSec
// are treated as free.
func (s *Store) Claim(ctx context.Context, maxRuns int, lockTimeoutSec int64, now int64, newRunID func() string) ([]ClaimedRun, error) {
	var claimed []ClaimedRun

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.Query(
			fmt.Sprintf(`SELECT %s FROM tests t
			 JOIN test_state ts ON ts.test_id = t.id
			 WHERE t.enabled = 1
			   AND (t.disabled_until_ts IS NULL OR t.disabled_until_ts <= ?)
			   AND (ts.next_due_ts IS NULL OR ts.next_due_ts <= ?)
			   AND (ts.running_lock_id IS NULL OR ts.running_locked_at_ts < ?)
			 ORDER BY ts.next_due_ts ASC, t.created_at ASC
			 LIMIT ?`, qualifiedTestColumns("t")),
			now, now, now-lockTimeoutSec, maxRuns)
		if err != nil {
			return fmt.Errorf("select claimable tests: %w", err)
		}

		var tests []Test
		for rows.Next() {
			t, err := scanTest(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan claimable test: %w", err)
			}
			tests = append(tests, t)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()

		for _, t := range tests {
			runID := newRunID()
			if _, err := tx.Exec(
				`UPDATE test_state SET running_lock_id = ?, running_locked_at_ts = ? WHERE test_id = ?`,
				runID, now, t.ID); err != nil {
				return fmt.Errorf("lock test %s: %w", t.ID, err)
			}
			run := Run{
				ID:             runID,
				TestID:         t.ID,
				ScheduledForTs: now,
				Status:         RunStatusInfraDegraded,
				ErrorKind:      "pending",
			}
			if _, err := tx.Exec(
				`INSERT INTO runs (id, test_id, scheduled_for_ts, status, error_kind) VALUES (?,?,?,?,?)`,
				run.ID, run.TestID, run.ScheduledForTs, run.Status, run.ErrorKind); err != nil {
				return fmt.Errorf("insert run %s: %w", run.ID, err)
			}
			claimed = append(claimed, ClaimedRun{Run: run, Test: t})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func qualifiedTestColumns(alias string) string {
	return fmt.Sprintf(`%[1]s.id, %[1]s.tenant_id, %[1]s.name, %[1]s.base_url, %[1]s.test_kind, %[1]s.definition_json,
		%[1]s.source_relpath, %[1]s.source_sha256, %[1]s.interval_seconds, %[1]s.timeout_seconds,
		%[1]s.jitter_seconds, %[1]s.down_after_failures, %[1]s.up_after_successes,
		%[1]s.notify_on_recovery, %[1]s.dispatch_on_failure, %[1]s.enabled,
		%[1]s.disabled_reason, %[1]s.disabled_until_ts, %[1]s.created_at`, alias)
}

// Complete applies a runner's terminal outcome for runID: it overwrites the
// run row, clears the lock, reschedules next_due_ts, and — unless the
// outcome is infra_degraded — runs the debounce machine to produce the
// post-commit alert decision.
//
// Idempotent per run_id: a run row only leaves its claim-time placeholder
// (status infra_degraded with error_kind "pending") once.
// A duplicate completion (e.g. a runner retry after a dropped ack) finds
// the run already terminal and returns the already-settled test state
// without re-running the debounce machine or rescheduling next_due_ts.
func (s *Store) Complete(ctx context.Context, in CompleteInput, now int64) (CompleteOutcome, error) {
	var out CompleteOutcome

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		var testID string
		var runStatus RunStatus
		var runErrorKind sql.NullString
		if err := tx.QueryRow(`SELECT test_id, status, error_kind FROM runs WHERE id = ?`, in.RunID).Scan(&testID, &runStatus, &runErrorKind); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("load run: %w", err)
		}

		t, err := scanTest(tx.QueryRow(fmt.Sprintf(`SELECT %s FROM tests WHERE id = ?`, testColumns), testID))
		if err != nil {
			return fmt.Errorf("load test: %w", err)
		}
		out.Test = t

		if runStatus != RunStatusInfraDegraded || runErrorKind.String != "pending" {
			st, err := loadTestStateTx(tx, testID)
			if err != nil {
				return fmt.Errorf("load test state: %w", err)
			}
			out.State = st
			return nil
		}

		if _, err := tx.Exec(
			`UPDATE runs SET started_at_ts=?, finished_at_ts=?, status=?, elapsed_ms=?,
			 error_kind=?, error_message=?, final_url=?, title=?, artifacts_json=?
			 WHERE id = ?`,
			in.StartedAtTs, in.FinishedAtTs, in.Status, in.ElapsedMs,
			nullIfEmpty(in.ErrorKind), nullIfEmpty(in.ErrorMessage), nullIfEmpty(in.FinalURL),
			nullIfEmpty(in.Title), nullIfEmpty(in.ArtifactsJSON), in.RunID,
		); err != nil {
			return fmt.Errorf("update run: %w", err)
		}

		jitter := int64(0)
		if t.JitterSeconds > 0 {
			jitter = rand.Int63n(int64(t.JitterSeconds) + 1)
		}
		nextDue := now + int64(t.IntervalSeconds) + jitter

		st, err := loadTestStateTx(tx, testID)
		if err != nil {
			return fmt.Errorf("load test state: %w", err)
		}

		if in.Status == RunStatusInfraDegraded {
			st.LastInfraTs = &now
		} else {
			ds := debounce.State{
				EffectiveOK:   st.EffectiveOK,
				FailStreak:    st.FailStreak,
				SuccessStreak: st.SuccessStreak,
				LastOKTs:      st.LastOKTs,
				LastFailTs:    st.LastFailTs,
			}
			transition := debounce.Apply(&ds, in.Status == RunStatusPass, debounce.Thresholds{
				DownAfterFailures: t.DownAfterFailures,
				UpAfterSuccesses:  t.UpAfterSuccesses,
			}, now)
			st.EffectiveOK = ds.EffectiveOK
			st.FailStreak = ds.FailStreak
			st.SuccessStreak = ds.SuccessStreak
			st.LastOKTs = ds.LastOKTs
			st.LastFailTs = ds.LastFailTs
			out.AlertedDown = transition.AlertedDown
			out.RecoveredUp = transition.RecoveredUp
		}

		if _, err := tx.Exec(
			`UPDATE test_state SET effective_ok=?, fail_streak=?, success_streak=?,
			 last_ok_ts=?, last_fail_ts=?, last_infra_ts=?, next_due_ts=?,
			 running_lock_id=NULL, running_locked_at_ts=NULL
			 WHERE test_id = ?`,
			st.EffectiveOK, st.FailStreak, st.SuccessStreak,
			st.LastOKTs, st.LastFailTs, st.LastInfraTs, nextDue, testID,
		); err != nil {
			return fmt.Errorf("update test state: %w", err)
		}

		st.NextDueTs = &nextDue
		st.RunningLockID = ""
		st.RunningLockedAtTs = nil
		out.State = st
		return nil
	})
	if err != nil {
		return CompleteOutcome{}, err
	}
	return out, nil
}

func loadTestStateTx(tx *sql.Tx, testID string) (TestState, error) {
	var st TestState
	var lastOK, lastFail, lastInfra, nextDue, lockedAt sql.NullInt64
	var lockID sql.NullString
	err := tx.QueryRow(
		`SELECT test_id, effective_ok, fail_streak, success_streak, last_ok_ts,
		        last_fail_ts, last_infra_ts, next_due_ts, running_lock_id, running_locked_at_ts
		 FROM test_state WHERE test_id = ?`, testID,
	).Scan(&st.TestID, &st.EffectiveOK, &st.FailStreak, &st.SuccessStreak, &lastOK,
		&lastFail, &lastInfra, &nextDue, &lockID, &lockedAt)
	if err != nil {
		return TestState{}, err
	}
	if lastOK.Valid {
		st.LastOKTs = &lastOK.Int64
	}
	if lastFail.Valid {
		st.LastFailTs = &lastFail.Int64
	}
	if lastInfra.Valid {
		st.LastInfraTs = &lastInfra.Int64
	}
	if nextDue.Valid {
		st.NextDueTs = &nextDue.Int64
	}
	st.RunningLockID = lockID.String
	if lockedAt.Valid {
		st.RunningLockedAtTs = &lockedAt.Int64
	}
	return st, nil
}

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	r, err := scanRun(s.DB.QueryRowContext(ctx,
		`SELECT id, test_id, scheduled_for_ts, started_at_ts, finished_at_ts, status,
		        elapsed_ms, error_kind, error_message, final_url, title, artifacts_json
		 FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs for a test, newest first, capped
// at limit.
func (s *Store) ListRuns(ctx context.Context, testID string, limit int) ([]Run, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, test_id, scheduled_for_ts, started_at_ts, finished_at_ts, status,
		        elapsed_ms, error_kind, error_message, final_url, title, artifacts_json
		 FROM runs WHERE test_id = ? ORDER BY scheduled_for_ts DESC LIMIT ?`, testID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRun(row interface{ Scan(...interface{}) error }) (Run, error) {
	var r Run
	var started, finished, elapsed sql.NullInt64
	var errKind, errMsg, finalURL, title, artifacts sql.NullString
	err := row.Scan(&r.ID, &r.TestID, &r.ScheduledForTs, &started, &finished, &r.Status,
		&elapsed, &errKind, &errMsg, &finalURL, &title, &artifacts)
	if err != nil {
		return Run{}, err
	}
	if started.Valid {
		r.StartedAtTs = &started.Int64
	}
	if finished.Valid {
		r.FinishedAtTs = &finished.Int64
	}
	if elapsed.Valid {
		ms := int(elapsed.Int64)
		r.ElapsedMs = &ms
	}
	r.ErrorKind = errKind.String
	r.ErrorMessage = errMsg.String
	r.FinalURL = finalURL.String
	r.Title = title.String
	r.ArtifactsJSON = artifacts.String
	return r, nil
}

// RecordDispatchRun appends one entry to the dispatch-run audit log.
func (s *Store) RecordDispatchRun(ctx context.Context, d DispatchRun) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO dispatch_runs (id, ts, state_key, bundle, ui_url, queue_state, agent_message, error_message, context_json)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		d.ID, d.Ts, d.StateKey, nullIfEmpty(d.Bundle), nullIfEmpty(d.UIURL), nullIfEmpty(d.QueueState),
		nullIfEmpty(d.AgentMessage), nullIfEmpty(d.ErrorMessage), nullIfEmpty(d.ContextJSON))
	if err != nil {
		return fmt.Errorf("insert dispatch run: %w", err)
	}
	return nil
}

// StatusSummaryRow is one line of the /status/summary response.
type StatusSummaryRow struct {
	TestID      string
	TenantID    string
	Name        string
	EffectiveOK bool
	LastOKTs    *int64
	LastFailTs  *int64
}

// StatusSummary lists effective status for every test owned by tenantID.
// An empty tenantID returns every tenant's tests, for admin/monitor callers.
func (s *Store) StatusSummary(ctx context.Context, tenantID string) ([]StatusSummaryRow, error) {
	query := `SELECT t.id, t.tenant_id, t.name, ts.effective_ok, ts.last_ok_ts, ts.last_fail_ts
	          FROM tests t JOIN test_state ts ON ts.test_id = t.id`
	args := []interface{}{}
	if tenantID != "" {
		query += ` WHERE t.tenant_id = ?`
		args = append(args, tenantID)
	}
	query += ` ORDER BY t.name ASC`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("status summary: %w", err)
	}
	defer rows.Close()

	var out []StatusSummaryRow
	for rows.Next() {
		var row StatusSummaryRow
		var lastOK, lastFail sql.NullInt64
		if err := rows.Scan(&row.TestID, &row.TenantID, &row.Name, &row.EffectiveOK, &lastOK, &lastFail); err != nil {
			return nil, fmt.Errorf("scan status summary row: %w", err)
		}
		if lastOK.Valid {
			row.LastOKTs = &lastOK.Int64
		}
		if lastFail.Valid {
			row.LastFailTs = &lastFail.Int64
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

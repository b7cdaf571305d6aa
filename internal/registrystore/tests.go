package registrystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateTest inserts a new test plus its zero-value state row.
func (s *Store) CreateTest(ctx context.Context, t Test) (Test, error) {
	return t, s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO tests (
				id, tenant_id, name, base_url, test_kind, definition_json,
				source_relpath, source_sha256, interval_seconds, timeout_seconds,
				jitter_seconds, down_after_failures, up_after_successes,
				notify_on_recovery, dispatch_on_failure, enabled,
				disabled_reason, disabled_until_ts, created_at
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			t.ID, t.TenantID, t.Name, t.BaseURL, t.TestKind, nullIfEmpty(t.DefinitionJSON),
			nullIfEmpty(t.SourceRelpath), nullIfEmpty(t.SourceSHA256), t.IntervalSeconds, t.TimeoutSeconds,
			t.JitterSeconds, t.DownAfterFailures, t.UpAfterSuccesses,
			t.NotifyOnRecovery, t.DispatchOnFailure, t.Enabled,
			nullIfEmpty(t.DisabledReason), t.DisabledUntilTs, t.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert test: %w", err)
		}
		_, err = tx.Exec(
			`INSERT INTO test_state (test_id, effective_ok, next_due_ts) VALUES (?, 1, ?)`,
			t.ID, t.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert test_state: %w", err)
		}
		return nil
	})
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func scanTest(row interface{ Scan(...interface{}) error }) (Test, error) {
	var t Test
	var definition, relpath, sha, disabledReason sql.NullString
	var disabledUntil sql.NullInt64
	err := row.Scan(
		&t.ID, &t.TenantID, &t.Name, &t.BaseURL, &t.TestKind, &definition,
		&relpath, &sha, &t.IntervalSeconds, &t.TimeoutSeconds,
		&t.JitterSeconds, &t.DownAfterFailures, &t.UpAfterSuccesses,
		&t.NotifyOnRecovery, &t.DispatchOnFailure, &t.Enabled,
		&disabledReason, &disabledUntil, &t.CreatedAt,
	)
	if err != nil {
		return Test{}, err
	}
	t.DefinitionJSON = definition.String
	t.SourceRelpath = relpath.String
	t.SourceSHA256 = sha.String
	t.DisabledReason = disabledReason.String
	if disabledUntil.Valid {
		t.DisabledUntilTs = &disabledUntil.Int64
	}
	return t, nil
}

const testColumns = `id, tenant_id, name, base_url, test_kind, definition_json,
	source_relpath, source_sha256, interval_seconds, timeout_seconds,
	jitter_seconds, down_after_failures, up_after_successes,
	notify_on_recovery, dispatch_on_failure, enabled,
	disabled_reason, disabled_until_ts, created_at`

// GetTest loads a test by id, scoped to tenantID (empty tenantID skips the
// scope check, for admin/monitor callers).
func (s *Store) GetTest(ctx context.Context, id, tenantID string) (Test, error) {
	query := fmt.Sprintf(`SELECT %s FROM tests WHERE id = ?`, testColumns)
	args := []interface{}{id}
	if tenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, tenantID)
	}
	row := s.DB.QueryRowContext(ctx, query, args...)
	t, err := scanTest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Test{}, ErrNotFound
	}
	if err != nil {
		return Test{}, fmt.Errorf("get test: %w", err)
	}
	return t, nil
}

// ListTests returns every test owned by tenantID, newest first.
func (s *Store) ListTests(ctx context.Context, tenantID string) ([]Test, error) {
	rows, err := s.DB.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM tests WHERE tenant_id = ? ORDER BY created_at DESC`, testColumns),
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}
	defer rows.Close()

	var out []Test
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan test: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTest persists name/base_url/definition_json changes for a test
// scoped to tenantID. Other fields are immutable after creation via this
// path; use SetEnabled/RunNow for scheduling state.
func (s *Store) UpdateTest(ctx context.Context, t Test) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE tests SET name = ?, base_url = ?, definition_json = ?
		 WHERE id = ? AND tenant_id = ?`,
		t.Name, t.BaseURL, nullIfEmpty(t.DefinitionJSON), t.ID, t.TenantID)
	if err != nil {
		return fmt.Errorf("update test: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetEnabled toggles enabled/disabled_reason/disabled_until_ts for a test
// scoped to tenantID. Used by disable/enable endpoints.
func (s *Store) SetEnabled(ctx context.Context, id, tenantID string, enabled bool, reason string, disabledUntilTs *int64) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE tests SET enabled = ?, disabled_reason = ?, disabled_until_ts = ?
		 WHERE id = ? AND tenant_id = ?`,
		enabled, nullIfEmpty(reason), disabledUntilTs, id, tenantID)
	if err != nil {
		return fmt.Errorf("set enabled: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RunNow forces a test's next_due_ts to now, scoped to tenantID.
func (s *Store) RunNow(ctx context.Context, id, tenantID string, now int64) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE test_state SET next_due_ts = ?
		 WHERE test_id = ? AND test_id IN (SELECT id FROM tests WHERE tenant_id = ?)`,
		now, id, tenantID)
	if err != nil {
		return fmt.Errorf("run now: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTestState loads the debounce/scheduling row for a test.
func (s *Store) GetTestState(ctx context.Context, testID string) (TestState, error) {
	var st TestState
	var lastOK, lastFail, lastInfra, nextDue, lockedAt sql.NullInt64
	var lockID sql.NullString
	err := s.DB.QueryRowContext(ctx,
		`SELECT test_id, effective_ok, fail_streak, success_streak, last_ok_ts,
		        last_fail_ts, last_infra_ts, next_due_ts, running_lock_id, running_locked_at_ts
		 FROM test_state WHERE test_id = ?`, testID,
	).Scan(&st.TestID, &st.EffectiveOK, &st.FailStreak, &st.SuccessStreak, &lastOK,
		&lastFail, &lastInfra, &nextDue, &lockID, &lockedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return TestState{}, ErrNotFound
	}
	if err != nil {
		return TestState{}, fmt.Errorf("get test state: %w", err)
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

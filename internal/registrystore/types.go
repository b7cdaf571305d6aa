package registrystore

// Tenant is a registry customer. Never hard-deleted.
type Tenant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
}

// APIKey authenticates a tenant. Token is only ever returned at creation;
// the stored TokenHash is sha256(token).
type APIKey struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	TokenHash string `json:"-"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
	RevokedAt *int64 `json:"revoked_at,omitempty"`
}

// TestKind enumerates the three supported test execution strategies.
type TestKind string

const (
	TestKindStepflow        TestKind = "stepflow"
	TestKindPlaywrightPython TestKind = "playwright_python"
	TestKindPuppeteerJS      TestKind = "puppeteer_js"
)

// Test is a tenant-owned synthetic check definition.
type Test struct {
	ID                 string   `json:"id"`
	TenantID            string   `json:"tenant_id"`
	Name                string   `json:"name"`
	BaseURL             string   `json:"base_url"`
	TestKind            TestKind `json:"test_kind"`
	DefinitionJSON      string   `json:"definition_json,omitempty"`
	SourceRelpath       string   `json:"source_relpath,omitempty"`
	SourceSHA256        string   `json:"source_sha256,omitempty"`
	IntervalSeconds     int      `json:"interval_seconds"`
	TimeoutSeconds      int      `json:"timeout_seconds"`
	JitterSeconds       int      `json:"jitter_seconds"`
	DownAfterFailures   int      `json:"down_after_failures"`
	UpAfterSuccesses    int      `json:"up_after_successes"`
	NotifyOnRecovery    bool     `json:"notify_on_recovery"`
	DispatchOnFailure   bool     `json:"dispatch_on_failure"`
	Enabled             bool     `json:"enabled"`
	DisabledReason      string   `json:"disabled_reason,omitempty"`
	DisabledUntilTs     *int64   `json:"disabled_until_ts,omitempty"`
	CreatedAt           int64    `json:"created_at"`
}

// TestState is the one-to-one debounce/scheduling state for a Test.
type TestState struct {
	TestID             string `json:"test_id"`
	EffectiveOK        bool   `json:"effective_ok"`
	FailStreak         int    `json:"fail_streak"`
	SuccessStreak      int    `json:"success_streak"`
	LastOKTs           *int64 `json:"last_ok_ts,omitempty"`
	LastFailTs         *int64 `json:"last_fail_ts,omitempty"`
	LastInfraTs        *int64 `json:"last_infra_ts,omitempty"`
	NextDueTs          *int64 `json:"next_due_ts,omitempty"`
	RunningLockID      string `json:"running_lock_id,omitempty"`
	RunningLockedAtTs  *int64 `json:"running_locked_at_ts,omitempty"`
}

// RunStatus is a Run's terminal (or pending) outcome. A claimed run that has
// not completed yet is stored as RunStatusInfraDegraded with error_kind
// "pending".
type RunStatus string

const (
	RunStatusPending        RunStatus = "pending"
	RunStatusPass           RunStatus = "pass"
	RunStatusFail           RunStatus = "fail"
	RunStatusInfraDegraded  RunStatus = "infra_degraded"
)

// Run is a single scheduled/claimed/completed execution of a Test.
type Run struct {
	ID             string    `json:"id"`
	TestID         string    `json:"test_id"`
	ScheduledForTs int64     `json:"scheduled_for_ts"`
	StartedAtTs    *int64    `json:"started_at_ts,omitempty"`
	FinishedAtTs   *int64    `json:"finished_at_ts,omitempty"`
	Status         RunStatus `json:"status"`
	ElapsedMs      *int      `json:"elapsed_ms,omitempty"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	FinalURL       string    `json:"final_url,omitempty"`
	Title          string    `json:"title,omitempty"`
	ArtifactsJSON  string    `json:"artifacts_json,omitempty"`
}

// DispatchRun is one append-only entry of the dispatcher escalation log.
type DispatchRun struct {
	ID           string `json:"id"`
	Ts           int64  `json:"ts"`
	StateKey     string `json:"state_key"`
	Bundle       string `json:"bundle,omitempty"`
	UIURL        string `json:"ui_url,omitempty"`
	QueueState   string `json:"queue_state,omitempty"`
	AgentMessage string `json:"agent_message,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	ContextJSON  string `json:"context_json,omitempty"`
}

// CompleteInput is the runner's outcome payload to Complete.
type CompleteInput struct {
	RunID        string
	Status       RunStatus
	ElapsedMs    *int
	ErrorKind    string
	ErrorMessage string
	FinalURL     string
	Title        string
	ArtifactsJSON string
	StartedAtTs  *int64
	FinishedAtTs *int64
}

// CompleteOutcome reports the debounce edge transition Complete produced,
// for the caller's post-commit alert/dispatch path.
type CompleteOutcome struct {
	Test        Test
	State       TestState
	AlertedDown bool
	RecoveredUp bool
}

// ClaimedRun is one descriptor handed back by Claim for the runner to
// execute.
type ClaimedRun struct {
	Run  Run
	Test Test
}

// Package monitord is the domain monitor's orchestration layer: the
// scheduler loop that ties config, probes, signals, debounce, history, and
// alert delivery into one fixed-interval cycle, plus the optional
// etcd-backed multi-instance coordinator.
package monitord

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sentryfleet/internal/alertsink"
	"sentryfleet/internal/debounce"
	"sentryfleet/internal/dispatcher"
	"sentryfleet/internal/dockerhealth"
	"sentryfleet/internal/history"
	"sentryfleet/internal/logger"
	"sentryfleet/internal/monitorcfg"
	"sentryfleet/internal/probe"
	"sentryfleet/internal/signal"
	"sentryfleet/internal/telemetry"
)

// Thresholds applied uniformly to every domain's primary up/down state
// machine. A future per-domain override would live on DomainEntry; for now
// these are global scheduler settings.
type Thresholds struct {
	DownAfterFailures int
	UpAfterSuccesses  int
}

// Scheduler runs one monitor cycle at a time. It owns the long-lived
// resources (shared browser, dispatcher/telegram clients, docker client)
// that persist across cycles.
type Scheduler struct {
	ConfigPath string
	StatePath  string

	Browser        *probe.Browser
	Dispatcher     *dispatcher.Client
	Telegram       *alertsink.TelegramSender
	DockerClient   *dockerhealth.Client
	Coordinator    *Coordinator
	Thresholds     Thresholds
	DispatchEscalationEnabled bool

	state *MonitorState
	mu    sync.Mutex
}

// Snapshot returns a deep copy of the scheduler's current state for
// read-only consumers (internal/dashboard) that run concurrently with
// RunCycle. A cold scheduler (no cycle run yet) returns an empty state
// rather than nil.
func (s *Scheduler) Snapshot() *MonitorState {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == nil {
		return NewMonitorState()
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return NewMonitorState()
	}
	var snap MonitorState
	if err := json.Unmarshal(raw, &snap); err != nil {
		return NewMonitorState()
	}
	return &snap
}

// domainOutcome bundles a domain's probe outcome with the config entry it
// was evaluated against, for use after the concurrent fan-out completes.
type domainOutcome struct {
	domain  string
	spec    probe.DomainSpec
	outcome probe.Outcome
}

// RunCycle executes exactly one monitor cycle: load config, probe every
// enabled domain concurrently, run cross-cutting signal checks, update
// debounce state, append history samples, compute RED/SLO violations,
// alert on transitions, and persist state. One domain's failure never
// aborts another domain's probe or the cycle as a whole.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	ctx = logger.WithComponent(ctx, "monitord")
	log := logger.GetLogger(ctx)
	now := time.Now().Unix()
	cycleStart := time.Now()
	defer func() { telemetry.ObserveCycleDuration(time.Since(cycleStart)) }()

	cfg, err := monitorcfg.Load(s.ConfigPath)
	if err != nil {
		log.Error("config load failed, skipping cycle", zap.Error(err))
		return fmt.Errorf("load config: %w", err)
	}

	s.mu.Lock()
	if s.state == nil {
		st, loadErr := LoadState(s.StatePath)
		if loadErr != nil {
			log.Warn("state load degraded to cold start", zap.Error(loadErr))
		}
		s.state = st
	}
	state := s.state
	s.mu.Unlock()

	enabled := monitorcfg.EnabledDomains(cfg, now)
	if s.Coordinator != nil {
		names := make([]string, 0, len(enabled))
		for _, d := range enabled {
			names = append(names, d.Domain)
		}
		assigned := make(map[string]bool, len(names))
		for _, d := range s.Coordinator.GetAssignedDomains(names) {
			assigned[d] = true
		}
		filtered := enabled[:0]
		for _, d := range enabled {
			if assigned[d.Domain] {
				filtered = append(filtered, d)
			}
		}
		enabled = filtered
	}

	outcomes := s.probeDomains(ctx, enabled)

	headersByDomain := make(map[string]map[string]string, len(outcomes))
	for _, o := range outcomes {
		headersByDomain[o.domain] = o.outcome.CapturedHeaders
	}
	s.runCrossCuttingSignals(ctx, state, cfg, enabled, headersByDomain, now)

	for _, o := range outcomes {
		s.applyOutcome(ctx, state, o, now)
	}

	history.Prune(state.History, now-int64(cfg.History.RetentionDays)*86400)

	s.evaluateRedAndSLO(state, cfg, now)

	if err := SaveState(s.StatePath, state); err != nil {
		log.Error("state persistence failed", zap.Error(err))
		meta := state.SignalState(signal.KindMeta, "state_write")
		meta.FailStreak++
		meta.LastOK = false
		if meta.FailStreak >= 3 {
			state.AppendEvent(EventLogEntry{Ts: now, Kind: "meta", Subject: "state_write", Message: "state write failing repeatedly"})
		}
		return fmt.Errorf("save state: %w", err)
	}

	return nil
}

// probeDomains runs the HTTP check (and, when it succeeds, the browser
// check) concurrently across every enabled domain.
func (s *Scheduler) probeDomains(ctx context.Context, entries []monitorcfg.DomainEntry) []domainOutcome {
	results := make([]domainOutcome, len(entries))
	var wg sync.WaitGroup

	for i, entry := range entries {
		wg.Add(1)
		go func(i int, entry monitorcfg.DomainEntry) {
			defer wg.Done()
			spec := entry.ToProbeSpec()

			httpTimeout := time.Duration(spec.HTTPTimeoutSeconds) * time.Second
			httpCtx, cancel := context.WithTimeout(ctx, httpTimeout)
			outcome := probe.HTTPCheck(httpCtx, spec)
			cancel()

			if outcome.OK && s.Browser != nil {
				browserTimeout := time.Duration(spec.BrowserTimeoutSeconds) * time.Second
				browserCtx, bcancel := context.WithTimeout(ctx, browserTimeout)
				browserOutcome := probe.BrowserCheck(browserCtx, s.Browser, spec)
				bcancel()

				outcome.BrowserElapsedMs = browserOutcome.BrowserElapsedMs
				outcome.BrowserInfraError = browserOutcome.BrowserInfraError
				if !browserOutcome.BrowserInfraError {
					outcome.OK = outcome.OK && browserOutcome.OK
				}
				if !browserOutcome.OK && !browserOutcome.BrowserInfraError {
					outcome.Reason = browserOutcome.Reason
					outcome.ErrorKind = browserOutcome.ErrorKind
				}
			}

			results[i] = domainOutcome{domain: entry.Domain, spec: spec, outcome: outcome}
		}(i, entry)
	}

	wg.Wait()
	return results
}

// applyOutcome folds one domain's probe outcome into the debounce state
// machine and appends a history sample recording the debounced effective
// value, not the raw observation.
func (s *Scheduler) applyOutcome(ctx context.Context, state *MonitorState, o domainOutcome, now int64) {
	log := logger.GetLogger(ctx)

	if o.outcome.BrowserInfraError {
		browserSignal := state.SignalState(signal.KindBrowser, "")
		browserSignal.FailStreak++
		browserSignal.LastOK = false
		browserSignal.LastRunTs = &now
	}

	th := debounce.Thresholds{DownAfterFailures: s.Thresholds.DownAfterFailures, UpAfterSuccesses: s.Thresholds.UpAfterSuccesses}
	if th.DownAfterFailures <= 0 {
		th.DownAfterFailures = 3
	}
	if th.UpAfterSuccesses <= 0 {
		th.UpAfterSuccesses = 2
	}

	st := state.DebounceState(o.domain)
	transition := debounce.Apply(st, o.outcome.OK, th, now)

	outcomeStatus := "ok"
	if !o.outcome.OK {
		outcomeStatus = "fail"
	}
	telemetry.RecordProbeOutcome(o.domain, "http_browser", outcomeStatus)

	history.AppendSample(state.History, o.domain, history.Sample{
		Ts:               now,
		OK:               transition.Effective,
		HTTPElapsedMs:    o.outcome.HTTPElapsedMs,
		BrowserElapsedMs: o.outcome.BrowserElapsedMs,
		StatusCode:       o.outcome.StatusCode,
	})

	if transition.AlertedDown {
		log.Warn("domain transitioned down", zap.String("domain", o.domain), zap.String("reason", o.outcome.Reason))
		s.sendAlert(ctx, alertsink.AlertEvent{
			Domain:     o.domain,
			Signal:     "http_browser",
			Recovered:  false,
			Reason:     o.outcome.Reason,
			FailStreak: int64(st.FailStreak),
			LastOKTs:   st.LastOKTs,
		})
		if s.DispatchEscalationEnabled && s.Dispatcher != nil {
			go s.escalate(context.Background(), o.domain, o.outcome)
		}
	} else if transition.RecoveredUp {
		log.Info("domain recovered", zap.String("domain", o.domain))
		s.sendAlert(ctx, alertsink.AlertEvent{
			Domain:        o.domain,
			Signal:        "http_browser",
			Recovered:     true,
			SuccessStreak: int64(st.SuccessStreak),
			LastOKTs:      st.LastOKTs,
		})
	}
}

// sendAlert is best-effort: delivery failures are logged, never returned,
// so a Telegram outage cannot stall the cycle.
func (s *Scheduler) sendAlert(ctx context.Context, ev alertsink.AlertEvent) {
	if s.Telegram == nil {
		return
	}
	if err := s.Telegram.SendAlert(ctx, ev); err != nil {
		logger.GetLogger(ctx).Warn("alert delivery failed", zap.String("domain", ev.Domain), zap.Error(err))
		return
	}
	kind := "down"
	if ev.Recovered {
		kind = "recovered"
	}
	telemetry.RecordAlert(kind)
}

// escalate requests a read-only investigation for a confirmed-down domain
// and, once it terminates, appends the agent's conclusion as a follow-up
// alert. The dispatcher's own best-effort contract means any failure here
// never blocks or retries against the primary alert.
func (s *Scheduler) escalate(ctx context.Context, domain string, outcome probe.Outcome) {
	req := dispatcher.DispatchRequest{
		Prompt:   fmt.Sprintf("Investigate why %s is failing: %s", domain, outcome.Reason),
		StateKey: "monitor:" + domain,
	}

	bundle, _, err := s.Dispatcher.Dispatch(ctx, req)
	if err != nil {
		return
	}

	status, err := s.Dispatcher.WaitForTerminalStatus(ctx, bundle)
	if err != nil {
		return
	}

	logTail, _ := s.Dispatcher.GetLogTail(ctx, bundle, 8192)
	agentMsg := dispatcher.ExtractLastAgentMessage(logTail)
	errMsg := dispatcher.ExtractLastErrorMessage(logTail)

	s.mu.Lock()
	if s.state != nil {
		s.state.RecordDispatch(DispatchRecord{
			Ts:           time.Now().Unix(),
			StateKey:     "monitor:" + domain,
			QueueState:   status.QueueState,
			OK:           status.QueueState == "processed",
			AgentMessage: agentMsg,
			ErrorMessage: errMsg,
		})
	}
	s.mu.Unlock()

	if agentMsg != "" {
		s.sendAlert(ctx, alertsink.AlertEvent{Domain: domain, Signal: "dispatch", Reason: agentMsg})
	}
}

// runCrossCuttingSignals runs TLS, DNS, proxy, container-health, and host
// snapshot checks concurrently. These feed their own signal states
// independent of each domain's primary http/browser debounce.
// headersByDomain carries each domain's HTTP probe response headers
// (already captured by probeDomains in the same cycle) so the proxy
// upstream signal classifies against real response headers instead of an
// empty map.
func (s *Scheduler) runCrossCuttingSignals(ctx context.Context, state *MonitorState, cfg *monitorcfg.Config, entries []monitorcfg.DomainEntry, headersByDomain map[string]map[string]string, now int64) {
	var wg sync.WaitGroup

	for _, entry := range entries {
		entry := entry
		wg.Add(1)
		go func() {
			defer wg.Done()
			spec := entry.ToProbeSpec()
			host := spec.Domain

			tlsResult := signal.CheckTLS(host, "443", signal.TLSConfig{
				MinDaysValid:   cfg.TLS.MinDaysValid,
				TimeoutSeconds: cfg.TLS.TimeoutSeconds,
			})
			s.foldSignal(state, tlsResult, now)

			s.mu.Lock()
			prevIPs := state.PrevDNSIPsByDomain[entry.Domain]
			s.mu.Unlock()

			dnsResult := signal.CheckDNS(entry.Domain, signal.DNSConfig{
				Resolvers:      cfg.DNS.Resolvers,
				TimeoutSeconds: cfg.DNS.TimeoutSeconds,
				RequireIPv4:    cfg.DNS.RequireIPv4,
				RequireIPv6:    cfg.DNS.RequireIPv6,
				ExpectedIPs:    cfg.DNS.ExpectedIPsByDomain[entry.Domain],
				PreviousIPs:    prevIPs,
			})
			s.foldSignal(state, dnsResult, now)
			if ips, ok := dnsResult.Details["ips"].([]string); ok && len(ips) > 0 {
				s.mu.Lock()
				state.PrevDNSIPsByDomain[entry.Domain] = ips
				s.mu.Unlock()
			}

			s.checkProxySignal(state, entry.Domain, spec.Proxy, headersByDomain[entry.Domain], now)

			for _, check := range spec.APIContractChecks {
				apiResult := signal.CheckAPIContract(ctx, spec.URL, check)
				s.foldSignal(state, apiResult, now)
			}
		}()
	}

	if s.DockerClient != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.mu.Lock()
			prev := state.PrevContainers
			s.mu.Unlock()

			outcomes, next, err := s.DockerClient.CheckAll(ctx, prev)
			if err != nil {
				return
			}
			s.mu.Lock()
			state.PrevContainers = next
			s.mu.Unlock()

			for _, c := range outcomes {
				st := state.SignalState(signal.KindContainerHealth, c.Name)
				if c.Bad {
					st.FailStreak++
					st.SuccessStreak = 0
					st.LastOK = false
				} else {
					st.SuccessStreak++
					st.FailStreak = 0
					st.LastOK = true
				}
				st.LastRunTs = &now
			}
		}()
	}

	wg.Wait()
}

// checkProxySignal classifies a domain's captured upstream header, if the
// domain configures a proxy expectation, against the headers its own HTTP
// probe observed this cycle. No-op when proxy is nil.
func (s *Scheduler) checkProxySignal(state *MonitorState, domain string, proxy *probe.ProxyExpectation, capturedHeaders map[string]string, now int64) {
	if proxy == nil {
		return
	}
	result := signal.CheckProxyUpstream(domain, capturedHeaders, signal.ProxyConfig{
		HeaderName:       proxy.HeaderName,
		PrimaryUpstreams: proxy.PrimaryUpstreams,
		BackupUpstreams:  proxy.BackupUpstreams,
		AlertOnBackup:    proxy.AlertOnBackup,
		AlertOnMissing:   proxy.AlertOnMissing,
	})
	s.foldSignal(state, result, now)
}

// foldSignal applies one signal.Result to the matching persisted
// signal.State, updating streaks the same way debounce.Apply would, but
// without the down/up-after-N gating. It only records the result (streaks,
// LastOK, LastRunTs, Aux); no alert is sent for a signal's state change. The
// primary http/browser path is the only one gated by Thresholds and alerted
// on.
func (s *Scheduler) foldSignal(state *MonitorState, r signal.Result, now int64) {
	st := state.SignalState(r.Kind, r.Subject)
	if r.OK {
		st.SuccessStreak++
		st.FailStreak = 0
	} else {
		st.FailStreak++
		st.SuccessStreak = 0
	}
	st.LastOK = r.OK
	st.LastRunTs = &now
	if st.Aux == nil {
		st.Aux = map[string]interface{}{}
	}
	for k, v := range r.Details {
		st.Aux[k] = v
	}
}

// evaluateRedAndSLO folds RED and SLO burn-rate violations into the `red`
// and `slo` signal states for the cycle.
func (s *Scheduler) evaluateRedAndSLO(state *MonitorState, cfg *monitorcfg.Config, now int64) {
	redViolations := history.REDViolations(state.History, now, history.REDConfig{
		WindowMinutes:   cfg.RED.WindowMinutes,
		MinSamples:      cfg.RED.MinSamples,
		ErrorRateMaxPct: cfg.RED.ErrorRateMaxPercent,
		HTTPP95MsMax:    cfg.RED.HTTPP95MsMax,
		BrowserP95MsMax: cfg.RED.BrowserP95MsMax,
	})
	redBad := make(map[string]bool, len(redViolations))
	for _, v := range redViolations {
		redBad[v.Domain] = true
		st := state.SignalState(signal.KindRED, v.Domain)
		st.FailStreak++
		st.SuccessStreak = 0
		st.LastOK = false
		st.LastRunTs = &now
	}

	sloViolations := history.SLOViolations(state.History, now, cfg.SLO.TargetPercent, cfg.SLO.BurnRateRules)
	sloBad := make(map[string]bool, len(sloViolations))
	for _, v := range sloViolations {
		sloBad[v.Domain] = true
		st := state.SignalState(signal.KindSLO, v.Domain)
		st.FailStreak++
		st.SuccessStreak = 0
		st.LastOK = false
		st.LastRunTs = &now
	}

	for domain := range state.History {
		if !redBad[domain] {
			st := state.SignalState(signal.KindRED, domain)
			st.SuccessStreak++
			st.FailStreak = 0
			st.LastOK = true
		}
		if !sloBad[domain] {
			st := state.SignalState(signal.KindSLO, domain)
			st.SuccessStreak++
			st.FailStreak = 0
			st.LastOK = true
		}
	}
}

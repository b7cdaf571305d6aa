package monitord

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"sentryfleet/internal/debounce"
	"sentryfleet/internal/dockerhealth"
	"sentryfleet/internal/history"
	"sentryfleet/internal/signal"
)

// stateVersion is the on-disk schema version. history_ok_mode is always
// "effective": a Sample's OK field records the debounced effective state,
// not the raw probe observation.
const (
	stateVersion      = 5
	historyOKMode     = "effective"
	maxDispatchRecords = 80
	maxEventLogEntries = 200
)

// DispatchRecord is one entry of the bounded dispatch history.
type DispatchRecord struct {
	Ts           int64  `json:"ts"`
	StateKey     string `json:"state_key"`
	Title        string `json:"title"`
	QueueState   string `json:"queue_state"`
	UIURL        string `json:"ui_url,omitempty"`
	OK           bool   `json:"ok"`
	AgentMessage string `json:"agent_message,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// EventLogEntry is one bounded event log line (state transitions, config
// reloads, persistence failures).
type EventLogEntry struct {
	Ts      int64  `json:"ts"`
	Kind    string `json:"kind"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// MonitorState is the entire on-disk state of the domain monitor.
type MonitorState struct {
	Version       int    `json:"version"`
	HistoryOKMode string `json:"history_ok_mode"`

	History history.History `json:"history"`

	// DomainDebounce tracks the effective up/down state machine per domain
	// (the primary HTTP+browser observation).
	DomainDebounce map[string]*debounce.State `json:"domain_debounce"`

	// Signals tracks per-(kind,subject) signal streaks. The key is
	// "kind:subject" (subject is "" for domain-less global signals like
	// host_health or meta).
	Signals map[string]*signal.State `json:"signals"`

	LastDispatch    map[string]DispatchRecord `json:"last_dispatch"`
	DispatchHistory []DispatchRecord          `json:"dispatch_history"`
	EventLog        []EventLogEntry           `json:"event_log"`

	HostSnapshot       *signal.HostSnapshot        `json:"host_snapshot,omitempty"`
	PrevCPUTotals      *signal.CPUTotals           `json:"prev_cpu_totals,omitempty"`
	PrevContainers     map[string]dockerhealth.ContainerSnapshot `json:"prev_containers,omitempty"`
	PrevDNSIPsByDomain map[string][]string         `json:"prev_dns_ips_by_domain,omitempty"`
}

// NewMonitorState builds an empty, well-formed state.
func NewMonitorState() *MonitorState {
	return &MonitorState{
		Version:            stateVersion,
		HistoryOKMode:      historyOKMode,
		History:            history.History{},
		DomainDebounce:     map[string]*debounce.State{},
		Signals:            map[string]*signal.State{},
		LastDispatch:       map[string]DispatchRecord{},
		PrevContainers:     map[string]dockerhealth.ContainerSnapshot{},
		PrevDNSIPsByDomain: map[string][]string{},
	}
}

// signalKey builds the Signals map key for a (kind, subject) pair.
func signalKey(kind signal.Kind, subject string) string {
	if subject == "" {
		return string(kind)
	}
	return string(kind) + ":" + subject
}

// SignalState returns (creating if absent) the signal.State for a kind and
// subject.
func (s *MonitorState) SignalState(kind signal.Kind, subject string) *signal.State {
	key := signalKey(kind, subject)
	st, ok := s.Signals[key]
	if !ok {
		st = &signal.State{}
		s.Signals[key] = st
	}
	return st
}

// DebounceState returns (creating if absent) the debounce.State for domain.
func (s *MonitorState) DebounceState(domain string) *debounce.State {
	st, ok := s.DomainDebounce[domain]
	if !ok {
		st = &debounce.State{}
		s.DomainDebounce[domain] = st
	}
	return st
}

// RecordDispatch appends d to the bounded dispatch history and updates the
// last-dispatch-by-key index, trimming to maxDispatchRecords.
func (s *MonitorState) RecordDispatch(d DispatchRecord) {
	s.LastDispatch[d.StateKey] = d
	s.DispatchHistory = append(s.DispatchHistory, d)
	if len(s.DispatchHistory) > maxDispatchRecords {
		s.DispatchHistory = s.DispatchHistory[len(s.DispatchHistory)-maxDispatchRecords:]
	}
}

// AppendEvent appends an event log entry, trimming to maxEventLogEntries.
func (s *MonitorState) AppendEvent(e EventLogEntry) {
	s.EventLog = append(s.EventLog, e)
	if len(s.EventLog) > maxEventLogEntries {
		s.EventLog = s.EventLog[len(s.EventLog)-maxEventLogEntries:]
	}
}

// LoadState reads the state file at path. A missing file is not an error:
// callers get a fresh NewMonitorState() so the monitor can start cold. An
// unreadable or malformed file also yields a fresh NewMonitorState(), paired
// with an error describing the problem.
func LoadState(path string) (*MonitorState, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewMonitorState(), nil
		}
		return NewMonitorState(), fmt.Errorf("state file unreadable, starting cold: %w", err)
	}

	var s MonitorState
	if err := json.Unmarshal(raw, &s); err != nil {
		return NewMonitorState(), fmt.Errorf("state file malformed, starting cold: %w", err)
	}

	if s.DomainDebounce == nil {
		s.DomainDebounce = map[string]*debounce.State{}
	}
	if s.Signals == nil {
		s.Signals = map[string]*signal.State{}
	}
	if s.LastDispatch == nil {
		s.LastDispatch = map[string]DispatchRecord{}
	}
	if s.History == nil {
		s.History = history.History{}
	}
	if s.PrevContainers == nil {
		s.PrevContainers = map[string]dockerhealth.ContainerSnapshot{}
	}
	if s.PrevDNSIPsByDomain == nil {
		s.PrevDNSIPsByDomain = map[string][]string{}
	}
	return &s, nil
}

// SaveState writes s atomically: marshal, write to a temp file in the same
// directory, then rename over path. A crash mid-write leaves the prior file
// intact; readers never observe a partial write.
func SaveState(path string, s *MonitorState) error {
	s.Version = stateVersion
	s.HistoryOKMode = historyOKMode

	payload, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".monitor-state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp state file: %w", err)
	}
	return nil
}

// SortedSignalKeys returns Signals keys in deterministic order, used by
// internal/dashboard to render a stable signal list.
func (s *MonitorState) SortedSignalKeys() []string {
	keys := make([]string, 0, len(s.Signals))
	for k := range s.Signals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package debounce implements the effective up/down state machine shared by
// the domain monitor (per-domain, per-signal) and the registry (per-test).
package debounce

// State tracks the debounced effective status of a single monitored target.
// At most one of FailStreak/SuccessStreak is non-zero at any time.
type State struct {
	EffectiveOK   bool
	FailStreak    int
	SuccessStreak int
	LastOKTs      *int64
	LastFailTs    *int64
	LastInfraTs   *int64
	LastRunTs     *int64
}

// Thresholds configures when a target flips between up and down.
type Thresholds struct {
	DownAfterFailures int
	UpAfterSuccesses  int
}

// Transition is the result of applying one observation to a State.
type Transition struct {
	AlertedDown bool
	RecoveredUp bool
	Effective   bool
}

// Apply advances the state machine by one observation and returns the edge
// transitions, if any. The new effective value is also written back into s.
func Apply(s *State, observedOK bool, th Thresholds, now int64) Transition {
	prevEffective := s.EffectiveOK

	if observedOK {
		s.SuccessStreak++
		s.FailStreak = 0
		s.LastOKTs = &now
	} else {
		s.FailStreak++
		s.SuccessStreak = 0
		s.LastFailTs = &now
	}

	var newEffective bool
	if prevEffective {
		newEffective = !(s.FailStreak >= th.DownAfterFailures)
	} else {
		newEffective = s.SuccessStreak >= th.UpAfterSuccesses
	}

	s.EffectiveOK = newEffective
	s.LastRunTs = &now

	return Transition{
		AlertedDown: prevEffective && !newEffective,
		RecoveredUp: !prevEffective && newEffective,
		Effective:   newEffective,
	}
}

// ApplyInfra records an infra-degraded observation. It never touches the
// effective state or either streak; it only stamps LastInfraTs.
func ApplyInfra(s *State, now int64) {
	s.LastInfraTs = &now
}

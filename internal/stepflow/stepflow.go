// Package stepflow validates and executes tenant-submitted browser test
// definitions: a named sequence of steps drawn from a closed set of
// browser actions and assertions (spec §4.7/§4.8).
package stepflow

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/hashicorp/go-multierror"
)

// StepType is one of the closed set of recognized step actions.
type StepType string

const (
	StepGoto                StepType = "goto"
	StepClick                StepType = "click"
	StepFill                 StepType = "fill"
	StepPress                StepType = "press"
	StepWaitForSelector       StepType = "wait_for_selector"
	StepExpectURLContains     StepType = "expect_url_contains"
	StepExpectText            StepType = "expect_text"
	StepExpectTitleContains   StepType = "expect_title_contains"
	StepExpectSelectorCount   StepType = "expect_selector_count"
	StepScreenshot            StepType = "screenshot"
	StepSetViewport           StepType = "set_viewport"
	StepSleep                 StepType = "sleep"
	StepSleepMs               StepType = "sleep_ms"
)

var validStepTypes = map[StepType]bool{
	StepGoto: true, StepClick: true, StepFill: true, StepPress: true,
	StepWaitForSelector: true, StepExpectURLContains: true, StepExpectText: true,
	StepExpectTitleContains: true, StepExpectSelectorCount: true, StepScreenshot: true,
	StepSetViewport: true, StepSleep: true, StepSleepMs: true,
}

// Step is a single action or assertion in a Definition.
type Step struct {
	Type     StepType `json:"type" yaml:"type"`
	Selector string   `json:"selector,omitempty" yaml:"selector,omitempty"`
	URL      string   `json:"url,omitempty" yaml:"url,omitempty"`
	Text     string   `json:"text,omitempty" yaml:"text,omitempty"`
	Key      string   `json:"key,omitempty" yaml:"key,omitempty"`
	Contains string   `json:"contains,omitempty" yaml:"contains,omitempty"`
	Count    *int     `json:"count,omitempty" yaml:"count,omitempty"`
	Width    int      `json:"width,omitempty" yaml:"width,omitempty"`
	Height   int      `json:"height,omitempty" yaml:"height,omitempty"`
	Ms       int      `json:"ms,omitempty" yaml:"ms,omitempty"`
}

// Definition is the normalized {name, steps[]} shape every submitted test
// is reduced to before validation and execution.
type Definition struct {
	Name  string `json:"name" yaml:"name"`
	Steps []Step `json:"steps" yaml:"steps"`
}

const (
	maxNameLen     = 120
	maxSteps       = 60
	maxFillText    = 5000
	fillEnvvarMin  = 512
	maxSelectorCnt = 10000
	minViewportDim = 100
	maxViewportDim = 5000
	maxSleepMs     = 30000
)

var envvarPlaceholder = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*\}`)

// ParseDefinition unmarshals a submitted JSON definition and validates it.
func ParseDefinition(raw []byte) (Definition, error) {
	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return Definition{}, fmt.Errorf("parse definition: %w", err)
	}
	if err := Validate(def); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// Validate enforces every per-field and per-step rule from spec §4.7,
// aggregating all violations rather than stopping at the first.
func Validate(def Definition) error {
	var result *multierror.Error

	if l := len(def.Name); l == 0 || l > maxNameLen {
		result = multierror.Append(result, fmt.Errorf("name: must be 1-%d chars, got %d", maxNameLen, l))
	}

	if len(def.Steps) == 0 {
		result = multierror.Append(result, fmt.Errorf("steps: must be non-empty"))
	}
	if len(def.Steps) > maxSteps {
		result = multierror.Append(result, fmt.Errorf("steps: must have at most %d entries, got %d", maxSteps, len(def.Steps)))
	}

	for i, step := range def.Steps {
		if err := validateStep(i, step); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if result == nil {
		return nil
	}
	if len(result.Errors) == 1 {
		// A single violation surfaces its own message verbatim (e.g. the
		// machine-checkable fill_text_must_use_secret_placeholder[idx]
		// reason code) instead of multierror's "1 error occurred" wrapper.
		return result.Errors[0]
	}
	return result.ErrorOrNil()
}

func validateStep(index int, s Step) error {
	if !validStepTypes[s.Type] {
		return fmt.Errorf("steps[%d]: unknown step type %q", index, s.Type)
	}

	switch s.Type {
	case StepGoto:
		if s.URL == "" {
			return fmt.Errorf("steps[%d]: goto requires url", index)
		}
	case StepClick, StepWaitForSelector:
		if s.Selector == "" {
			return fmt.Errorf("steps[%d]: %s requires selector", index, s.Type)
		}
	case StepFill:
		if s.Selector == "" {
			return fmt.Errorf("steps[%d]: fill requires selector", index)
		}
		if len(s.Text) > maxFillText {
			return fmt.Errorf("steps[%d]: fill.text must be at most %d chars, got %d", index, maxFillText, len(s.Text))
		}
		if len(s.Text) > fillEnvvarMin && !envvarPlaceholder.MatchString(s.Text) {
			return fmt.Errorf("fill_text_must_use_secret_placeholder[%d]", index)
		}
	case StepPress:
		if s.Key == "" {
			return fmt.Errorf("steps[%d]: press requires key", index)
		}
	case StepExpectURLContains:
		if s.Contains == "" {
			return fmt.Errorf("steps[%d]: expect_url_contains requires contains", index)
		}
	case StepExpectText:
		if s.Selector == "" || s.Contains == "" {
			return fmt.Errorf("steps[%d]: expect_text requires selector and contains", index)
		}
	case StepExpectTitleContains:
		if s.Contains == "" {
			return fmt.Errorf("steps[%d]: expect_title_contains requires contains", index)
		}
	case StepExpectSelectorCount:
		if s.Selector == "" {
			return fmt.Errorf("steps[%d]: expect_selector_count requires selector", index)
		}
		if s.Count == nil {
			return fmt.Errorf("steps[%d]: expect_selector_count requires count", index)
		}
		if *s.Count < 0 || *s.Count > maxSelectorCnt {
			return fmt.Errorf("steps[%d]: expect_selector_count.count must be in [0, %d], got %d", index, maxSelectorCnt, *s.Count)
		}
	case StepSetViewport:
		if s.Width < minViewportDim || s.Width > maxViewportDim {
			return fmt.Errorf("steps[%d]: set_viewport.width must be in [%d, %d], got %d", index, minViewportDim, maxViewportDim, s.Width)
		}
		if s.Height < minViewportDim || s.Height > maxViewportDim {
			return fmt.Errorf("steps[%d]: set_viewport.height must be in [%d, %d], got %d", index, minViewportDim, maxViewportDim, s.Height)
		}
	case StepSleep, StepSleepMs:
		if s.Ms < 0 {
			return fmt.Errorf("steps[%d]: %s.ms must be >= 0, got %d", index, s.Type, s.Ms)
		}
	}
	return nil
}

// ClampSleepMs caps a sleep/sleep_ms duration to the allowed range, per
// spec §4.7 ("sleep_ms clamped to [0, 30_000]").
func ClampSleepMs(ms int) int {
	if ms < 0 {
		return 0
	}
	if ms > maxSleepMs {
		return maxSleepMs
	}
	return ms
}

package stepflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDef() Definition {
	count := 2
	return Definition{
		Name: "checkout flow",
		Steps: []Step{
			{Type: StepGoto, URL: "https://example.com/cart"},
			{Type: StepClick, Selector: "#checkout"},
			{Type: StepFill, Selector: "#email", Text: "user@example.com"},
			{Type: StepExpectSelectorCount, Selector: ".line-item", Count: &count},
			{Type: StepExpectURLContains, Contains: "/checkout"},
			{Type: StepSleepMs, Ms: 250},
		},
	}
}

func TestValidateAcceptsWellFormedDefinition(t *testing.T) {
	assert.NoError(t, Validate(validDef()))
}

func TestValidateRejectsEmptyName(t *testing.T) {
	def := validDef()
	def.Name = ""
	err := Validate(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name:")
}

func TestValidateRejectsNameTooLong(t *testing.T) {
	def := validDef()
	def.Name = strings.Repeat("a", maxNameLen+1)
	assert.Error(t, Validate(def))
}

func TestValidateRejectsEmptySteps(t *testing.T) {
	def := Definition{Name: "empty"}
	err := Validate(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "steps: must be non-empty")
}

func TestValidateRejectsTooManySteps(t *testing.T) {
	def := Definition{Name: "too many"}
	for i := 0; i < maxSteps+1; i++ {
		def.Steps = append(def.Steps, Step{Type: StepSleepMs, Ms: 1})
	}
	err := Validate(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at most")
}

func TestValidateRejectsUnknownStepType(t *testing.T) {
	def := Definition{Name: "bad type", Steps: []Step{{Type: "navigate"}}}
	err := Validate(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown step type")
}

func TestValidateRejectsLongFillTextWithoutEnvvar(t *testing.T) {
	def := Definition{Name: "secret fill", Steps: []Step{
		{Type: StepFill, Selector: "#token", Text: strings.Repeat("x", fillEnvvarMin+1)},
	}}
	err := Validate(def)
	require.Error(t, err)
	assert.Equal(t, "fill_text_must_use_secret_placeholder[0]", err.Error())
}

func TestValidateAcceptsLongFillTextWithEnvvar(t *testing.T) {
	def := Definition{Name: "secret fill", Steps: []Step{
		{Type: StepFill, Selector: "#token", Text: strings.Repeat("x", fillEnvvarMin+1) + "${API_TOKEN}"},
	}}
	assert.NoError(t, Validate(def))
}

func TestValidateRejectsOversizedFillText(t *testing.T) {
	def := Definition{Name: "too big", Steps: []Step{
		{Type: StepFill, Selector: "#token", Text: strings.Repeat("x", maxFillText+1) + "${API_TOKEN}"},
	}}
	err := Validate(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "5000")
}

func TestValidateRejectsSelectorCountOutOfRange(t *testing.T) {
	tooMany := maxSelectorCnt + 1
	def := Definition{Name: "count", Steps: []Step{
		{Type: StepExpectSelectorCount, Selector: ".x", Count: &tooMany},
	}}
	assert.Error(t, Validate(def))
}

func TestValidateRejectsViewportOutOfRange(t *testing.T) {
	def := Definition{Name: "viewport", Steps: []Step{
		{Type: StepSetViewport, Width: 50, Height: 2000},
	}}
	err := Validate(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "width")
}

func TestParseDefinitionRoundTrips(t *testing.T) {
	raw := []byte(`{"name":"login","steps":[{"type":"goto","url":"https://example.com"}]}`)
	def, err := ParseDefinition(raw)
	require.NoError(t, err)
	assert.Equal(t, "login", def.Name)
	assert.Equal(t, StepGoto, def.Steps[0].Type)
}

func TestParseDefinitionRejectsInvalid(t *testing.T) {
	raw := []byte(`{"name":"","steps":[]}`)
	_, err := ParseDefinition(raw)
	assert.Error(t, err)
}

func TestClampSleepMs(t *testing.T) {
	assert.Equal(t, 0, ClampSleepMs(-5))
	assert.Equal(t, maxSleepMs, ClampSleepMs(maxSleepMs+1000))
	assert.Equal(t, 500, ClampSleepMs(500))
}

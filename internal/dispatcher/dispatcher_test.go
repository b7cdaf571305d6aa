package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDispatchResponse(t *testing.T) {
	bundle, runner, err := ParseDispatchResponse("queued:20250101_abcdef:runner:already_running\n")
	require.NoError(t, err)
	assert.Equal(t, "20250101_abcdef", bundle)
	assert.Equal(t, "already_running", runner)

	bundle, runner, err = ParseDispatchResponse("queued:b1:runner:error:oops:details")
	require.NoError(t, err)
	assert.Equal(t, "b1", bundle)
	assert.Equal(t, "error:oops:details", runner)

	_, _, err = ParseDispatchResponse("ready:b1:runner:r")
	assert.Error(t, err)

	_, _, err = ParseDispatchResponse("queued:b1:missing_marker:r")
	assert.Error(t, err)
}

func TestExtractLastAgentMessage(t *testing.T) {
	log := `{"type":"item.started","item":{"type":"agent_message"}}
{"type":"item.completed","item":{"type":"agent_message","text":"investigation: nginx restarted"}}
{"type":"item.completed","item":{"type":"other","text":"noise"}}
`
	msg := ExtractLastAgentMessage(log)
	assert.Equal(t, "investigation: nginx restarted", msg)
}

func TestExtractLastAgentMessageStableUnderAppendedNoise(t *testing.T) {
	base := `{"type":"item.completed","item":{"type":"agent_message","text":"root cause found"}}`
	extended := base + "\n" + `{"type":"item.completed","item":{"type":"other","text":"trailing noise"}}`

	assert.Equal(t, ExtractLastAgentMessage(base), ExtractLastAgentMessage(extended))
}

func TestExtractLastAgentMessageNoneFound(t *testing.T) {
	log := `{"type":"item.completed","item":{"type":"tool_call","text":"ls -la"}}`
	assert.Equal(t, "", ExtractLastAgentMessage(log))
}

func TestExtractLastErrorMessage(t *testing.T) {
	log := `{"type":"item.completed","item":{"type":"error","error":"connection refused"}}`
	assert.Equal(t, "connection refused", ExtractLastErrorMessage(log))
}

package alertsink

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatAlertDown(t *testing.T) {
	lastOK := int64(1700000000)
	ev := AlertEvent{
		Domain:     "example.com",
		Signal:     "http",
		Recovered:  false,
		Reason:     "status_code=503",
		FailStreak: 3,
		LastOKTs:   &lastOK,
	}

	out := FormatAlert(ev)
	assert.Contains(t, out, "Alert")
	assert.Contains(t, out, "*Domain:* example.com")
	assert.Contains(t, out, "*Signal:* http")
	assert.Contains(t, out, "*Reason:* status_code=503")
	assert.Contains(t, out, "*Fail streak:* 3")
	assert.Contains(t, out, "*Last OK:* 2023-11-14")
}

func TestFormatAlertRecovered(t *testing.T) {
	ev := AlertEvent{
		Domain:        "example.com",
		Signal:        "browser",
		Recovered:     true,
		SuccessStreak: 2,
	}

	out := FormatAlert(ev)
	assert.Contains(t, out, "Recovered")
	assert.Contains(t, out, "*Success streak:* 2")
	assert.Contains(t, out, "*Last OK:* never")
}

func TestFormatAlertDetailsOrderedDeterministically(t *testing.T) {
	ev := AlertEvent{
		Domain:  "example.com",
		Signal:  "dns",
		Details: map[string]string{"zebra": "1", "alpha": "2"},
	}

	out := FormatAlert(ev)
	alphaIdx := indexOf(out, "*alpha:*")
	zebraIdx := indexOf(out, "*zebra:*")
	assert.Greater(t, zebraIdx, alphaIdx)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

package dockerhealth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateHealthNotRunning(t *testing.T) {
	bad, reason := evaluateHealth(ContainerOutcome{Running: false}, false, 0)
	assert.True(t, bad)
	assert.Equal(t, "container not running", reason)
}

func TestEvaluateHealthUnhealthyStatus(t *testing.T) {
	bad, _ := evaluateHealth(ContainerOutcome{Running: true, HealthStatus: "unhealthy"}, false, 0)
	assert.True(t, bad)
}

func TestEvaluateHealthRestartCountIncreased(t *testing.T) {
	bad, reason := evaluateHealth(ContainerOutcome{Running: true, RestartCount: 3}, true, 2)
	assert.True(t, bad)
	assert.Contains(t, reason, "restart count increased")
}

func TestEvaluateHealthRestartCountUnchangedOK(t *testing.T) {
	bad, _ := evaluateHealth(ContainerOutcome{Running: true, RestartCount: 2}, true, 2)
	assert.False(t, bad)
}

func TestEvaluateHealthStickyOOMKilledNotFlagged(t *testing.T) {
	// OOMKilled=true, Running=true, Health=healthy must NOT flag the container.
	bad, _ := evaluateHealth(ContainerOutcome{Running: true, HealthStatus: "healthy", OOMKilled: true}, false, 0)
	assert.False(t, bad)
}

func TestEvaluateHealthOOMKilledWhileNotRunningIsBad(t *testing.T) {
	bad, reason := evaluateHealth(ContainerOutcome{Running: false, OOMKilled: true}, false, 0)
	assert.True(t, bad)
	assert.Equal(t, "container not running", reason)
}

func TestEvaluateHealthNoHealthCheckConfiguredIsOK(t *testing.T) {
	bad, _ := evaluateHealth(ContainerOutcome{Running: true, HealthStatus: ""}, false, 0)
	assert.False(t, bad)
}

func TestPrimaryName(t *testing.T) {
	assert.Equal(t, "web-1", primaryName([]string{"/web-1", "/alias"}))
	assert.Equal(t, "", primaryName(nil))
}

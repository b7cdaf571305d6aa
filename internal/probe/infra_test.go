package probe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsBrowserInfraError(t *testing.T) {
	assert.True(t, IsBrowserInfraError(errors.New("Page crashed")))
	assert.True(t, IsBrowserInfraError(errors.New("Target crashed unexpectedly")))
	assert.True(t, IsBrowserInfraError(errors.New("Connection closed while reading from the driver")))
	assert.False(t, IsBrowserInfraError(errors.New("selector #main not found")))
	assert.False(t, IsBrowserInfraError(nil))
}

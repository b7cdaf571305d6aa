package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyIPs(t *testing.T) {
	hasV4, hasV6 := classifyIPs([]string{"1.2.3.4", "::1"})
	assert.True(t, hasV4)
	assert.True(t, hasV6)

	hasV4, hasV6 = classifyIPs([]string{"1.2.3.4"})
	assert.True(t, hasV4)
	assert.False(t, hasV6)
}

func TestSameSet(t *testing.T) {
	assert.True(t, sameSet([]string{"a", "b"}, []string{"b", "a"}))
	assert.False(t, sameSet([]string{"a", "b"}, []string{"a", "c"}))
	assert.False(t, sameSet([]string{"a"}, []string{"a", "b"}))
}

func TestIntersects(t *testing.T) {
	assert.True(t, intersects([]string{"1.2.3.4"}, []string{"9.9.9.9", "1.2.3.4"}))
	assert.False(t, intersects([]string{"1.2.3.4"}, []string{"9.9.9.9"}))
}

func TestHasPort(t *testing.T) {
	assert.True(t, hasPort("1.1.1.1:53"))
	assert.False(t, hasPort("1.1.1.1"))
}

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLRU_GetSetDelete(t *testing.T) {
	c := NewLRU(Config{Size: 10, TTL: time.Minute})

	c.Set("resolve:RISK_ANALYST", "u-risk")
	v, ok := c.Get("resolve:RISK_ANALYST")
	assert.True(t, ok)
	assert.Equal(t, "u-risk", v)

	c.Delete("resolve:RISK_ANALYST")
	_, ok = c.Get("resolve:RISK_ANALYST")
	assert.False(t, ok)
}

func TestLRU_DeletePrefix(t *testing.T) {
	c := NewLRU(Config{})
	c.Set("report:1:progress", 1)
	c.Set("report:1:history", 2)
	c.Set("report:10:progress", 3)
	c.Set("resolve:X", 4)

	c.DeletePrefix("report:1:")

	_, ok := c.Get("report:1:progress")
	assert.False(t, ok)
	_, ok = c.Get("report:1:history")
	assert.False(t, ok)
	_, ok = c.Get("report:10:progress")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestLRU_Evicts(t *testing.T) {
	c := NewLRU(Config{Size: 2, TTL: time.Minute})
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestLRU_Expires(t *testing.T) {
	c := NewLRU(Config{Size: 2, TTL: 20 * time.Millisecond})
	c.Set("a", 1)
	assert.Eventually(t, func() bool {
		_, ok := c.Get("a")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestNoop(t *testing.T) {
	var c Noop
	c.Set("a", 1)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

package ovh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolCachesPerAccount(t *testing.T) {
	pool := NewPool()

	first, err := pool.Get(testAccount())
	require.NoError(t, err)

	second, err := pool.Get(testAccount())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, pool.Len())

	other := testAccount()
	other.ID = "account-2"
	third, err := pool.Get(other)
	require.NoError(t, err)

	assert.NotSame(t, first, third)
	assert.Equal(t, 2, pool.Len())
}

func TestPoolEvict(t *testing.T) {
	pool := NewPool()

	first, err := pool.Get(testAccount())
	require.NoError(t, err)

	pool.Evict(testAccount().ID)
	assert.Equal(t, 0, pool.Len())

	second, err := pool.Get(testAccount())
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestPoolRejectsUnknownRegion(t *testing.T) {
	pool := NewPool()

	account := testAccount()
	account.EndpointRegion = "ovh-mars"

	_, err := pool.Get(account)
	assert.Error(t, err)
	assert.Equal(t, 0, pool.Len())
}

//go:build linux

package npheap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient(t *testing.T) {
	dev := openDevice(t)
	ps := dev.PageSize()

	t.Run("AllocRoundsUp", func(t *testing.T) {
		c := NewClient(dev)
		defer c.Close()

		buf, err := c.Alloc(1, 10)
		require.NoError(t, err)
		assert.Len(t, buf, ps)

		size, err := c.GetSize(1)
		require.NoError(t, err)
		assert.Equal(t, uint64(ps), size)
	})

	t.Run("ClientsShareObjects", func(t *testing.T) {
		a := NewClient(dev)
		defer a.Close()
		b := NewClient(dev)
		defer b.Close()

		require.NoError(t, a.Lock(t.Context(), 2))
		wa, err := a.Alloc(2, uint64(2*ps))
		require.NoError(t, err)
		copy(wa[ps-2:], "shared")
		require.NoError(t, a.Unlock(2))

		rb, err := b.Alloc(2, uint64(2*ps))
		require.NoError(t, err)
		assert.Equal(t, "shared", string(rb[ps-2:ps+4]))
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		c := NewClient(dev)
		defer c.Close()

		require.NoError(t, c.Delete(404))
	})

	t.Run("Close", func(t *testing.T) {
		c := NewClient(dev)

		_, err := c.Alloc(3, uint64(ps))
		require.NoError(t, err)
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())

		_, err = c.Alloc(3, uint64(ps))
		assert.ErrorIs(t, err, ErrClosed)

		// The object outlives the client.
		assert.Equal(t, uint64(ps), dev.GetSize(3))
	})

	t.Run("ZeroSize", func(t *testing.T) {
		c := NewClient(dev)
		defer c.Close()

		_, err := c.Alloc(4, 0)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestRoundUp(t *testing.T) {
	assert.Equal(t, 0, RoundUp(0, 4096))
	assert.Equal(t, 4096, RoundUp(1, 4096))
	assert.Equal(t, 4096, RoundUp(4096, 4096))
	assert.Equal(t, 8192, RoundUp(4097, 4096))
}

package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tchajed/goose/machine/disk"

	"github.com/bfs-dev/go-bfsd/common"
	"github.com/bfs-dev/go-bfsd/dev"
)

// the bitmap region sits at block 1; bits below first belong to the
// layout and are never handed out
const (
	bmStart common.Bnum = 1
	bmBits  uint64      = 64
	bmFirst uint64      = 9
)

func mkAlloc(t *testing.T) (*dev.Dev, *Alloc) {
	dv := dev.MkDev(disk.NewMemDisk(bmBits))
	a, err := Load(dv, bmStart, 1, bmBits, bmFirst)
	require.NoError(t, err)
	return dv, a
}

func TestAllocLowestFirst(t *testing.T) {
	_, a := mkAlloc(t)
	for i := uint64(0); i < 4; i++ {
		n, err := a.AllocNum()
		require.NoError(t, err)
		assert.Equal(t, bmFirst+i, n)
	}
	require.NoError(t, a.FreeNum(bmFirst+1))

	// the freed bit is the lowest free one again
	n, err := a.AllocNum()
	require.NoError(t, err)
	assert.Equal(t, bmFirst+1, n)
}

func TestAllocExhaustion(t *testing.T) {
	_, a := mkAlloc(t)
	for i := bmFirst; i < bmBits; i++ {
		_, err := a.AllocNum()
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(0), a.NumFree())
	_, err := a.AllocNum()
	assert.ErrorIs(t, err, common.ErrNoSpace)

	require.NoError(t, a.FreeNum(bmBits-1))
	n, err := a.AllocNum()
	require.NoError(t, err)
	assert.Equal(t, bmBits-1, n)
}

func TestAllocWriteThrough(t *testing.T) {
	dv, a := mkAlloc(t)
	n1, err := a.AllocNum()
	require.NoError(t, err)
	n2, err := a.AllocNum()
	require.NoError(t, err)
	require.NoError(t, a.FreeNum(n1))

	// a fresh load from the same device sees every bit flip
	b, err := Load(dv, bmStart, 1, bmBits, bmFirst)
	require.NoError(t, err)
	assert.False(t, b.Allocated(n1))
	assert.True(t, b.Allocated(n2))
	assert.Equal(t, a.NumFree(), b.NumFree())
}

func TestFreeUnallocatedPanics(t *testing.T) {
	_, a := mkAlloc(t)
	assert.Panics(t, func() { a.FreeNum(bmFirst) })
	assert.Panics(t, func() { a.FreeNum(bmBits) })
}

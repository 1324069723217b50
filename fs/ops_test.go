package fs

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tchajed/goose/machine/disk"

	"github.com/bfs-dev/go-bfsd/common"
	"github.com/bfs-dev/go-bfsd/super"
)

func mkData(sz uint64) []byte {
	data := make([]byte, sz)
	for i := range data {
		data[i] = byte(i % 128)
	}
	return data
}

func mkFs(t *testing.T) *Filesystem {
	_, fsys := mkMounted(t)
	return fsys
}

func TestCreateGetattrReaddir(t *testing.T) {
	fsys := mkFs(t)
	require.NoError(t, fsys.Create("a", 0644))

	a, err := fsys.GetAttr("a")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), a.Size)
	assert.Equal(t, uint32(1), a.Nlink)
	assert.Equal(t, uint32(0644), a.Mode)
	assert.False(t, a.IsDir)
	assert.NotEqual(t, uint64(0), a.Ctime)
	assert.Equal(t, a.Ctime, a.Mtime)

	ents := fsys.ReadDir()
	require.Len(t, ents, 3)
	assert.Equal(t, "a", ents[2].Name)
	assert.False(t, ents[2].IsDir)
}

func TestCreateErrors(t *testing.T) {
	fsys := mkFs(t)
	require.NoError(t, fsys.Create("a", 0644))
	assert.ErrorIs(t, fsys.Create("a", 0644), common.ErrExists)
	assert.ErrorIs(t, fsys.Create(".", 0644), common.ErrExists)
	assert.ErrorIs(t, fsys.Create("..", 0644), common.ErrExists)
	assert.ErrorIs(t, fsys.Create("", 0644), common.ErrNotFound)
}

func TestWriteRead(t *testing.T) {
	fsys := mkFs(t)
	require.NoError(t, fsys.Create("f", 0644))

	data := mkData(10000)
	n, err := fsys.Write("f", 0, data)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), n)

	got, err := fsys.Read("f", 0, uint64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// an unaligned slice in the middle
	got, err = fsys.Read("f", 4000, 500)
	require.NoError(t, err)
	assert.Equal(t, data[4000:4500], got)

	// reads stop at the size; reads past it return nothing
	got, err = fsys.Read("f", 9000, 5000)
	require.NoError(t, err)
	assert.Equal(t, data[9000:], got)
	got, err = fsys.Read("f", uint64(len(data)), 100)
	require.NoError(t, err)
	assert.Empty(t, got)

	// overwrite in place, size unchanged
	patch := []byte("patched")
	_, err = fsys.Write("f", 100, patch)
	require.NoError(t, err)
	a, err := fsys.GetAttr("f")
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), a.Size)
	got, err = fsys.Read("f", 100, uint64(len(patch)))
	require.NoError(t, err)
	assert.Equal(t, patch, got)
}

func TestSparseReadsZero(t *testing.T) {
	fsys := mkFs(t)
	require.NoError(t, fsys.Create("sparse", 0644))

	tail := []byte("tail")
	off := uint64(10000)
	_, err := fsys.Write("sparse", off, tail)
	require.NoError(t, err)

	a, err := fsys.GetAttr("sparse")
	require.NoError(t, err)
	assert.Equal(t, off+uint64(len(tail)), a.Size)

	got, err := fsys.Read("sparse", 0, a.Size)
	require.NoError(t, err)
	require.Equal(t, int(a.Size), len(got))
	for i := uint64(0); i < off; i++ {
		require.Equal(t, byte(0), got[i], "hole byte %d", i)
	}
	assert.Equal(t, tail, got[off:])
}

func TestMaxFileSize(t *testing.T) {
	fsys := mkFs(t)
	require.NoError(t, fsys.Create("big", 0644))

	// the last addressable byte is writable
	_, err := fsys.Write("big", common.MaxFileSize()-1, []byte{0x7f})
	require.NoError(t, err)
	a, err := fsys.GetAttr("big")
	require.NoError(t, err)
	assert.Equal(t, common.MaxFileSize(), a.Size)

	got, err := fsys.Read("big", common.MaxFileSize()-1, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x7f}, got)

	// one byte past the bound fails before touching anything
	_, err = fsys.Write("big", common.MaxFileSize(), []byte{1})
	assert.ErrorIs(t, err, common.ErrFileTooLarge)
	_, err = fsys.Write("big", common.MaxFileSize()-1, []byte{1, 2})
	assert.ErrorIs(t, err, common.ErrFileTooLarge)
	_, err = fsys.Write("big", ^uint64(0), []byte{1})
	assert.ErrorIs(t, err, common.ErrFileTooLarge)
}

func TestIndirectFile(t *testing.T) {
	fsys := mkFs(t)
	free := fsys.NumFreeBlocks()
	require.NoError(t, fsys.Create("ind", 0644))

	data := mkData(40000)
	n, err := fsys.Write("ind", 0, data)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), n)

	// 10 data blocks plus the indirect block
	assert.Equal(t, free-11, fsys.NumFreeBlocks())

	got, err := fsys.Read("ind", 0, uint64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestUnlinkReclaims(t *testing.T) {
	fsys := mkFs(t)
	freeBlocks := fsys.NumFreeBlocks()
	freeInodes := fsys.NumFreeInodes()

	require.NoError(t, fsys.Create("f", 0644))
	_, err := fsys.Write("f", 0, mkData(40000))
	require.NoError(t, err)
	require.NoError(t, fsys.Unlink("f"))

	assert.Equal(t, freeBlocks, fsys.NumFreeBlocks())
	assert.Equal(t, freeInodes, fsys.NumFreeInodes())
	_, err = fsys.GetAttr("f")
	assert.ErrorIs(t, err, common.ErrNotFound)

	// recreating the name starts from scratch
	require.NoError(t, fsys.Create("f", 0644))
	a, err := fsys.GetAttr("f")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), a.Size)

	assert.ErrorIs(t, fsys.Unlink("missing"), common.ErrNotFound)
	assert.ErrorIs(t, fsys.Unlink("."), common.ErrNotFound)
	assert.ErrorIs(t, fsys.Unlink(".."), common.ErrNotFound)
}

func TestRecycledBlocksReadZero(t *testing.T) {
	fsys := mkFs(t)
	require.NoError(t, fsys.Create("old", 0644))
	junk := make([]byte, 2*disk.BlockSize)
	for i := range junk {
		junk[i] = 0xff
	}
	_, err := fsys.Write("old", 0, junk)
	require.NoError(t, err)
	require.NoError(t, fsys.Unlink("old"))

	// the new file reuses old's blocks; the hole before the written
	// byte must not leak old's content
	require.NoError(t, fsys.Create("new", 0644))
	_, err = fsys.Write("new", 5, []byte{0x42})
	require.NoError(t, err)
	got, err := fsys.Read("new", 0, 6)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0x42}, got)
}

func TestCreateUntilFull(t *testing.T) {
	fsys := mkFs(t)

	// the markers hold two directory slots, the rest are ours
	nfiles := common.MAXFILES - 2
	for i := uint64(0); i < nfiles; i++ {
		require.NoError(t, fsys.Create("f"+strconv.FormatUint(i, 10), 0644))
	}
	err := fsys.Create("overflow", 0644)
	assert.ErrorIs(t, err, common.ErrNoSpace)

	require.NoError(t, fsys.Unlink("f17"))
	require.NoError(t, fsys.Create("overflow", 0644))
	_, err = fsys.GetAttr("overflow")
	assert.NoError(t, err)
}

func TestOutOfBlocks(t *testing.T) {
	// a tiny image: just a handful of data blocks
	sz := uint64(super.DataStart()) + 7
	d := disk.NewMemDisk(sz)
	require.NoError(t, Mkfs(d))
	fsys, err := Mount(d)
	require.NoError(t, err)
	require.Equal(t, uint64(7), fsys.NumFreeBlocks())

	require.NoError(t, fsys.Create("f", 0644))
	n, err := fsys.Write("f", 0, mkData(8*disk.BlockSize))
	assert.ErrorIs(t, err, common.ErrNoSpace)
	assert.Equal(t, 7*disk.BlockSize, n)

	// the partial write's blocks stay attached until unlink reclaims
	require.NoError(t, fsys.Unlink("f"))
	assert.Equal(t, uint64(7), fsys.NumFreeBlocks())
}

func TestRename(t *testing.T) {
	fsys := mkFs(t)
	require.NoError(t, fsys.Create("a", 0644))
	data := []byte("contents")
	_, err := fsys.Write("a", 0, data)
	require.NoError(t, err)

	require.NoError(t, fsys.Rename("a", "b"))
	_, err = fsys.GetAttr("a")
	assert.ErrorIs(t, err, common.ErrNotFound)
	got, err := fsys.Read("b", 0, uint64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// a live destination is never replaced
	require.NoError(t, fsys.Create("c", 0644))
	assert.ErrorIs(t, fsys.Rename("b", "c"), common.ErrExists)

	assert.ErrorIs(t, fsys.Rename("missing", "d"), common.ErrNotFound)
	assert.ErrorIs(t, fsys.Rename(".", "d"), common.ErrNotFound)
	assert.ErrorIs(t, fsys.Rename("b", ".."), common.ErrExists)
}

func TestOpenRelease(t *testing.T) {
	fsys := mkFs(t)
	require.NoError(t, fsys.Create("f", 0644))

	fh, err := fsys.Open("f")
	require.NoError(t, err)
	require.NoError(t, fsys.Release(fh))
	assert.ErrorIs(t, fsys.Release(fh), common.ErrInvalidState)

	_, err = fsys.Open("missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = fsys.Open(".")
	assert.ErrorIs(t, err, common.ErrNotFound)

	fhs := make([]uint64, 0, common.MAXOPENFILES)
	for i := uint64(0); i < common.MAXOPENFILES; i++ {
		fh, err := fsys.Open("f")
		require.NoError(t, err)
		fhs = append(fhs, fh)
	}
	_, err = fsys.Open("f")
	assert.ErrorIs(t, err, common.ErrNoSpace)

	require.NoError(t, fsys.Release(fhs[0]))
	_, err = fsys.Open("f")
	assert.NoError(t, err)
}

func TestSetTimes(t *testing.T) {
	fsys := mkFs(t)
	require.NoError(t, fsys.Create("f", 0644))
	require.NoError(t, fsys.SetTimes("f", 5, 7))

	a, err := fsys.GetAttr("f")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), a.Ctime)
	assert.Equal(t, uint64(7), a.Mtime)

	assert.ErrorIs(t, fsys.SetTimes("missing", 1, 2), common.ErrNotFound)
}

func TestAccess(t *testing.T) {
	fsys := mkFs(t)
	require.NoError(t, fsys.Create("f", 0644))
	assert.NoError(t, fsys.Access("f", 4))
	assert.NoError(t, fsys.Access("/", 4))
	assert.NoError(t, fsys.Access(".", 4))
	assert.ErrorIs(t, fsys.Access("missing", 4), common.ErrNotFound)
}

package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tchajed/goose/machine/disk"

	"github.com/bfs-dev/go-bfsd/common"
	"github.com/bfs-dev/go-bfsd/super"
)

const testSz uint64 = 1024

func mkMounted(t *testing.T) (disk.Disk, *Filesystem) {
	d := disk.NewMemDisk(testSz)
	require.NoError(t, Mkfs(d))
	fsys, err := Mount(d)
	require.NoError(t, err)
	return d, fsys
}

func TestMkfsMount(t *testing.T) {
	_, fsys := mkMounted(t)

	ents := fsys.ReadDir()
	require.Len(t, ents, 2)
	assert.Equal(t, ".", ents[0].Name)
	assert.Equal(t, "..", ents[1].Name)
	assert.Equal(t, common.ROOTINUM, ents[0].Inum)
	assert.True(t, ents[0].IsDir)

	// the root marker slot is taken, every file slot is free
	assert.Equal(t, common.MAXFILES-1, fsys.NumFreeInodes())
	assert.Equal(t, testSz-uint64(super.DataStart()), fsys.NumFreeBlocks())

	a, err := fsys.GetAttr("/")
	require.NoError(t, err)
	assert.True(t, a.IsDir)
	assert.Equal(t, uint32(2), a.Nlink)
}

func TestMkfsSizeBounds(t *testing.T) {
	err := Mkfs(disk.NewMemDisk(uint64(super.DataStart())))
	assert.Error(t, err)
}

func TestMountRejectsGarbage(t *testing.T) {
	// an unformatted (all-zero) image has no valid superblock
	_, err := Mount(disk.NewMemDisk(testSz))
	assert.ErrorIs(t, err, common.ErrInvalidState)
}

func TestMountRejectsResizedImage(t *testing.T) {
	d := disk.NewMemDisk(testSz)
	require.NoError(t, Mkfs(d))

	// the same superblock on a larger device no longer matches
	d2 := disk.NewMemDisk(2 * testSz)
	d2.Write(uint64(super.Superblock), d.Read(uint64(super.Superblock)))
	_, err := Mount(d2)
	assert.ErrorIs(t, err, common.ErrInvalidState)
}

// recordingDisk logs the block number of every write so tests can check
// the flush sequence.
type recordingDisk struct {
	disk.Disk
	writes []uint64
}

func (d *recordingDisk) Write(bn uint64, b disk.Block) {
	d.writes = append(d.writes, bn)
	d.Disk.Write(bn, b)
}

func TestFlushOrder(t *testing.T) {
	d := disk.NewMemDisk(testSz)
	require.NoError(t, Mkfs(d))
	rd := &recordingDisk{Disk: d}
	fsys, err := Mount(rd)
	require.NoError(t, err)

	rd.writes = nil
	require.NoError(t, fsys.Flush())

	// block bitmap, inode map, inode table, then the directory
	var want []uint64
	want = append(want, uint64(super.BitmapBlockStart()))
	want = append(want, uint64(super.InodeMapStart()))
	for b := uint64(0); b < super.NInodeBlocks(); b++ {
		want = append(want, uint64(super.InodeTableStart())+b)
	}
	for b := uint64(0); b < super.NDirBlocks(); b++ {
		want = append(want, uint64(super.DirStart())+b)
	}
	assert.Equal(t, want, rd.writes)
}

func TestRemountPersistence(t *testing.T) {
	d, fsys := mkMounted(t)
	require.NoError(t, fsys.Create("kept", 0644))
	data := []byte("survives a remount")
	_, err := fsys.Write("kept", 0, data)
	require.NoError(t, err)
	require.NoError(t, fsys.Unmount())

	assert.ErrorIs(t, fsys.Flush(), common.ErrInvalidState)

	fsys2, err := Mount(d)
	require.NoError(t, err)
	a, err := fsys2.GetAttr("kept")
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), a.Size)
	got, err := fsys2.Read("kept", 0, uint64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

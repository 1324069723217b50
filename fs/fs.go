// Package fs is the engine core: it owns the in-memory copies of every
// on-disk structure for one mounted image and exposes the filesystem
// operations the host dispatch layer calls.
//
// The persistence discipline is load-everything at Mount, mutate in
// memory, and write every region back after each mutating operation
// (write-through, no journaling). The flush order is fixed: block
// bitmap, inode map, inode table, directory.
package fs

import (
	"fmt"

	"github.com/tchajed/goose/machine/disk"

	"github.com/bfs-dev/go-bfsd/alloc"
	"github.com/bfs-dev/go-bfsd/common"
	"github.com/bfs-dev/go-bfsd/dev"
	"github.com/bfs-dev/go-bfsd/dir"
	"github.com/bfs-dev/go-bfsd/inode"
	"github.com/bfs-dev/go-bfsd/super"
	"github.com/mit-pdos/go-journal/util"
)

// Filesystem aggregates all mounted state. Nothing here is global;
// several images can be mounted independently in one process, each
// with exactly one owner.
type Filesystem struct {
	dv     *dev.Dev
	Super  *super.FsSuper
	balloc *alloc.Alloc
	ialloc *alloc.Alloc
	inodes []*inode.Inode // index inum-1
	dirtbl *dir.Table
	loaded bool

	// open-file table: handle -> inode number. Detects handle
	// exhaustion and validates Release; no buffering behind it.
	fhs    map[uint64]common.Inum
	nextFh uint64
}

// Mount loads every persisted region into memory. Any read failure or
// superblock mismatch refuses the mount; the engine never runs on
// partially-loaded state.
func Mount(d disk.Disk) (*Filesystem, error) {
	dv := dev.MkDev(d)

	blk, err := dv.ReadBlock(super.Superblock)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	sb := super.Decode(blk)
	if err := sb.Validate(dv.Size()); err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}

	balloc, err := alloc.Load(dv, super.BitmapBlockStart(), super.NBitmapBlocks(),
		sb.TotalBlocks, uint64(super.DataStart()))
	if err != nil {
		return nil, fmt.Errorf("mount: block bitmap: %w", err)
	}
	ialloc, err := alloc.Load(dv, super.InodeMapStart(), 1, common.MAXFILES, 0)
	if err != nil {
		return nil, fmt.Errorf("mount: inode map: %w", err)
	}

	inodes := make([]*inode.Inode, common.MAXFILES)
	for b := uint64(0); b < super.NInodeBlocks(); b++ {
		blk, err := dv.ReadBlock(super.InodeTableStart() + common.Bnum(b))
		if err != nil {
			return nil, fmt.Errorf("mount: inode table: %w", err)
		}
		for j := uint64(0); j < common.INODEBLK; j++ {
			inum := common.Inum(b*common.INODEBLK + j + 1)
			rec := blk[j*common.INODESZ : (j+1)*common.INODESZ]
			inodes[inum-1] = inode.Decode(rec, inum)
		}
	}

	dirbuf := make([]byte, 0, common.MAXFILES*common.DIRENTSZ)
	for b := uint64(0); b < super.NDirBlocks(); b++ {
		blk, err := dv.ReadBlock(super.DirStart() + common.Bnum(b))
		if err != nil {
			return nil, fmt.Errorf("mount: directory: %w", err)
		}
		dirbuf = append(dirbuf, blk...)
	}

	fsys := &Filesystem{
		dv:     dv,
		Super:  sb,
		balloc: balloc,
		ialloc: ialloc,
		inodes: inodes,
		dirtbl: dir.Decode(dirbuf),
		loaded: true,
		fhs:    make(map[uint64]common.Inum),
		nextFh: 1,
	}
	util.DPrintf(1, "Mount: %d blocks, %d free\n", sb.TotalBlocks, balloc.NumFree())
	return fsys, nil
}

// Flush writes every persisted region back to the image, in the fixed
// order the mount-time reader expects. There is no dirty tracking.
func (fsys *Filesystem) Flush() error {
	if !fsys.loaded {
		return fmt.Errorf("flush after unmount: %w", common.ErrInvalidState)
	}
	if err := fsys.balloc.Flush(); err != nil {
		return fmt.Errorf("flush block bitmap: %w", err)
	}
	if err := fsys.ialloc.Flush(); err != nil {
		return fmt.Errorf("flush inode map: %w", err)
	}
	if err := fsys.flushInodes(); err != nil {
		return fmt.Errorf("flush inode table: %w", err)
	}
	if err := writeDir(fsys.dv, fsys.dirtbl); err != nil {
		return fmt.Errorf("flush directory: %w", err)
	}
	return nil
}

func (fsys *Filesystem) flushInodes() error {
	for b := uint64(0); b < super.NInodeBlocks(); b++ {
		blk := make(disk.Block, disk.BlockSize)
		for j := uint64(0); j < common.INODEBLK; j++ {
			ip := fsys.inodes[b*common.INODEBLK+j]
			copy(blk[j*common.INODESZ:], ip.Encode())
		}
		if err := fsys.dv.WriteBlock(super.InodeTableStart()+common.Bnum(b), blk); err != nil {
			return err
		}
	}
	return nil
}

func writeDir(dv *dev.Dev, t *dir.Table) error {
	buf := t.Encode()
	for b := uint64(0); b < super.NDirBlocks(); b++ {
		blk := disk.Block(buf[b*disk.BlockSize : (b+1)*disk.BlockSize])
		if err := dv.WriteBlock(super.DirStart()+common.Bnum(b), blk); err != nil {
			return err
		}
	}
	return nil
}

// Unmount flushes, orders the writes onto stable storage, and drops
// the in-memory state. The image is the only representation after
// this returns.
func (fsys *Filesystem) Unmount() error {
	if err := fsys.Flush(); err != nil {
		return err
	}
	fsys.dv.Barrier()
	fsys.dv.Close()
	fsys.loaded = false
	util.DPrintf(1, "Unmount\n")
	return nil
}

// NumFreeBlocks reports allocatable data blocks; NumFreeInodes the
// remaining file slots. Both serve the host's statfs.
func (fsys *Filesystem) NumFreeBlocks() uint64 { return fsys.balloc.NumFree() }

func (fsys *Filesystem) NumFreeInodes() uint64 { return fsys.ialloc.NumFree() }

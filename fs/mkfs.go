package fs

import (
	"fmt"

	"github.com/tchajed/goose/machine/disk"

	"github.com/bfs-dev/go-bfsd/common"
	"github.com/bfs-dev/go-bfsd/dev"
	"github.com/bfs-dev/go-bfsd/dir"
	"github.com/bfs-dev/go-bfsd/super"
	"github.com/mit-pdos/go-journal/util"
)

// Mkfs formats the device with an empty filesystem: superblock, a block
// bitmap with only the metadata blocks taken, an inode map with only
// the root marker taken, a zeroed inode table, a directory holding "."
// and "..", and a zeroed data region. Mount accepts exactly what this
// produces.
func Mkfs(d disk.Disk) error {
	dv := dev.MkDev(d)
	nblks := dv.Size()
	if nblks <= uint64(super.DataStart()) ||
		nblks > super.NBitmapBlocks()*common.NBITBLOCK {
		return fmt.Errorf("mkfs: image size %d blocks out of range", nblks)
	}
	util.DPrintf(1, "Mkfs: %d blocks\n", nblks)

	sb := super.MkFsSuper(nblks)
	if err := dv.WriteBlock(super.Superblock, sb.Encode()); err != nil {
		return err
	}

	bitmap := make(disk.Block, disk.BlockSize)
	for bn := uint64(0); bn < uint64(super.DataStart()); bn++ {
		bitmap[bn/8] |= 1 << (bn % 8)
	}
	if err := dv.WriteBlock(super.BitmapBlockStart(), bitmap); err != nil {
		return err
	}

	imap := make(disk.Block, disk.BlockSize)
	imap[0] = 1 // root marker inode slot
	if err := dv.WriteBlock(super.InodeMapStart(), imap); err != nil {
		return err
	}

	zero := make(disk.Block, disk.BlockSize)
	for b := uint64(0); b < super.NInodeBlocks(); b++ {
		if err := dv.WriteBlock(super.InodeTableStart()+common.Bnum(b), zero); err != nil {
			return err
		}
	}

	t := dir.MkTable()
	if err := t.Add(".", common.ROOTINUM); err != nil {
		return err
	}
	if err := t.Add("..", common.ROOTINUM); err != nil {
		return err
	}
	if err := writeDir(dv, t); err != nil {
		return err
	}

	for bn := uint64(super.DataStart()); bn < nblks; bn++ {
		if err := dv.WriteBlock(common.Bnum(bn), zero); err != nil {
			return err
		}
	}

	dv.Barrier()
	return nil
}

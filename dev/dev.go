// Package dev adapts a goose disk into the engine's block device: every
// access is a positioned read or write of exactly one block, and device
// failures surface as ErrIO instead of panics.
package dev

import (
	"fmt"

	"github.com/goose-lang/std"
	"github.com/tchajed/goose/machine/disk"

	"github.com/bfs-dev/go-bfsd/common"
)

type Dev struct {
	d disk.Disk
}

func MkDev(d disk.Disk) *Dev {
	return &Dev{d: d}
}

// ReadBlock returns a copy of block bn. The copy matters: a MemDisk may
// hand back its backing array, and callers overlay bytes in place.
func (dv *Dev) ReadBlock(bn common.Bnum) (blk disk.Block, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read block %d: %v: %w", bn, r, common.ErrIO)
		}
	}()
	if uint64(bn) >= dv.d.Size() {
		return nil, fmt.Errorf("read block %d past device end %d: %w",
			bn, dv.d.Size(), common.ErrIO)
	}
	b := dv.d.Read(uint64(bn))
	return std.BytesClone(b), nil
}

// WriteBlock writes exactly one block. A short buffer is a caller bug,
// not a device condition.
func (dv *Dev) WriteBlock(bn common.Bnum, blk disk.Block) (err error) {
	if uint64(len(blk)) != disk.BlockSize {
		panic("WriteBlock: buffer is not one block")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("write block %d: %v: %w", bn, r, common.ErrIO)
		}
	}()
	if uint64(bn) >= dv.d.Size() {
		return fmt.Errorf("write block %d past device end %d: %w",
			bn, dv.d.Size(), common.ErrIO)
	}
	dv.d.Write(uint64(bn), blk)
	return nil
}

// WriteRange overlays data at byte offset off within block bn and writes
// the block back. The bitmap and inode-map regions are smaller than a
// block, so their write-through updates go through here.
func (dv *Dev) WriteRange(bn common.Bnum, off uint64, data []byte) error {
	if off+uint64(len(data)) > disk.BlockSize {
		panic("WriteRange: range crosses block boundary")
	}
	blk, err := dv.ReadBlock(bn)
	if err != nil {
		return err
	}
	copy(blk[off:], data)
	return dv.WriteBlock(bn, blk)
}

func (dv *Dev) Size() uint64 {
	return dv.d.Size()
}

func (dv *Dev) Barrier() {
	dv.d.Barrier()
}

func (dv *Dev) Close() {
	dv.d.Close()
}

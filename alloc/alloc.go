// Package alloc implements the bitmap allocators for data blocks and
// inode slots. Allocation scans lowest-index-first, which makes slot
// choice deterministic, and every bit flip is written through to the
// image immediately.
package alloc

import (
	"fmt"

	"github.com/tchajed/goose/machine/disk"

	"github.com/bfs-dev/go-bfsd/common"
	"github.com/bfs-dev/go-bfsd/dev"
	"github.com/mit-pdos/go-journal/util"
)

type Alloc struct {
	dv      *dev.Dev
	start   common.Bnum // first block of the on-disk bitmap region
	nblocks uint64
	nbits   uint64
	first   uint64 // lowest bit eligible for allocation
	bits    []byte
}

// Load reads an nblocks-long bitmap region starting at block start.
// Bits below first are owned by the layout (metadata blocks, the root
// marker) and never handed out.
func Load(dv *dev.Dev, start common.Bnum, nblocks uint64, nbits uint64,
	first uint64) (*Alloc, error) {
	if nbits > nblocks*common.NBITBLOCK {
		panic("alloc.Load: bitmap region too small")
	}
	bits := make([]byte, 0, nblocks*disk.BlockSize)
	for i := uint64(0); i < nblocks; i++ {
		blk, err := dv.ReadBlock(start + common.Bnum(i))
		if err != nil {
			return nil, fmt.Errorf("load bitmap: %w", err)
		}
		bits = append(bits, blk...)
	}
	return &Alloc{
		dv:      dv,
		start:   start,
		nblocks: nblocks,
		nbits:   nbits,
		first:   first,
		bits:    bits,
	}, nil
}

func (a *Alloc) Allocated(n uint64) bool {
	if n >= a.nbits {
		panic("Allocated: bit out of range")
	}
	return a.bits[n/8]&(1<<(n%8)) != 0
}

// AllocNum claims the lowest free bit at or above first and persists
// the change before returning.
func (a *Alloc) AllocNum() (uint64, error) {
	for n := a.first; n < a.nbits; n++ {
		if a.Allocated(n) {
			continue
		}
		a.bits[n/8] |= 1 << (n % 8)
		if err := a.persistBit(n); err != nil {
			return 0, err
		}
		util.DPrintf(5, "AllocNum: -> %d\n", n)
		return n, nil
	}
	return 0, common.ErrNoSpace
}

// FreeNum clears bit n and persists the change. Freeing a bit that is
// not allocated means the metadata is corrupt.
func (a *Alloc) FreeNum(n uint64) error {
	if n < a.first || n >= a.nbits {
		panic("FreeNum: bit out of range")
	}
	if !a.Allocated(n) {
		panic("FreeNum: bit not allocated")
	}
	a.bits[n/8] &^= 1 << (n % 8)
	util.DPrintf(5, "FreeNum: %d\n", n)
	return a.persistBit(n)
}

// persistBit writes through the single byte holding bit n.
func (a *Alloc) persistBit(n uint64) error {
	i := n / 8
	return a.dv.WriteRange(a.start+common.Bnum(i/disk.BlockSize),
		i%disk.BlockSize, a.bits[i:i+1])
}

// Flush rewrites the whole bitmap region.
func (a *Alloc) Flush() error {
	for i := uint64(0); i < a.nblocks; i++ {
		blk := a.bits[i*disk.BlockSize : (i+1)*disk.BlockSize]
		if err := a.dv.WriteBlock(a.start+common.Bnum(i), blk); err != nil {
			return err
		}
	}
	return nil
}

// NumFree counts allocatable bits; handy for space accounting and tests.
func (a *Alloc) NumFree() uint64 {
	var free uint64
	for n := a.first; n < a.nbits; n++ {
		if !a.Allocated(n) {
			free++
		}
	}
	return free
}

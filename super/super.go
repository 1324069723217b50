// Package super defines the fixed image layout and the superblock
// record. The layout is compiled into the engine; the superblock is
// written once at format time and only validated, never consulted for
// addressing, after that.
package super

import (
	"fmt"

	"github.com/tchajed/goose/machine/disk"
	"github.com/tchajed/marshal"

	"github.com/bfs-dev/go-bfsd/common"
)

// The image layout, in absolute block numbers:
//
//	0                superblock
//	1                block bitmap (one bit per image block)
//	2                inode map (one bit per inode slot)
//	3..6             inode table (MAXFILES records)
//	7..8             directory table (MAXFILES entries)
//	9..TotalBlocks   data region (file content and indirect blocks)
const Superblock common.Bnum = 0

func BitmapBlockStart() common.Bnum { return 1 }

func NBitmapBlocks() uint64 { return 1 }

func InodeMapStart() common.Bnum { return BitmapBlockStart() + common.Bnum(NBitmapBlocks()) }

func InodeTableStart() common.Bnum { return InodeMapStart() + 1 }

func NInodeBlocks() uint64 { return common.MAXFILES / common.INODEBLK }

func DirStart() common.Bnum { return InodeTableStart() + common.Bnum(NInodeBlocks()) }

func NDirBlocks() uint64 { return common.MAXFILES * common.DIRENTSZ / disk.BlockSize }

func DataStart() common.Bnum { return DirStart() + common.Bnum(NDirBlocks()) }

// FsSuper mirrors the on-disk superblock record.
type FsSuper struct {
	TotalBlocks uint64
	BlockSize   uint64
	NInode      uint64
	DirBlock    common.Bnum
}

func MkFsSuper(totalBlocks uint64) *FsSuper {
	return &FsSuper{
		TotalBlocks: totalBlocks,
		BlockSize:   disk.BlockSize,
		NInode:      common.MAXFILES,
		DirBlock:    DirStart(),
	}
}

func (sb *FsSuper) Encode() disk.Block {
	enc := marshal.NewEnc(disk.BlockSize)
	enc.PutInt32(uint32(sb.TotalBlocks))
	enc.PutInt32(uint32(sb.BlockSize))
	enc.PutInt32(uint32(sb.NInode))
	enc.PutInt32(uint32(sb.DirBlock))
	return enc.Finish()
}

func Decode(blk disk.Block) *FsSuper {
	dec := marshal.NewDec(blk)
	sb := &FsSuper{}
	sb.TotalBlocks = uint64(dec.GetInt32())
	sb.BlockSize = uint64(dec.GetInt32())
	sb.NInode = uint64(dec.GetInt32())
	sb.DirBlock = common.Bnum(dec.GetInt32())
	return sb
}

// Validate refuses images this engine cannot have formatted: wrong
// block size, a size that disagrees with the device, or a directory
// region somewhere other than where the layout puts it.
func (sb *FsSuper) Validate(devBlocks uint64) error {
	if sb.BlockSize != disk.BlockSize {
		return fmt.Errorf("superblock: block size %d: %w",
			sb.BlockSize, common.ErrInvalidState)
	}
	if sb.TotalBlocks != devBlocks {
		return fmt.Errorf("superblock: %d blocks but device has %d: %w",
			sb.TotalBlocks, devBlocks, common.ErrInvalidState)
	}
	if sb.TotalBlocks <= uint64(DataStart()) ||
		sb.TotalBlocks > NBitmapBlocks()*common.NBITBLOCK {
		return fmt.Errorf("superblock: image size %d out of range: %w",
			sb.TotalBlocks, common.ErrInvalidState)
	}
	if sb.NInode != common.MAXFILES {
		return fmt.Errorf("superblock: inode capacity %d: %w",
			sb.NInode, common.ErrInvalidState)
	}
	if sb.DirBlock != DirStart() {
		return fmt.Errorf("superblock: directory at block %d: %w",
			sb.DirBlock, common.ErrInvalidState)
	}
	return nil
}

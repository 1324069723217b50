// Package inode holds the on-disk inode record and the block-address
// translator that resolves a file's logical block to a physical block
// through the direct pointers and one level of indirection.
package inode

import (
	"fmt"

	"github.com/tchajed/goose/machine/disk"
	"github.com/tchajed/marshal"

	"github.com/bfs-dev/go-bfsd/alloc"
	"github.com/bfs-dev/go-bfsd/common"
	"github.com/bfs-dev/go-bfsd/dev"
	"github.com/mit-pdos/go-journal/util"
)

// Inode is one fixed-size record of the inode table. A pointer value of
// NULLBNUM means the slot is unallocated and reads as zeroes.
type Inode struct {
	Inum     common.Inum
	Size     uint64
	Direct   []common.Bnum // NDIRECT entries
	Indirect common.Bnum
	Ctime    uint64
	Mtime    uint64
	Mode     uint32
	Nlink    uint32
}

func MkInode(inum common.Inum) *Inode {
	return &Inode{
		Inum:   inum,
		Direct: make([]common.Bnum, common.NDIRECT),
	}
}

func (ip *Inode) String() string {
	return fmt.Sprintf("# %d sz %d m %o n %d %v ind %d",
		ip.Inum, ip.Size, ip.Mode, ip.Nlink, ip.Direct, ip.Indirect)
}

// Init resets the record for a fresh file: size 0, no blocks, link
// count 1, both timestamps at now.
func (ip *Inode) Init(mode uint32, now uint64) {
	ip.Size = 0
	for i := range ip.Direct {
		ip.Direct[i] = common.NULLBNUM
	}
	ip.Indirect = common.NULLBNUM
	ip.Ctime = now
	ip.Mtime = now
	ip.Mode = mode
	ip.Nlink = 1
}

func (ip *Inode) Clear() {
	ip.Init(0, 0)
	ip.Nlink = 0
}

// Block pointers are 4 bytes on disk, matching the indirect block's
// slot width.
func (ip *Inode) Encode() []byte {
	enc := marshal.NewEnc(common.INODESZ)
	enc.PutInt(ip.Size)
	for _, b := range ip.Direct {
		enc.PutInt32(uint32(b))
	}
	enc.PutInt32(uint32(ip.Indirect))
	enc.PutInt(ip.Ctime)
	enc.PutInt(ip.Mtime)
	enc.PutInt32(ip.Mode)
	enc.PutInt32(ip.Nlink)
	return enc.Finish()
}

func Decode(buf []byte, inum common.Inum) *Inode {
	dec := marshal.NewDec(buf)
	ip := MkInode(inum)
	ip.Size = dec.GetInt()
	for i := uint64(0); i < common.NDIRECT; i++ {
		ip.Direct[i] = common.Bnum(dec.GetInt32())
	}
	ip.Indirect = common.Bnum(dec.GetInt32())
	ip.Ctime = dec.GetInt()
	ip.Mtime = dec.GetInt()
	ip.Mode = dec.GetInt32()
	ip.Nlink = dec.GetInt32()
	return ip
}

// An indirect block is decoded into a typed pointer slice at the I/O
// boundary; nothing aliases the raw bytes.
func decodeInd(blk disk.Block) []common.Bnum {
	dec := marshal.NewDec(blk)
	ptrs := make([]common.Bnum, common.NINDIRECT)
	for i := range ptrs {
		ptrs[i] = common.Bnum(dec.GetInt32())
	}
	return ptrs
}

func encodeInd(ptrs []common.Bnum) disk.Block {
	enc := marshal.NewEnc(disk.BlockSize)
	for _, p := range ptrs {
		enc.PutInt32(uint32(p))
	}
	return enc.Finish()
}

// Bmap resolves logical block bn without allocating. NULLBNUM means the
// position was never written and reads as zeroes.
func (ip *Inode) Bmap(dv *dev.Dev, bn uint64) (common.Bnum, error) {
	if bn >= common.NDIRECT+common.NINDIRECT {
		return common.NULLBNUM, common.ErrFileTooLarge
	}
	if bn < common.NDIRECT {
		return ip.Direct[bn], nil
	}
	if ip.Indirect == common.NULLBNUM {
		return common.NULLBNUM, nil
	}
	blk, err := dv.ReadBlock(ip.Indirect)
	if err != nil {
		return common.NULLBNUM, err
	}
	return decodeInd(blk)[bn-common.NDIRECT], nil
}

// BmapAlloc resolves bn for a write, allocating the direct slot, the
// indirect block, or the indirect slot as needed. A modified indirect
// block is persisted immediately; the inode itself is flushed by the
// caller. fresh reports that the returned block was just claimed and
// carries no data yet.
func (ip *Inode) BmapAlloc(dv *dev.Dev, ba *alloc.Alloc, bn uint64) (blkno common.Bnum, fresh bool, err error) {
	if bn >= common.NDIRECT+common.NINDIRECT {
		return common.NULLBNUM, false, common.ErrFileTooLarge
	}
	if bn < common.NDIRECT {
		if ip.Direct[bn] == common.NULLBNUM {
			n, err := ba.AllocNum()
			if err != nil {
				return common.NULLBNUM, false, err
			}
			ip.Direct[bn] = common.Bnum(n)
			fresh = true
		}
		return ip.Direct[bn], fresh, nil
	}
	if ip.Indirect == common.NULLBNUM {
		n, err := ba.AllocNum()
		if err != nil {
			return common.NULLBNUM, false, err
		}
		ip.Indirect = common.Bnum(n)
		// every slot of a new indirect block starts unallocated
		if err := dv.WriteBlock(ip.Indirect, make(disk.Block, disk.BlockSize)); err != nil {
			return common.NULLBNUM, false, err
		}
		util.DPrintf(1, "BmapAlloc: # %d indirect block %d\n", ip.Inum, n)
	}
	blk, err := dv.ReadBlock(ip.Indirect)
	if err != nil {
		return common.NULLBNUM, false, err
	}
	ptrs := decodeInd(blk)
	slot := bn - common.NDIRECT
	if ptrs[slot] == common.NULLBNUM {
		n, err := ba.AllocNum()
		if err != nil {
			return common.NULLBNUM, false, err
		}
		ptrs[slot] = common.Bnum(n)
		if err := dv.WriteBlock(ip.Indirect, encodeInd(ptrs)); err != nil {
			return common.NULLBNUM, false, err
		}
		fresh = true
	}
	return ptrs[slot], fresh, nil
}

// Shrink releases everything the inode references: the direct blocks,
// then each allocated indirect slot, then the indirect block itself.
// The indirect block is read before anything under it is freed, so an
// interrupted run can only leave blocks allocated, never dangling.
func (ip *Inode) Shrink(dv *dev.Dev, ba *alloc.Alloc) error {
	for i, b := range ip.Direct {
		if b == common.NULLBNUM {
			continue
		}
		if err := ba.FreeNum(uint64(b)); err != nil {
			return err
		}
		ip.Direct[i] = common.NULLBNUM
	}
	if ip.Indirect != common.NULLBNUM {
		blk, err := dv.ReadBlock(ip.Indirect)
		if err != nil {
			return err
		}
		for _, p := range decodeInd(blk) {
			if p == common.NULLBNUM {
				continue
			}
			if err := ba.FreeNum(uint64(p)); err != nil {
				return err
			}
		}
		if err := ba.FreeNum(uint64(ip.Indirect)); err != nil {
			return err
		}
		ip.Indirect = common.NULLBNUM
	}
	ip.Size = 0
	return nil
}

package fs

import (
	"fmt"
	"time"

	"github.com/tchajed/goose/machine/disk"

	"github.com/bfs-dev/go-bfsd/common"
	"github.com/bfs-dev/go-bfsd/dir"
	"github.com/bfs-dev/go-bfsd/inode"
	"github.com/mit-pdos/go-journal/util"
)

// Attr is the metadata surface of one name.
type Attr struct {
	Mode  uint32
	Nlink uint32
	Size  uint64
	Ctime uint64
	Mtime uint64
	IsDir bool
}

// Dirent is one directory listing entry.
type Dirent struct {
	Name  string
	Inum  common.Inum
	IsDir bool
}

func now() uint64 {
	return uint64(time.Now().Unix())
}

// RootAttr synthesizes the root directory's attributes. The root has
// no inode; its fixed mode and link count are part of the contract.
func RootAttr() Attr {
	return Attr{
		Mode:  0755,
		Nlink: 2,
		Size:  common.MAXFILES * common.DIRENTSZ,
		IsDir: true,
	}
}

// lookup resolves a file name to its in-memory inode. An inode number
// outside [1, MAXFILES] in a live entry means the directory is corrupt.
func (fsys *Filesystem) lookup(name string) (*inode.Inode, common.Inum, error) {
	// the markers carry the reserved root inum; no file inode backs them
	if dir.IllegalName(name) {
		return nil, common.NULLINUM, fmt.Errorf("%q: %w", name, common.ErrNotFound)
	}
	inum, ok := fsys.dirtbl.Lookup(name)
	if !ok {
		return nil, common.NULLINUM, fmt.Errorf("%q: %w", name, common.ErrNotFound)
	}
	if inum < 1 || uint64(inum) > common.MAXFILES {
		return nil, common.NULLINUM,
			fmt.Errorf("%q: inode %d out of range: %w", name, inum, common.ErrInvalidState)
	}
	return fsys.inodes[inum-1], inum, nil
}

// GetAttr returns the attributes for name; "/" and the root markers
// resolve to the synthetic root attributes.
func (fsys *Filesystem) GetAttr(name string) (Attr, error) {
	if name == "/" || dir.IllegalName(name) {
		return RootAttr(), nil
	}
	ip, _, err := fsys.lookup(name)
	if err != nil {
		return Attr{}, err
	}
	return Attr{
		Mode:  ip.Mode,
		Nlink: ip.Nlink,
		Size:  ip.Size,
		Ctime: ip.Ctime,
		Mtime: ip.Mtime,
	}, nil
}

// ReadDir lists the root namespace in slot order; the formatter puts
// "." and ".." in the first two slots.
func (fsys *Filesystem) ReadDir() []Dirent {
	var ents []Dirent
	for _, e := range fsys.dirtbl.Entries() {
		ents = append(ents, Dirent{
			Name:  e.Name,
			Inum:  e.Inum,
			IsDir: dir.IllegalName(e.Name),
		})
	}
	return ents
}

// Create makes an empty file: a zero-initialized inode with the given
// permission bits, link count 1, timestamps at now.
func (fsys *Filesystem) Create(name string, mode uint32) error {
	util.DPrintf(1, "Create %q mode %o\n", name, mode)
	if dir.IllegalName(name) {
		return fmt.Errorf("%q: %w", name, common.ErrExists)
	}
	if name == "" {
		return fmt.Errorf("empty name: %w", common.ErrNotFound)
	}
	if _, ok := fsys.dirtbl.Lookup(name); ok {
		return fmt.Errorf("%q: %w", name, common.ErrExists)
	}
	if fsys.dirtbl.NumFree() == 0 {
		return fmt.Errorf("directory full: %w", common.ErrNoSpace)
	}
	slot, err := fsys.ialloc.AllocNum()
	if err != nil {
		return fmt.Errorf("create %q: no free inode: %w", name, err)
	}
	inum := common.Inum(slot + 1)
	fsys.inodes[inum-1].Init(mode, now())
	if err := fsys.dirtbl.Add(name, inum); err != nil {
		fsys.inodes[inum-1].Clear()
		if ferr := fsys.ialloc.FreeNum(slot); ferr != nil {
			return ferr
		}
		return fmt.Errorf("create %q: %w", name, err)
	}
	return fsys.Flush()
}

// Open validates existence and registers a handle in the open-file
// table; the handle carries no buffering.
func (fsys *Filesystem) Open(name string) (uint64, error) {
	_, inum, err := fsys.lookup(name)
	if err != nil {
		return 0, err
	}
	if uint64(len(fsys.fhs)) >= common.MAXOPENFILES {
		return 0, fmt.Errorf("open %q: too many open files: %w", name, common.ErrNoSpace)
	}
	fh := fsys.nextFh
	fsys.nextFh++
	fsys.fhs[fh] = inum
	util.DPrintf(2, "Open %q -> fh %d\n", name, fh)
	return fh, nil
}

// Release unregisters a handle returned by Open.
func (fsys *Filesystem) Release(fh uint64) error {
	if _, ok := fsys.fhs[fh]; !ok {
		return fmt.Errorf("release fh %d: %w", fh, common.ErrInvalidState)
	}
	delete(fsys.fhs, fh)
	return nil
}

// Read returns up to count bytes at offset. Reads at or past the size
// return no bytes (EOF is not an error); positions inside the size
// whose block was never written read as zeroes.
func (fsys *Filesystem) Read(name string, offset uint64, count uint64) ([]byte, error) {
	ip, _, err := fsys.lookup(name)
	if err != nil {
		return nil, err
	}
	if offset >= ip.Size {
		return nil, nil
	}
	count = util.Min(count, ip.Size-offset)
	util.DPrintf(2, "Read %q off %d cnt %d\n", name, offset, count)

	data := make([]byte, 0, count)
	var n uint64
	off := offset
	for boff := off / disk.BlockSize; n < count; boff++ {
		byteoff := off % disk.BlockSize
		nbytes := util.Min(disk.BlockSize-byteoff, count-n)
		blkno, err := ip.Bmap(fsys.dv, boff)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", name, err)
		}
		if blkno == common.NULLBNUM {
			data = append(data, make([]byte, nbytes)...)
		} else {
			blk, err := fsys.dv.ReadBlock(blkno)
			if err != nil {
				return nil, fmt.Errorf("read %q: %w", name, err)
			}
			data = append(data, blk[byteoff:byteoff+nbytes]...)
		}
		n += nbytes
		off += nbytes
	}
	return data, nil
}

// Write stores data at offset, allocating blocks as it goes. The size
// bound is checked before any block is touched. A failure mid-write
// leaves already-written blocks and fresh allocations attached to the
// inode (no rollback); Unlink reclaims them.
func (fsys *Filesystem) Write(name string, offset uint64, data []byte) (uint64, error) {
	ip, _, err := fsys.lookup(name)
	if err != nil {
		return 0, err
	}
	count := uint64(len(data))
	if util.SumOverflows(offset, count) || offset+count > common.MaxFileSize() {
		return 0, fmt.Errorf("write %q off %d cnt %d: %w",
			name, offset, count, common.ErrFileTooLarge)
	}
	util.DPrintf(2, "Write %q off %d cnt %d\n", name, offset, count)

	var cnt uint64
	off := offset
	for boff := off / disk.BlockSize; cnt < count; boff++ {
		blkno, fresh, err := ip.BmapAlloc(fsys.dv, fsys.balloc, boff)
		if err != nil {
			return cnt, fmt.Errorf("write %q: %w", name, err)
		}
		byteoff := off % disk.BlockSize
		nbytes := util.Min(disk.BlockSize-byteoff, count-cnt)

		var blk disk.Block
		if byteoff == 0 && nbytes == disk.BlockSize {
			// whole-block overwrite, no read needed
			blk = disk.Block(data[cnt : cnt+nbytes])
		} else if fresh {
			// a just-claimed block may hold a deleted file's
			// bytes; the untouched remainder must read as zero
			blk = make(disk.Block, disk.BlockSize)
			copy(blk[byteoff:], data[cnt:cnt+nbytes])
		} else {
			blk, err = fsys.dv.ReadBlock(blkno)
			if err != nil {
				return cnt, fmt.Errorf("write %q: %w", name, err)
			}
			copy(blk[byteoff:], data[cnt:cnt+nbytes])
		}
		if err := fsys.dv.WriteBlock(blkno, blk); err != nil {
			return cnt, fmt.Errorf("write %q: %w", name, err)
		}
		cnt += nbytes
		off += nbytes
	}

	if offset+cnt > ip.Size {
		ip.Size = offset + cnt
	}
	ip.Mtime = now()
	if err := fsys.Flush(); err != nil {
		return cnt, err
	}
	return cnt, nil
}

// Unlink removes name and, once the link count drops to zero, releases
// every block the inode references before freeing the inode slot and
// clearing the directory entry.
func (fsys *Filesystem) Unlink(name string) error {
	util.DPrintf(1, "Unlink %q\n", name)
	if dir.IllegalName(name) {
		return fmt.Errorf("%q: %w", name, common.ErrNotFound)
	}
	ip, inum, err := fsys.lookup(name)
	if err != nil {
		return err
	}
	ip.Nlink--
	if ip.Nlink == 0 {
		if err := ip.Shrink(fsys.dv, fsys.balloc); err != nil {
			return fmt.Errorf("unlink %q: %w", name, err)
		}
		if err := fsys.ialloc.FreeNum(uint64(inum - 1)); err != nil {
			return fmt.Errorf("unlink %q: %w", name, err)
		}
		ip.Clear()
	}
	fsys.dirtbl.Remove(name)
	return fsys.Flush()
}

// Rename relabels from as to. A destination that already exists is an
// error; callers that want replace semantics unlink it first.
func (fsys *Filesystem) Rename(from, to string) error {
	util.DPrintf(1, "Rename %q -> %q\n", from, to)
	if dir.IllegalName(from) {
		return fmt.Errorf("%q: %w", from, common.ErrNotFound)
	}
	if dir.IllegalName(to) {
		return fmt.Errorf("%q: %w", to, common.ErrExists)
	}
	if _, _, err := fsys.lookup(from); err != nil {
		return err
	}
	if _, ok := fsys.dirtbl.Lookup(to); ok {
		return fmt.Errorf("%q: %w", to, common.ErrExists)
	}
	if err := fsys.dirtbl.Rename(from, to); err != nil {
		return fmt.Errorf("rename %q: %w", from, err)
	}
	return fsys.Flush()
}

// SetTimes overwrites both timestamps.
func (fsys *Filesystem) SetTimes(name string, ctime uint64, mtime uint64) error {
	ip, _, err := fsys.lookup(name)
	if err != nil {
		return err
	}
	ip.Ctime = ctime
	ip.Mtime = mtime
	return fsys.Flush()
}

// Access reports whether name resolves. Permission bits are tracked
// but not enforced here; enforcement belongs to the host layer.
func (fsys *Filesystem) Access(name string, mask uint32) error {
	if name == "/" || dir.IllegalName(name) {
		return nil
	}
	_, _, err := fsys.lookup(name)
	return err
}

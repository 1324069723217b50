package main

import (
	"context"
	"errors"
	"io"
	"sync"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/bfs-dev/go-bfsd/common"
	bfs "github.com/bfs-dev/go-bfsd/fs"
	"github.com/bfs-dev/go-bfsd/stats"
)

const (
	opGetattr = iota
	opReaddir
	opCreate
	opOpen
	opRead
	opWrite
	opRelease
	opUnlink
	opRename
	opSetTimes
	opAccess
	numOps
)

var opNames = []string{
	"GETATTR",
	"READDIR",
	"CREATE",
	"OPEN",
	"READ",
	"WRITE",
	"RELEASE",
	"UNLINK",
	"RENAME",
	"SETTIMES",
	"ACCESS",
}

// server pairs the mounted engine with its op counters. FUSE delivers
// requests on many goroutines but the engine contract is strictly
// serialized operations, so every handler funnels through one lock.
type server struct {
	mu    sync.Mutex
	fsys  *bfs.Filesystem
	stats [numOps]stats.Op
}

func (s *server) record(op int, start time.Time) {
	s.stats[op].Record(start)
}

func (s *server) writeOpStats(w io.Writer) {
	stats.WriteTable(opNames, s.stats[:], w)
}

func errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	switch {
	case errors.Is(err, common.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, common.ErrExists):
		return syscall.EEXIST
	case errors.Is(err, common.ErrNoSpace):
		return syscall.ENOSPC
	case errors.Is(err, common.ErrFileTooLarge):
		return syscall.EFBIG
	case errors.Is(err, common.ErrNameTooLong):
		return syscall.ENAMETOOLONG
	default:
		return syscall.EIO
	}
}

func fillAttr(a bfs.Attr, out *fuse.Attr) {
	if a.IsDir {
		out.Mode = syscall.S_IFDIR | a.Mode
	} else {
		out.Mode = syscall.S_IFREG | a.Mode
	}
	out.Nlink = a.Nlink
	out.Size = a.Size
	out.Atime = a.Ctime
	out.Mtime = a.Mtime
	out.Ctime = a.Mtime
}

// rootNode is the single directory of the flat namespace.
type rootNode struct {
	gofuse.Inode
	srv *server
}

var _ gofuse.InodeEmbedder = (*rootNode)(nil)
var _ gofuse.NodeGetattrer = (*rootNode)(nil)
var _ gofuse.NodeLookuper = (*rootNode)(nil)
var _ gofuse.NodeReaddirer = (*rootNode)(nil)
var _ gofuse.NodeCreater = (*rootNode)(nil)
var _ gofuse.NodeUnlinker = (*rootNode)(nil)
var _ gofuse.NodeRenamer = (*rootNode)(nil)
var _ gofuse.NodeAccesser = (*rootNode)(nil)
var _ gofuse.NodeStatfser = (*rootNode)(nil)

func (r *rootNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	fillAttr(bfs.RootAttr(), &out.Attr)
	return 0
}

func (r *rootNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	s := r.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.fsys.GetAttr(name)
	if err != nil {
		return nil, errno(err)
	}
	fillAttr(a, &out.Attr)
	child := r.NewInode(ctx, &fileNode{srv: s, name: name},
		gofuse.StableAttr{Mode: syscall.S_IFREG})
	return child, 0
}

func (r *rootNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	s := r.srv
	start := time.Now()
	defer s.record(opReaddir, start)
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []fuse.DirEntry
	for _, e := range s.fsys.ReadDir() {
		mode := uint32(syscall.S_IFREG)
		if e.IsDir {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{
			Name: e.Name,
			Ino:  uint64(e.Inum),
			Mode: mode,
		})
	}
	return gofuse.NewListDirStream(entries), 0
}

func (r *rootNode) Create(ctx context.Context, name string, flags uint32, mode uint32,
	out *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	s := r.srv
	start := time.Now()
	defer s.record(opCreate, start)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fsys.Create(name, mode&0777); err != nil {
		return nil, nil, 0, errno(err)
	}
	fh, err := s.fsys.Open(name)
	if err != nil {
		return nil, nil, 0, errno(err)
	}
	a, err := s.fsys.GetAttr(name)
	if err != nil {
		return nil, nil, 0, errno(err)
	}
	fillAttr(a, &out.Attr)
	child := r.NewInode(ctx, &fileNode{srv: s, name: name},
		gofuse.StableAttr{Mode: syscall.S_IFREG})
	return child, &fileHandle{srv: s, fh: fh}, fuse.FOPEN_DIRECT_IO, 0
}

func (r *rootNode) Unlink(ctx context.Context, name string) syscall.Errno {
	s := r.srv
	start := time.Now()
	defer s.record(opUnlink, start)
	s.mu.Lock()
	defer s.mu.Unlock()
	return errno(s.fsys.Unlink(name))
}

func (r *rootNode) Rename(ctx context.Context, name string, newParent gofuse.InodeEmbedder,
	newName string, flags uint32) syscall.Errno {
	s := r.srv
	start := time.Now()
	defer s.record(opRename, start)
	s.mu.Lock()
	defer s.mu.Unlock()
	return errno(s.fsys.Rename(name, newName))
}

func (r *rootNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	s := r.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	out.Bsize = uint32(s.fsys.Super.BlockSize)
	out.Blocks = s.fsys.Super.TotalBlocks
	out.Bfree = s.fsys.NumFreeBlocks()
	out.Bavail = out.Bfree
	out.Files = common.MAXFILES
	out.Ffree = s.fsys.NumFreeInodes()
	out.NameLen = uint32(common.MAXNAMELEN)
	return 0
}

func (r *rootNode) Access(ctx context.Context, mask uint32) syscall.Errno {
	s := r.srv
	start := time.Now()
	defer s.record(opAccess, start)
	s.mu.Lock()
	defer s.mu.Unlock()
	return errno(s.fsys.Access("/", mask))
}

// fileNode is one name in the flat namespace. The engine is keyed by
// path, not handle, so the node carries only the name.
type fileNode struct {
	gofuse.Inode
	srv  *server
	name string
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeSetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)
var _ gofuse.NodeReader = (*fileNode)(nil)
var _ gofuse.NodeWriter = (*fileNode)(nil)
var _ gofuse.NodeFsyncer = (*fileNode)(nil)
var _ gofuse.NodeAccesser = (*fileNode)(nil)

func (n *fileNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	s := n.srv
	start := time.Now()
	defer s.record(opGetattr, start)
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.fsys.GetAttr(n.name)
	if err != nil {
		return errno(err)
	}
	fillAttr(a, &out.Attr)
	return 0
}

func (n *fileNode) Setattr(ctx context.Context, f gofuse.FileHandle, in *fuse.SetAttrIn,
	out *fuse.AttrOut) syscall.Errno {
	s := n.srv
	start := time.Now()
	defer s.record(opSetTimes, start)
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.fsys.GetAttr(n.name)
	if err != nil {
		return errno(err)
	}
	if sz, ok := in.GetSize(); ok && sz != a.Size {
		// no truncate; files shrink only via unlink and recreate
		return syscall.EOPNOTSUPP
	}
	ctime := a.Ctime
	mtime := a.Mtime
	if t, ok := in.GetATime(); ok {
		ctime = uint64(t.Unix())
	}
	if t, ok := in.GetMTime(); ok {
		mtime = uint64(t.Unix())
	}
	if ctime != a.Ctime || mtime != a.Mtime {
		if err := s.fsys.SetTimes(n.name, ctime, mtime); err != nil {
			return errno(err)
		}
	}
	a, err = s.fsys.GetAttr(n.name)
	if err != nil {
		return errno(err)
	}
	fillAttr(a, &out.Attr)
	return 0
}

func (n *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	s := n.srv
	start := time.Now()
	defer s.record(opOpen, start)
	s.mu.Lock()
	defer s.mu.Unlock()
	fh, err := s.fsys.Open(n.name)
	if err != nil {
		return nil, 0, errno(err)
	}
	return &fileHandle{srv: s, fh: fh}, fuse.FOPEN_DIRECT_IO, 0
}

func (n *fileNode) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	s := n.srv
	start := time.Now()
	defer s.record(opRead, start)
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.fsys.Read(n.name, uint64(off), uint64(len(dest)))
	if err != nil {
		return nil, errno(err)
	}
	return fuse.ReadResultData(data), 0
}

func (n *fileNode) Write(ctx context.Context, f gofuse.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	s := n.srv
	start := time.Now()
	defer s.record(opWrite, start)
	s.mu.Lock()
	defer s.mu.Unlock()
	cnt, err := s.fsys.Write(n.name, uint64(off), data)
	if err != nil {
		return uint32(cnt), errno(err)
	}
	return uint32(cnt), 0
}

func (n *fileNode) Fsync(ctx context.Context, f gofuse.FileHandle, flags uint32) syscall.Errno {
	s := n.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	return errno(s.fsys.Flush())
}

func (n *fileNode) Access(ctx context.Context, mask uint32) syscall.Errno {
	s := n.srv
	start := time.Now()
	defer s.record(opAccess, start)
	s.mu.Lock()
	defer s.mu.Unlock()
	return errno(s.fsys.Access(n.name, mask))
}

// fileHandle records the engine-side open handle so Release can
// unregister it.
type fileHandle struct {
	srv *server
	fh  uint64
}

var _ gofuse.FileReleaser = (*fileHandle)(nil)

func (h *fileHandle) Release(ctx context.Context) syscall.Errno {
	s := h.srv
	start := time.Now()
	defer s.record(opRelease, start)
	s.mu.Lock()
	defer s.mu.Unlock()
	return errno(s.fsys.Release(h.fh))
}

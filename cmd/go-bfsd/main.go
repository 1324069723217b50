// go-bfsd serves a formatted disk image through FUSE. The dispatch
// layer here only translates kernel calls and errnos; all filesystem
// semantics live in the engine.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/tchajed/goose/machine/disk"

	bfs "github.com/bfs-dev/go-bfsd/fs"
	"github.com/mit-pdos/go-journal/util"
)

func main() {
	var diskfile string
	flag.StringVar(&diskfile, "disk", "disk.img", "disk image (formatted with bfs-mkfs)")

	var mnt string
	flag.StringVar(&mnt, "mnt", "/mnt/bfs", "mountpoint")

	var dumpStats bool
	flag.BoolVar(&dumpStats, "stats", false, "dump op stats to stderr at exit")

	var fuseDebug bool
	flag.BoolVar(&fuseDebug, "fuse-debug", false, "log the FUSE protocol traffic")

	flag.Uint64Var(&util.Debug, "debug", 0, "debug level (higher is more verbose)")
	flag.Parse()

	fi, err := os.Stat(diskfile)
	if err != nil {
		log.Fatalf("go-bfsd: %v", err)
	}
	if fi.Size() == 0 || fi.Size()%int64(disk.BlockSize) != 0 {
		log.Fatalf("go-bfsd: %s is not a block image (size %d)", diskfile, fi.Size())
	}
	d, err := disk.NewFileDisk(diskfile, uint64(fi.Size())/disk.BlockSize)
	if err != nil {
		log.Fatalf("go-bfsd: open disk: %v", err)
	}

	fsys, err := bfs.Mount(d)
	if err != nil {
		log.Fatalf("go-bfsd: %v", err)
	}

	srv := &server{fsys: fsys}
	fuseSrv, err := gofuse.Mount(mnt, &rootNode{srv: srv}, &gofuse.Options{
		MountOptions: fuse.MountOptions{
			FsName: diskfile,
			Name:   "bfs",
			Debug:  fuseDebug,
		},
	})
	if err != nil {
		log.Fatalf("go-bfsd: mount %s: %v", mnt, err)
	}
	fmt.Printf("go-bfsd: serving %s at %s\n", diskfile, mnt)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		if err := fuseSrv.Unmount(); err != nil {
			log.Printf("go-bfsd: unmount: %v", err)
		}
	}()

	fuseSrv.Wait()
	if err := fsys.Unmount(); err != nil {
		log.Fatalf("go-bfsd: %v", err)
	}
	if dumpStats {
		srv.writeOpStats(os.Stderr)
	}
}

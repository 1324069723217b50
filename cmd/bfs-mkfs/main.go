// bfs-mkfs writes a fresh, empty filesystem image: superblock, bitmaps
// covering only the metadata region, root markers, and a zeroed data
// region.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/tchajed/goose/machine/disk"

	bfs "github.com/bfs-dev/go-bfsd/fs"
	"github.com/mit-pdos/go-journal/util"
)

func main() {
	var diskfile string
	flag.StringVar(&diskfile, "disk", "disk.img", "disk image to create")

	var nblocks uint64
	flag.Uint64Var(&nblocks, "size", 4096, "image size in 4KB blocks")

	flag.Uint64Var(&util.Debug, "debug", 0, "debug level (higher is more verbose)")
	flag.Parse()

	d, err := disk.NewFileDisk(diskfile, nblocks)
	if err != nil {
		log.Fatalf("bfs-mkfs: create %s: %v", diskfile, err)
	}
	if err := bfs.Mkfs(d); err != nil {
		log.Fatalf("bfs-mkfs: %v", err)
	}
	d.Close()
	fmt.Printf("bfs-mkfs: %s formatted with %d blocks\n", diskfile, nblocks)
}

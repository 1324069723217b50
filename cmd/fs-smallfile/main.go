// fs-smallfile measures small-file throughput against a mounted
// filesystem: each iteration creates a file, writes it, syncs, and
// unlinks it. The target namespace is flat, so clients are kept apart
// by name prefix rather than by subdirectory.
package main

import (
	"flag"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

func smallfile(dirFd int, name string, data []byte) {
	f, err := unix.Openat(dirFd, name, unix.O_CREAT|unix.O_RDWR, 0777)
	if err != nil {
		panic(err)
	}
	_, err = unix.Write(f, data)
	if err != nil {
		panic(err)
	}
	unix.Fsync(f)
	unix.Close(f)
	err = unix.Unlinkat(dirFd, name, 0)
	if err != nil {
		panic(err)
	}
}

func mkdata(sz uint64) []byte {
	data := make([]byte, sz)
	for i := range data {
		data[i] = byte(i % 128)
	}
	return data
}

func client(id int, duration time.Duration, rootDirFd int) int {
	data := mkdata(100)
	prefix := "c" + strconv.Itoa(id) + "_x"
	start := time.Now()
	i := 0
	for {
		smallfile(rootDirFd, prefix+strconv.Itoa(i), data)
		i++
		if time.Since(start) >= duration {
			return i
		}
	}
}

func run(dir string, duration time.Duration, nt int) (time.Duration, int) {
	rootDirFd, err := unix.Open(dir, unix.O_DIRECTORY, 0)
	if err != nil {
		panic(fmt.Errorf("could not open root directory fd: %v", err))
	}
	defer unix.Close(rootDirFd)

	start := time.Now()
	count := make(chan int)
	for i := 0; i < nt; i++ {
		i := i
		go func() {
			count <- client(i, duration, rootDirFd)
		}()
	}
	iters := 0
	for i := 0; i < nt; i++ {
		iters += <-count
	}
	return time.Since(start), iters
}

func main() {
	var dir string
	flag.StringVar(&dir, "dir", "/mnt/bfs", "mounted root directory to run in")

	var duration time.Duration
	flag.DurationVar(&duration, "benchtime", 10*time.Second, "time to run each iteration for")

	var nthread int
	flag.IntVar(&nthread, "threads", 1, "number of concurrent clients")

	flag.Parse()

	// warmup
	if duration > 500*time.Millisecond {
		run(dir, 500*time.Millisecond, nthread)
	}

	elapsed, count := run(dir, duration, nthread)
	fmt.Printf("fs-smallfile: %v %0.4f file/sec\n", nthread,
		float64(count)/elapsed.Seconds())
}

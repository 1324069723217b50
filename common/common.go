// Package common holds the constants and types shared by every layer
// of the engine: block and inode numbering, the fixed on-disk record
// sizes, and the error taxonomy.
package common

import (
	"errors"

	"github.com/tchajed/goose/machine/disk"
)

// Bnum is an absolute block number in the image.
type Bnum uint64

// Inum is a 1-based inode number; 0 marks a free directory slot.
type Inum uint64

const (
	NULLBNUM Bnum = 0
	NULLINUM Inum = 0

	// ROOTINUM is reserved for the root directory markers ("." and
	// "..") written by the formatter. No inode record backs it; root
	// attributes are synthesized.
	ROOTINUM Inum = 1
)

const (
	// NBITBLOCK is the number of allocation bits per bitmap block.
	NBITBLOCK uint64 = disk.BlockSize * 8

	// MAXFILES bounds inode slots and directory entries alike.
	MAXFILES uint64 = 128

	// NDIRECT direct pointers per inode, then one single-indirect
	// block of NINDIRECT 4-byte pointer slots.
	NDIRECT   uint64 = 8
	NINDIRECT uint64 = disk.BlockSize / 4

	// INODESZ is the on-disk inode record size; INODEBLK records fit
	// in one block.
	INODESZ  uint64 = 128
	INODEBLK uint64 = disk.BlockSize / INODESZ

	// DIRENTSZ is the on-disk directory entry size: a NUL-padded
	// name field plus the inode number.
	DIRENTSZ   uint64 = 64
	MAXNAMELEN uint64 = 48

	MAXOPENFILES uint64 = 128
)

// MaxFileSize is the hard bound on file size: everything addressable
// through the direct pointers plus one indirect block.
func MaxFileSize() uint64 {
	return (NDIRECT + NINDIRECT) * disk.BlockSize
}

// The error taxonomy surfaced by every operation handler. Handlers
// wrap these with context; callers match with errors.Is.
var (
	ErrNotFound     = errors.New("no such file")
	ErrExists       = errors.New("file already exists")
	ErrNoSpace      = errors.New("out of space")
	ErrFileTooLarge = errors.New("file too large")
	ErrIO           = errors.New("i/o failure")
	ErrInvalidState = errors.New("invalid metadata state")
	ErrNameTooLong  = errors.New("name too long")
)

// Package dir implements the flat root directory: a fixed array of
// (name, inode number) entries with linear-scan lookup. The scan order
// is part of the contract; entries land in the first free slot.
package dir

import (
	"bytes"

	"github.com/tchajed/marshal"

	"github.com/bfs-dev/go-bfsd/common"
	"github.com/mit-pdos/go-journal/util"
)

// Entry is one directory slot. Inum == NULLINUM marks the slot free.
type Entry struct {
	Name string
	Inum common.Inum
}

type Table struct {
	entries []Entry // MAXFILES slots
}

// IllegalName reports names reserved for the root markers.
func IllegalName(name string) bool {
	return name == "." || name == ".."
}

func MkTable() *Table {
	return &Table{entries: make([]Entry, common.MAXFILES)}
}

func encodeEnt(e *Entry) []byte {
	enc := marshal.NewEnc(common.DIRENTSZ)
	name := make([]byte, common.MAXNAMELEN)
	copy(name, e.Name)
	enc.PutBytes(name)
	enc.PutInt(uint64(e.Inum))
	return enc.Finish()
}

func decodeEnt(d []byte) Entry {
	dec := marshal.NewDec(d)
	name := dec.GetBytes(common.MAXNAMELEN)
	inum := common.Inum(dec.GetInt())
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return Entry{Name: string(name), Inum: inum}
}

// Decode rebuilds the table from the packed directory region.
func Decode(buf []byte) *Table {
	t := MkTable()
	for i := range t.entries {
		t.entries[i] = decodeEnt(buf[uint64(i)*common.DIRENTSZ:])
	}
	return t
}

func (t *Table) Encode() []byte {
	buf := make([]byte, 0, common.MAXFILES*common.DIRENTSZ)
	for i := range t.entries {
		buf = append(buf, encodeEnt(&t.entries[i])...)
	}
	return buf
}

// Lookup scans active entries for an exact match.
func (t *Table) Lookup(name string) (common.Inum, bool) {
	for i := range t.entries {
		if t.entries[i].Inum == common.NULLINUM {
			continue
		}
		if t.entries[i].Name == name {
			return t.entries[i].Inum, true
		}
	}
	return common.NULLINUM, false
}

// Add claims the first free slot. Duplicate-name checks are the
// caller's job; name length is enforced here.
func (t *Table) Add(name string, inum common.Inum) error {
	if uint64(len(name)) > common.MAXNAMELEN {
		return common.ErrNameTooLong
	}
	if inum == common.NULLINUM {
		panic("dir.Add: null inum")
	}
	for i := range t.entries {
		if t.entries[i].Inum != common.NULLINUM {
			continue
		}
		t.entries[i] = Entry{Name: name, Inum: inum}
		util.DPrintf(5, "dir.Add: %q -> # %d slot %d\n", name, inum, i)
		return nil
	}
	return common.ErrNoSpace
}

// Remove clears the slot. It does not release the inode; that is the
// caller's responsibility after the link count says so.
func (t *Table) Remove(name string) bool {
	for i := range t.entries {
		if t.entries[i].Inum == common.NULLINUM || t.entries[i].Name != name {
			continue
		}
		t.entries[i] = Entry{}
		return true
	}
	return false
}

// Rename relabels from's slot in place. Destination policy (what to do
// when to exists) belongs to the caller.
func (t *Table) Rename(from, to string) error {
	if uint64(len(to)) > common.MAXNAMELEN {
		return common.ErrNameTooLong
	}
	for i := range t.entries {
		if t.entries[i].Inum == common.NULLINUM || t.entries[i].Name != from {
			continue
		}
		t.entries[i].Name = to
		return nil
	}
	return common.ErrNotFound
}

// Entries returns the active entries in slot order.
func (t *Table) Entries() []Entry {
	var ents []Entry
	for i := range t.entries {
		if t.entries[i].Inum == common.NULLINUM {
			continue
		}
		ents = append(ents, t.entries[i])
	}
	return ents
}

// NumFree counts free slots.
func (t *Table) NumFree() uint64 {
	var free uint64
	for i := range t.entries {
		if t.entries[i].Inum == common.NULLINUM {
			free++
		}
	}
	return free
}

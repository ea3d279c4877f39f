package gnordofs

import (
	"bytes"
	"encoding/binary"

	"github.com/holzplatten/gnordofs/internal/trace"
)

// persistentInode is the exact on-disk layout of an inode record.
// DirectBlocks and SingleIndirectBlocks hold either BlkUnassigned or a
// valid absolute block number.
type persistentInode struct {
	Type Itype

	Size         uint64
	LinkCounter  uint32

	Atime int64
	Ctime int64
	Mtime int64

	Owner uint32
	Group uint32
	Perms uint32

	DirectBlocks         [NDirectBlocks]int64
	SingleIndirectBlocks int64
}

var persistentInodeSize = binary.Size(persistentInode{})

// Inode is the in-memory view of a persistentInode, carrying transient
// fields: the inode number (recoverable from its on-disk location,
// carried for convenience) and a per-inode cursor used by the
// read/write/seek path as a stand-in for a per-handle offset.
type Inode struct {
	persistentInode

	n      int64
	offset int64
}

// Num returns the inode number.
func (ino *Inode) Num() int64 { return ino.n }

// IsDir reports whether the inode is a directory.
func (ino *Inode) IsDir() bool { return ino.Type == ItypeDir }

// IsFree reports whether the inode slot is unallocated.
func (ino *Inode) IsFree() bool { return ino.Type == ItypeFree }

// iget reads the n-th inode from the table. n must be in [0, InodeCount).
func iget(sb *Superblock, n int64) (*Inode, error) {
	if n < 0 || n >= sb.InodeCount {
		return nil, ErrInvalidArgument
	}

	buf := make([]byte, persistentInodeSize)
	offset := sb.InodeZoneBase + n*int64(persistentInodeSize)
	if err := sb.dev.preadExact(offset, buf); err != nil {
		return nil, err
	}

	var pi persistentInode
	if err := binary.Read(bytes.NewReader(buf), binary.NativeEndian, &pi); err != nil {
		return nil, err
	}

	trace.Log.Tracef("iget(%d): type=%s size=%d", n, pi.Type, pi.Size)

	return &Inode{persistentInode: pi, n: n}, nil
}

// iput writes the persistent portion of an inode back to its slot. The
// transient n and offset fields are never persisted.
func iput(sb *Superblock, ino *Inode) error {
	buf := new(bytes.Buffer)
	buf.Grow(persistentInodeSize)
	if err := binary.Write(buf, binary.NativeEndian, &ino.persistentInode); err != nil {
		return err
	}

	offset := sb.InodeZoneBase + ino.n*int64(persistentInodeSize)
	if err := sb.dev.pwriteExact(offset, buf.Bytes()); err != nil {
		return err
	}

	trace.Log.Tracef("iput(%d): type=%s size=%d link_counter=%d", ino.n, ino.Type, ino.Size, ino.LinkCounter)
	return nil
}

// ialloc allocates a free inode from the cached free-inode window,
// refilling it by scanning the inode table when exhausted.
func ialloc(sb *Superblock) (*Inode, error) {
	if sb.FreeInodes == 0 {
		return nil, ErrOutOfInodes
	}

	if sb.FreeInodeIndex == 0 {
		if err := refillFreeInodeList(sb); err != nil {
			return nil, err
		}
		if sb.FreeInodeIndex == 0 {
			// Scan found nothing despite free_inodes > 0: the table and
			// the counter have drifted apart.
			return nil, ErrOutOfInodes
		}
	}

	sb.FreeInodeIndex--
	n := sb.FreeInodeList[sb.FreeInodeIndex]

	ino, err := iget(sb, n)
	if err != nil {
		return nil, err
	}

	sb.FreeInodes--

	for i := range ino.DirectBlocks {
		ino.DirectBlocks[i] = BlkUnassigned
	}
	ino.SingleIndirectBlocks = BlkUnassigned
	ino.Size = 0
	ino.LinkCounter = 0

	trace.Log.Debugf("ialloc: n=%d free_inodes=%d free_inode_index=%d", n, sb.FreeInodes, sb.FreeInodeIndex)

	return ino, nil
}

// refillFreeInodeList scans the inode table starting from the
// last-allocated entry (FreeInodeList[0]) and wrapping at InodeCount,
// collecting up to FreeInodeListSize free slots.
func refillFreeInodeList(sb *Superblock) error {
	start := sb.FreeInodeList[0]

	var found []int64

	for i := start; i < sb.InodeCount && int64(len(found)) < FreeInodeListSize; i++ {
		ino, err := iget(sb, i)
		if err != nil {
			return err
		}
		if ino.Type == ItypeFree {
			found = append(found, i)
		}
	}

	for i := int64(0); i < start && int64(len(found)) < FreeInodeListSize; i++ {
		ino, err := iget(sb, i)
		if err != nil {
			return err
		}
		if ino.Type == ItypeFree {
			found = append(found, i)
		}
	}

	sb.FreeInodeIndex = int32(len(found))
	// Store in reverse order, so free_inode_list[0] is the last
	// candidate the scan found and the next pop (index-- then read)
	// returns the first one found.
	for i, j := 0, len(found)-1; j >= 0; i, j = i+1, j-1 {
		sb.FreeInodeList[i] = found[j]
	}

	trace.Log.Debugf("ialloc: refilled free inode list with %d entries starting at %d", len(found), start)

	return nil
}

// ifree releases every block mapped by the inode (including the
// indirect block itself), pushes the inode number back onto the
// free-inode window, marks the slot free, and writes it back.
func ifree(sb *Superblock, ino *Inode) error {
	for b := 0; b < BlocksPerInode; b++ {
		abs, err := inodeGetblk(sb, ino, b)
		if err != nil {
			return err
		}
		if unassigned(abs) {
			continue
		}
		if err := freeblk(sb, abs); err != nil {
			return err
		}
		if err := inodeFreeblk(sb, ino, b); err != nil {
			return err
		}
	}

	if !unassigned(ino.SingleIndirectBlocks) {
		if err := freeblk(sb, ino.SingleIndirectBlocks); err != nil {
			return err
		}
		ino.SingleIndirectBlocks = BlkUnassigned
	}

	if sb.FreeInodeIndex == FreeInodeListSize {
		// Window full: bias toward low numbers.
		if sb.FreeInodeList[0] > ino.n {
			sb.FreeInodeList[0] = ino.n
		}
	} else {
		sb.FreeInodeList[sb.FreeInodeIndex] = ino.n
		sb.FreeInodeIndex++
	}

	ino.Type = ItypeFree
	ino.Size = 0
	ino.LinkCounter = 0
	if err := iput(sb, ino); err != nil {
		return err
	}

	sb.FreeInodes++

	trace.Log.Debugf("ifree: n=%d free_inodes=%d", ino.n, sb.FreeInodes)

	return nil
}

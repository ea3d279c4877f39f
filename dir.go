package gnordofs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/holzplatten/gnordofs/internal/trace"
)

// dirEntryFree marks a directory record slot vacated by
// delDirEntryByName as not currently naming any inode. It is distinct
// from every valid inode number, which are always >= 0.
const dirEntryFree int32 = -1

// persistentDirEntry is the exact on-disk layout of one directory
// record: a 4-byte inode number and a fixed-width name field. Names
// shorter than dirNameSize are NUL-padded; a name exactly dirNameSize
// long has no trailing NUL.
type persistentDirEntry struct {
	Ino  int32
	Name [dirNameSize]byte
}

var persistentDirEntrySize = binary.Size(persistentDirEntry{})

func init() {
	if persistentDirEntrySize != DirEntrySize {
		panic("gnordofs: persistentDirEntry layout does not match DirEntrySize")
	}
}

// DirEntry is a resolved directory record: a name and the inode number
// it names.
type DirEntry struct {
	Name string
	Ino  int64
}

func encodeDirEntry(name string, ino int64) (persistentDirEntry, error) {
	if len(name) == 0 || len(name) > dirNameSize {
		return persistentDirEntry{}, fmt.Errorf("%w: name length out of range", ErrInvalidArgument)
	}
	var e persistentDirEntry
	e.Ino = int32(ino)
	copy(e.Name[:], name)
	return e, nil
}

func decodeDirEntry(raw []byte) (persistentDirEntry, error) {
	var e persistentDirEntry
	if err := binary.Read(bytes.NewReader(raw), binary.NativeEndian, &e); err != nil {
		return persistentDirEntry{}, err
	}
	return e, nil
}

func (e persistentDirEntry) name() string {
	i := bytes.IndexByte(e.Name[:], 0)
	if i < 0 {
		return string(e.Name[:])
	}
	return string(e.Name[:i])
}

func (e persistentDirEntry) free() bool {
	return e.Ino == dirEntryFree
}

// A directory's body is a flat run of DirEntrySize records, addressed by
// physical slot. Tombstoned slots may appear anywhere in the run but do
// not count toward Size: Size is always DirEntrySize times the number of
// live records, so every scan below walks physical slots while counting
// live records against it.

// readDirEntry reads the record at physical slot index from dirIno.
func readDirEntry(sb *Superblock, dirIno *Inode, index int64) (persistentDirEntry, error) {
	if _, err := lseek(dirIno, index*DirEntrySize, SeekSet); err != nil {
		return persistentDirEntry{}, err
	}
	buf := make([]byte, DirEntrySize)
	n, err := doRead(sb, dirIno, buf)
	if err != nil {
		return persistentDirEntry{}, err
	}
	if n != DirEntrySize {
		return persistentDirEntry{}, fmt.Errorf("%w: short directory record", ErrIO)
	}
	return decodeDirEntry(buf)
}

func writeDirEntrySlot(sb *Superblock, dirIno *Inode, index int64, e persistentDirEntry) error {
	buf := new(bytes.Buffer)
	buf.Grow(DirEntrySize)
	if err := binary.Write(buf, binary.NativeEndian, &e); err != nil {
		return err
	}
	if _, err := lseek(dirIno, index*DirEntrySize, SeekSet); err != nil {
		return err
	}
	n, err := doWrite(sb, dirIno, buf.Bytes())
	if err != nil {
		return err
	}
	if n != DirEntrySize {
		return fmt.Errorf("%w: short directory record write", ErrIO)
	}
	return nil
}

// dirEntryCount returns the number of live records in dirIno.
func dirEntryCount(dirIno *Inode) int64 {
	return int64(dirIno.Size) / DirEntrySize
}

// getDirEntry returns the index-th live record of dirIno (0-indexed,
// tombstones skipped), or ErrNotFound past the last one.
func getDirEntry(sb *Superblock, dirIno *Inode, index int64) (DirEntry, error) {
	if !dirIno.IsDir() {
		return DirEntry{}, ErrNotDirectory
	}
	if index < 0 {
		return DirEntry{}, ErrNotFound
	}

	live := int64(0)
	for slot := int64(0); live*DirEntrySize < int64(dirIno.Size); slot++ {
		e, err := readDirEntry(sb, dirIno, slot)
		if err != nil {
			return DirEntry{}, err
		}
		if e.free() {
			continue
		}
		if live == index {
			return DirEntry{Name: e.name(), Ino: int64(e.Ino)}, nil
		}
		live++
	}
	return DirEntry{}, ErrNotFound
}

// getDirEntryByName linearly scans dirIno's live records for name,
// returning the resolved inode number, or ErrNotFound.
func getDirEntryByName(sb *Superblock, dirIno *Inode, name string) (int64, error) {
	if !dirIno.IsDir() {
		return 0, ErrNotDirectory
	}

	live := int64(0)
	for slot := int64(0); live*DirEntrySize < int64(dirIno.Size); slot++ {
		e, err := readDirEntry(sb, dirIno, slot)
		if err != nil {
			return 0, err
		}
		if e.free() {
			continue
		}
		if e.name() == name {
			return int64(e.Ino), nil
		}
		live++
	}
	return 0, ErrNotFound
}

// addDirEntry records (name, ino) in dirIno, reusing the first
// tombstoned slot if one sits inside the live span, appending past the
// last record otherwise. Size always grows by one record: it counts
// exactly the live records, and the slot just written can never exceed
// the file offset the new size implies. Link-counter accounting is the
// caller's job.
func addDirEntry(sb *Superblock, dirIno *Inode, name string, ino int64) error {
	if !dirIno.IsDir() {
		return ErrNotDirectory
	}

	e, err := encodeDirEntry(name, ino)
	if err != nil {
		return err
	}

	if _, err := getDirEntryByName(sb, dirIno, name); err == nil {
		return ErrExists
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	slot := int64(0)
	for ; slot*DirEntrySize < int64(dirIno.Size); slot++ {
		existing, err := readDirEntry(sb, dirIno, slot)
		if err != nil {
			return err
		}
		if existing.free() {
			break
		}
	}

	if err := writeDirEntrySlot(sb, dirIno, slot, e); err != nil {
		return err
	}
	dirIno.Size += DirEntrySize

	trace.Log.Debugf("add_dir_entry: dir=%d name=%q ino=%d slot=%d", dirIno.n, name, ino, slot)
	return nil
}

// delDirEntryByName tombstones the record named name in dirIno and
// shrinks Size by one record. The target inode's link counter is the
// caller's job.
func delDirEntryByName(sb *Superblock, dirIno *Inode, name string) error {
	if !dirIno.IsDir() {
		return ErrNotDirectory
	}

	live := int64(0)
	for slot := int64(0); live*DirEntrySize < int64(dirIno.Size); slot++ {
		e, err := readDirEntry(sb, dirIno, slot)
		if err != nil {
			return err
		}
		if e.free() {
			continue
		}
		if e.name() == name {
			tombstone := persistentDirEntry{Ino: dirEntryFree}
			if err := writeDirEntrySlot(sb, dirIno, slot, tombstone); err != nil {
				return err
			}
			dirIno.Size -= DirEntrySize

			trace.Log.Debugf("del_dir_entry_by_name: dir=%d name=%q slot=%d", dirIno.n, name, slot)
			return nil
		}
		live++
	}
	return ErrNotFound
}

// isEmptyDir reports whether dirIno holds only its "." and ".."
// records. Size counts exactly the live records, so two of them means
// the self-entries and nothing else.
func isEmptyDir(dirIno *Inode) bool {
	return dirIno.Size <= 2*DirEntrySize
}

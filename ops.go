package gnordofs

import (
	"errors"
	"fmt"

	"github.com/holzplatten/gnordofs/internal/trace"
)

// Attr is the metadata Getattr returns, a trimmed stat(2) analogue.
type Attr struct {
	Ino   int64
	Type  Itype
	Size  uint64
	Perms uint32
	Links uint32
	Owner uint32
	Group uint32
	Atime int64
	Ctime int64
	Mtime int64
}

func attrOf(ino *Inode) Attr {
	return Attr{
		Ino:   ino.n,
		Type:  ino.Type,
		Size:  ino.Size,
		Perms: ino.Perms,
		Links: ino.LinkCounter,
		Owner: ino.Owner,
		Group: ino.Group,
		Atime: ino.Atime,
		Ctime: ino.Ctime,
		Mtime: ino.Mtime,
	}
}

// Getattr resolves path and returns its metadata.
func (fs *FS) Getattr(path string) (Attr, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ino, err := namei(fs.sb, path)
	if err != nil {
		return Attr{}, err
	}
	return attrOf(ino), nil
}

// Access reports whether caller may perform the access described by
// mask (some combination of ROK, WOK, XOK) on path.
func (fs *FS) Access(path string, caller Caller, mask uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ino, err := namei(fs.sb, path)
	if err != nil {
		return err
	}
	if !access(caller, ino, mask) {
		return ErrPermissionDenied
	}
	return nil
}

// Open checks that path resolves and that caller holds the permissions
// mask asks for. The engine keeps no open-file table, so no handle is
// created: every subsequent Read/Write re-resolves the path.
func (fs *FS) Open(path string, mask uint32, caller Caller) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ino, err := namei(fs.sb, path)
	if err != nil {
		return err
	}
	if !access(caller, ino, mask) {
		return ErrPermissionDenied
	}
	return nil
}

// Release is Open's counterpart. With no handle state to tear down it
// only confirms the path still resolves.
func (fs *FS) Release(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	_, err := namei(fs.sb, path)
	return err
}

// Chmod replaces path's permission bits.
func (fs *FS) Chmod(path string, perms uint32, caller Caller) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.checkWritable(); err != nil {
		return err
	}

	ino, err := namei(fs.sb, path)
	if err != nil {
		return err
	}
	if !canWrite(caller, ino) {
		return ErrPermissionDenied
	}

	// Permission bits change; the file-type bits encoded alongside them
	// stay.
	ino.Perms = (ino.Perms &^ 0o7777) | (perms & 0o7777)
	ino.Ctime = now().Unix()
	if err := iput(fs.sb, ino); err != nil {
		return err
	}

	trace.Log.Debugf("chmod: path=%q perms=%o", path, perms)
	return nil
}

// Chown replaces path's owner and group.
func (fs *FS) Chown(path string, owner, group uint32, caller Caller) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.checkWritable(); err != nil {
		return err
	}

	ino, err := namei(fs.sb, path)
	if err != nil {
		return err
	}
	if !canWrite(caller, ino) {
		return ErrPermissionDenied
	}

	ino.Owner = owner
	ino.Group = group
	ino.Ctime = now().Unix()
	if err := iput(fs.sb, ino); err != nil {
		return err
	}

	trace.Log.Debugf("chown: path=%q owner=%d group=%d", path, owner, group)
	return nil
}

// Mkdir creates a new, empty directory at path.
func (fs *FS) Mkdir(path string, perms uint32, caller Caller) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.checkWritable(); err != nil {
		return err
	}

	parent, name, err := nameiParent(fs.sb, path)
	if err != nil {
		return err
	}

	dir, err := ialloc(fs.sb)
	if err != nil {
		return err
	}

	t := now().Unix()
	dir.Type = ItypeDir
	dir.Perms = SIFDIR | (perms & 0o7777)
	dir.Owner = caller.Uid
	dir.Group = caller.Gid
	dir.LinkCounter = 2
	dir.Atime, dir.Ctime, dir.Mtime = t, t, t

	if err := addDirEntry(fs.sb, dir, ".", dir.n); err != nil {
		ifree(fs.sb, dir)
		return err
	}
	if err := addDirEntry(fs.sb, dir, "..", parent.n); err != nil {
		ifree(fs.sb, dir)
		return err
	}
	if err := iput(fs.sb, dir); err != nil {
		return err
	}

	if err := addDirEntry(fs.sb, parent, name, dir.n); err != nil {
		ifree(fs.sb, dir)
		return err
	}
	parent.LinkCounter++
	parent.Mtime = t
	if err := iput(fs.sb, parent); err != nil {
		return err
	}

	if err := fs.sb.writeBack(); err != nil {
		return err
	}

	trace.Log.Debugf("mkdir: path=%q ino=%d", path, dir.n)
	return nil
}

// Mknod creates a new, empty regular file at path.
func (fs *FS) Mknod(path string, perms uint32, caller Caller) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.checkWritable(); err != nil {
		return err
	}

	parent, name, err := nameiParent(fs.sb, path)
	if err != nil {
		return err
	}

	file, err := ialloc(fs.sb)
	if err != nil {
		return err
	}

	t := now().Unix()
	file.Type = ItypeFile
	file.Perms = SIFREG | (perms & 0o7777)
	file.Owner = caller.Uid
	file.Group = caller.Gid
	file.LinkCounter = 1
	file.Atime, file.Ctime, file.Mtime = t, t, t
	if err := iput(fs.sb, file); err != nil {
		return err
	}

	if err := addDirEntry(fs.sb, parent, name, file.n); err != nil {
		ifree(fs.sb, file)
		return err
	}
	parent.Mtime = t
	if err := iput(fs.sb, parent); err != nil {
		return err
	}

	if err := fs.sb.writeBack(); err != nil {
		return err
	}

	trace.Log.Debugf("mknod: path=%q ino=%d", path, file.n)
	return nil
}

// Readdir lists the non-tombstoned entries of the directory at path.
func (fs *FS) Readdir(path string) ([]DirEntry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir, err := namei(fs.sb, path)
	if err != nil {
		return nil, err
	}
	if !dir.IsDir() {
		return nil, ErrNotDirectory
	}

	count := dirEntryCount(dir)
	entries := make([]DirEntry, 0, count)
	for i := int64(0); i < count; i++ {
		e, err := getDirEntry(fs.sb, dir, i)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Read reads up to len(buf) bytes from the file at path starting at
// off, clamped at the file's recorded size. Reading into a hole stops
// early: the short count is returned without error, never zero-fill.
func (fs *FS) Read(path string, buf []byte, off int64, caller Caller) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ino, err := namei(fs.sb, path)
	if err != nil {
		return 0, err
	}
	if ino.IsDir() {
		return 0, ErrIsDirectory
	}
	if !canRead(caller, ino) {
		return 0, ErrPermissionDenied
	}
	if off < 0 {
		return 0, ErrInvalidArgument
	}

	size := int64(ino.Size)
	if off >= size {
		return 0, nil
	}
	if rem := size - off; int64(len(buf)) > rem {
		buf = buf[:rem]
	}

	if _, err := lseek(ino, off, SeekSet); err != nil {
		return 0, err
	}
	n, err := doRead(fs.sb, ino, buf)
	if err != nil {
		return n, err
	}

	ino.Atime = now().Unix()
	if err := iput(fs.sb, ino); err != nil {
		return n, err
	}
	return n, nil
}

// Write writes len(buf) bytes to the file at path starting at off,
// extending it as needed.
func (fs *FS) Write(path string, buf []byte, off int64, caller Caller) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.checkWritable(); err != nil {
		return 0, err
	}

	ino, err := namei(fs.sb, path)
	if err != nil {
		return 0, err
	}
	if ino.IsDir() {
		return 0, ErrIsDirectory
	}
	if !canWrite(caller, ino) {
		return 0, ErrPermissionDenied
	}

	if off < 0 {
		return 0, ErrInvalidArgument
	}
	if _, err := lseek(ino, off, SeekSet); err != nil {
		return 0, err
	}

	// A failed write keeps whatever landed: the size is raised to cover
	// the bytes actually written and the inode and superblock are still
	// persisted, so allocated blocks are never orphaned.
	n, err := doWrite(fs.sb, ino, buf)
	if end := uint64(off) + uint64(n); end > ino.Size {
		ino.Size = end
	}

	ino.Mtime = now().Unix()
	if iputErr := iput(fs.sb, ino); iputErr != nil && err == nil {
		err = iputErr
	}
	if sbErr := fs.sb.writeBack(); sbErr != nil && err == nil {
		err = sbErr
	}

	return n, err
}

// Truncate sets the file at path to length bytes: shrinking releases
// every block past the new end, growing just raises the recorded size
// and leaves the gap as an unreadable hole until written.
func (fs *FS) Truncate(path string, length uint64, caller Caller) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.checkWritable(); err != nil {
		return err
	}

	ino, err := namei(fs.sb, path)
	if err != nil {
		return err
	}
	if ino.IsDir() {
		return ErrIsDirectory
	}
	if !canWrite(caller, ino) {
		return ErrPermissionDenied
	}

	if err := inodeTruncate(fs.sb, ino, length); err != nil {
		return err
	}

	ino.Mtime = now().Unix()
	if err := iput(fs.sb, ino); err != nil {
		return err
	}
	return fs.sb.writeBack()
}

// Unlink removes the directory entry at path and frees its inode once
// its link count drops to zero.
func (fs *FS) Unlink(path string, caller Caller) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.checkWritable(); err != nil {
		return err
	}

	parent, name, err := nameiParent(fs.sb, path)
	if err != nil {
		return err
	}

	n, err := getDirEntryByName(fs.sb, parent, name)
	if err != nil {
		return err
	}
	ino, err := iget(fs.sb, n)
	if err != nil {
		return err
	}
	if ino.IsDir() {
		return ErrIsDirectory
	}
	if !canWrite(caller, ino) {
		return ErrPermissionDenied
	}

	if err := delDirEntryByName(fs.sb, parent, name); err != nil {
		return err
	}

	ino.LinkCounter--
	if ino.LinkCounter == 0 {
		if err := ifree(fs.sb, ino); err != nil {
			return err
		}
	} else {
		if err := iput(fs.sb, ino); err != nil {
			return err
		}
	}

	parent.Mtime = now().Unix()
	if err := iput(fs.sb, parent); err != nil {
		return err
	}

	return fs.sb.writeBack()
}

// Rmdir removes the empty directory at path.
func (fs *FS) Rmdir(path string, caller Caller) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.checkWritable(); err != nil {
		return err
	}

	if path == "/" {
		return ErrPermissionDenied
	}

	parent, name, err := nameiParent(fs.sb, path)
	if err != nil {
		return err
	}

	n, err := getDirEntryByName(fs.sb, parent, name)
	if err != nil {
		return err
	}
	dir, err := iget(fs.sb, n)
	if err != nil {
		return err
	}
	if !dir.IsDir() {
		return ErrNotDirectory
	}
	if !canWrite(caller, dir) {
		return ErrPermissionDenied
	}

	if !isEmptyDir(dir) {
		return ErrNotEmpty
	}

	if err := delDirEntryByName(fs.sb, parent, name); err != nil {
		return err
	}
	if err := ifree(fs.sb, dir); err != nil {
		return err
	}

	parent.LinkCounter--
	parent.Mtime = now().Unix()
	if err := iput(fs.sb, parent); err != nil {
		return err
	}

	return fs.sb.writeBack()
}

// Rename moves the entry at oldPath to newPath, which must not already
// exist. Renaming across directories is supported; renaming a directory
// into one of its own descendants is not checked for and will corrupt
// the tree, same as the FUSE contract leaves to the caller.
func (fs *FS) Rename(oldPath, newPath string, caller Caller) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.checkWritable(); err != nil {
		return err
	}

	oldParent, oldName, err := nameiParent(fs.sb, oldPath)
	if err != nil {
		return err
	}
	newParent, newName, err := nameiParent(fs.sb, newPath)
	if err != nil {
		return err
	}
	if newParent.n == oldParent.n {
		// One in-memory inode per on-disk directory, or the size
		// bookkeeping below splits across two stale copies.
		newParent = oldParent
	}
	if !canWrite(caller, oldParent) || !canWrite(caller, newParent) {
		return ErrPermissionDenied
	}

	n, err := getDirEntryByName(fs.sb, oldParent, oldName)
	if err != nil {
		return err
	}
	if _, err := getDirEntryByName(fs.sb, newParent, newName); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, newPath)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	if err := delDirEntryByName(fs.sb, oldParent, oldName); err != nil {
		return err
	}
	if err := addDirEntry(fs.sb, newParent, newName, n); err != nil {
		return err
	}

	if newParent.n != oldParent.n {
		moved, err := iget(fs.sb, n)
		if err != nil {
			return err
		}
		if moved.IsDir() {
			if err := delDirEntryByName(fs.sb, moved, ".."); err != nil {
				return err
			}
			if err := addDirEntry(fs.sb, moved, "..", newParent.n); err != nil {
				return err
			}
			oldParent.LinkCounter--
			newParent.LinkCounter++
		}
	}

	t := now().Unix()
	oldParent.Mtime, newParent.Mtime = t, t
	if err := iput(fs.sb, oldParent); err != nil {
		return err
	}
	if newParent.n != oldParent.n {
		if err := iput(fs.sb, newParent); err != nil {
			return err
		}
	}

	return fs.sb.writeBack()
}

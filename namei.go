package gnordofs

import (
	"strings"

	"github.com/holzplatten/gnordofs/internal/trace"
)

// RootIno is the inode number mkfs assigns the filesystem root.
const RootIno int64 = 0

// namei resolves an absolute, slash-separated path to its inode,
// walking one directory entry lookup per component starting at the
// root. "/" resolves to the root itself; a path that does not start
// with "/" (including the empty path) is rejected.
func namei(sb *Superblock, path string) (*Inode, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, ErrInvalidArgument
	}

	dir, err := iget(sb, sb.FirstInode)
	if err != nil {
		return nil, err
	}

	for _, comp := range strings.Split(path, "/") {
		if comp == "" {
			continue
		}
		if !dir.IsDir() {
			return nil, ErrNotDirectory
		}

		n, err := getDirEntryByName(sb, dir, comp)
		if err != nil {
			return nil, err
		}

		dir, err = iget(sb, n)
		if err != nil {
			return nil, err
		}
	}

	trace.Log.Tracef("namei: path=%q -> ino=%d", path, dir.n)

	return dir, nil
}

// nameiParent resolves the parent directory of path and returns it
// alongside the final path component. The parent must already exist and
// be a directory; the final component need not exist.
func nameiParent(sb *Superblock, path string) (*Inode, string, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, "", ErrInvalidArgument
	}

	dirPath := "/"
	name := path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		dirPath = path[:i]
		if dirPath == "" {
			dirPath = "/"
		}
		name = path[i+1:]
	}

	if name == "" || name == "." || name == ".." {
		return nil, "", ErrInvalidArgument
	}

	parent, err := namei(sb, dirPath)
	if err != nil {
		return nil, "", err
	}
	if !parent.IsDir() {
		return nil, "", ErrNotDirectory
	}

	return parent, name, nil
}

package gnordofs

import (
	"os"
	"sync"

	"github.com/holzplatten/gnordofs/internal/trace"
)

// FS is a mounted GnordoFS image: the superblock plus the coarse lock
// that serializes every operation against it. The on-disk layout has no
// concept of concurrent writers, so FS enforces single-writer access
// itself rather than leaving callers to corrupt the free lists.
type FS struct {
	sb *Superblock
	f  *os.File

	mu       sync.Mutex
	readOnly bool
}

// Mount opens the image file at path and validates its superblock.
func Mount(path string, opts ...Option) (*FS, error) {
	cfg := &mountConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	flags := os.O_RDWR
	if cfg.readOnly {
		flags = os.O_RDONLY
	}

	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, err
	}

	dev := newDevice(f)
	psb, err := superblockRead(dev)
	if err != nil {
		f.Close()
		return nil, err
	}

	if cfg.traceOut != nil {
		trace.Enable(cfg.traceOut, trace.Log.Level)
	}

	fs := &FS{
		sb:       &Superblock{persistentSuperblock: *psb, dev: dev},
		f:        f,
		readOnly: cfg.readOnly,
	}

	trace.Log.Debugf("mount: path=%q block_count=%d inode_count=%d volume=%s",
		path, fs.sb.BlockCount, fs.sb.InodeCount, fs.sb.VolumeID())

	return fs, nil
}

// Close flushes the superblock and releases the underlying image file.
func (fs *FS) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.readOnly {
		if err := fs.sb.writeBack(); err != nil {
			fs.f.Close()
			return err
		}
	}
	return fs.f.Close()
}

// checkWritable returns ErrPermissionDenied if the mount is read-only.
func (fs *FS) checkWritable() error {
	if fs.readOnly {
		return ErrPermissionDenied
	}
	return nil
}

// Statvfs reports coarse occupancy counters for the mounted image.
type Statvfs struct {
	BlockSize  int64
	Blocks     int64
	FreeBlocks int64
	Inodes     int64
	FreeInodes int64
}

// Statfs reports filesystem-wide occupancy.
func (fs *FS) Statfs() Statvfs {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return Statvfs{
		BlockSize:  BlockSize,
		Blocks:     fs.sb.BlockCount,
		FreeBlocks: fs.sb.FreeBlocks,
		Inodes:     fs.sb.InodeCount,
		FreeInodes: fs.sb.FreeInodes,
	}
}

package gnordofs

import (
	"fmt"
	"os"

	"github.com/holzplatten/gnordofs/internal/trace"
)

// DefaultImageSize is the image size mkfs uses when the caller doesn't
// override it: 10 MiB, enough for a few hundred small files under the
// fixed 1000-inode table.
const DefaultImageSize = 10 * 1024 * 1024

// MkFS creates a fresh GnordoFS image at path, sized size bytes, and
// formats it: a superblock, a zeroed inode table, a zeroed block zone
// with its free-list chained through every FreeBlockListSize-th block,
// and a root directory inode (inode 0) containing self-referential "."
// and ".." entries. size <= 0 selects DefaultImageSize.
func MkFS(path string, size int64) error {
	if size <= 0 {
		size = DefaultImageSize
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Truncate(size); err != nil {
		return err
	}

	dev := newDevice(f)

	psb, err := superblockInit(size)
	if err != nil {
		return err
	}
	sb := &Superblock{persistentSuperblock: *psb, dev: dev}

	if err := superblockWrite(dev, &sb.persistentSuperblock); err != nil {
		return err
	}

	if err := initInodeZone(sb); err != nil {
		return err
	}

	if err := initBlockZone(sb); err != nil {
		return err
	}

	root, err := ialloc(sb)
	if err != nil {
		return fmt.Errorf("allocating root inode: %w", err)
	}
	if root.n != RootIno {
		return fmt.Errorf("%w: first allocated inode was %d, not %d", ErrInvalidImage, root.n, RootIno)
	}

	root.Type = ItypeDir
	root.Perms = SIFDIR | SIRUSR | SIWUSR | SIXUSR | SIRGRP | SIXGRP | SIROTH | SIXOTH
	root.LinkCounter = 2
	root.Atime = now().Unix()
	root.Ctime = root.Atime
	root.Mtime = root.Atime
	if err := iput(sb, root); err != nil {
		return err
	}

	if err := addDirEntry(sb, root, ".", root.n); err != nil {
		return fmt.Errorf("writing '.': %w", err)
	}
	if err := addDirEntry(sb, root, "..", root.n); err != nil {
		return fmt.Errorf("writing '..': %w", err)
	}
	if err := iput(sb, root); err != nil {
		return err
	}

	sb.FirstInode = root.n
	if err := superblockWrite(dev, &sb.persistentSuperblock); err != nil {
		return err
	}

	if _, err := superblockRead(dev); err != nil {
		return fmt.Errorf("verifying freshly written image: %w", err)
	}

	trace.Log.Debugf("mkfs: path=%q size=%d block_count=%d inode_count=%d", path, size, sb.BlockCount, sb.InodeCount)

	return nil
}

// initInodeZone zero-fills every inode slot, each implicitly typed
// ItypeFree by the zero value.
func initInodeZone(sb *Superblock) error {
	blank := make([]byte, persistentInodeSize)
	for n := int64(0); n < sb.InodeCount; n++ {
		offset := sb.InodeZoneBase + n*int64(persistentInodeSize)
		if err := sb.dev.pwriteExact(offset, blank); err != nil {
			return err
		}
	}
	return nil
}

// initBlockZone zero-fills the block zone, then writes the chained
// free-list windows that don't fit in the superblock's initial cached
// window.
//
// Blocks are handed out in 64-block windows [0,63], [64,127], ... .
// Within a window the highest-numbered block is popped last; by then it
// has already been read as the *link* block carrying the next window's
// 64 block numbers (allocblk refills by reading that same block number
// it is about to return). So the link block for window [w, w+63] is
// w+63, and its content is the next window [w+64, w+127] laid out with
// the same "highest entry in slot 0" convention the superblock's initial
// window uses.
func initBlockZone(sb *Superblock) error {
	zero := make([]byte, BlockSize)
	for b := int64(0); b < sb.BlockCount; b++ {
		if err := writeblk(sb, b, zero); err != nil {
			return err
		}
	}

	for windowBase := int64(FreeBlockListSize); windowBase < sb.BlockCount; windowBase += FreeBlockListSize {
		linkBlock := windowBase - 1
		window := make([]byte, BlockSize)
		for j := 0; j < FreeBlockListSize; j++ {
			val := windowBase + int64(FreeBlockListSize-1-j)
			nativeEndian.PutUint64(window[j*8:j*8+8], uint64(val))
		}
		if err := writeblk(sb, linkBlock, window); err != nil {
			return err
		}
	}

	return nil
}

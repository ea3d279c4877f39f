package gnordofs

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/holzplatten/gnordofs/internal/trace"
)

// persistentSuperblock is the exact on-disk layout of the volume
// descriptor, bracketed by Magic1/Magic2. All multi-byte integers are
// host-endian: the image is not portable across architectures of
// differing endianness, so encoding uses binary.NativeEndian rather
// than picking a fixed wire order.
type persistentSuperblock struct {
	Magic1 uint32

	BlockCount     int64
	FreeBlocks     int64
	FreeBlockList  [FreeBlockListSize]int64
	FreeBlockIndex int32

	InodeCount     int64
	FreeInodes     int64
	FreeInodeList  [FreeInodeListSize]int64
	FreeInodeIndex int32

	FirstInode    int64
	InodeZoneBase int64
	BlockZoneBase int64

	Magic2 uint32

	// VolumeID sits past the closing magic, in space the original layout
	// never used. Purely informational; nothing else depends on it.
	VolumeID [16]byte
}

var persistentSuperblockSize = binary.Size(persistentSuperblock{})

// Superblock is the in-memory volume descriptor: the persistent fields
// plus transient bookkeeping.
type Superblock struct {
	persistentSuperblock

	dev *device

	// lock and modified are reserved for a future concurrent
	// implementation; nothing in this package reads or writes them.
	lock     bool
	modified bool
}

// VolumeID returns the volume's generated identifier.
func (sb *Superblock) VolumeID() uuid.UUID {
	return uuid.UUID(sb.persistentSuperblock.VolumeID)
}

// calculateInodeCount mirrors misc.c's calculate_inode_count: a fixed
// estimate, independent of image size, for now.
func calculateInodeCount(size int64) int64 {
	return 1000
}

// superblockInit computes the geometry for a fresh image of the given
// size: inode count, block count rounded down to a multiple of
// FreeBlockListSize, and the two zone base offsets.
func superblockInit(size int64) (*persistentSuperblock, error) {
	inodeCount := calculateInodeCount(size)

	remaining := size - int64(persistentSuperblockSize) - inodeCount*int64(persistentInodeSize)
	if remaining < 0 {
		return nil, fmt.Errorf("%w: image too small for %d inodes", ErrInvalidArgument, inodeCount)
	}

	blockCount := remaining / BlockSize
	blockCount -= blockCount % FreeBlockListSize

	sb := &persistentSuperblock{
		Magic1:     Magic,
		Magic2:     Magic,
		BlockCount: blockCount,
		FreeBlocks: blockCount,
		InodeCount: inodeCount,
		FreeInodes: inodeCount,
	}

	// Initial free-block window: slots count down from
	// FreeBlockListSize-1 to 0 holding block numbers 0..FreeBlockListSize-1,
	// with the full window occupied (index at the top).
	for i := 0; i < FreeBlockListSize; i++ {
		sb.FreeBlockList[FreeBlockListSize-1-i] = int64(i)
	}
	sb.FreeBlockIndex = FreeBlockListSize - 1

	// Initial free-inode window, same shape.
	for i := 0; i < FreeInodeListSize; i++ {
		sb.FreeInodeList[FreeInodeListSize-1-i] = int64(i)
	}
	// free_inode_index is a count of valid entries in
	// [0, FreeInodeListSize], consistently used that way by both mkfs
	// and ialloc, whose pop is decrement-then-read.
	sb.FreeInodeIndex = FreeInodeListSize

	sb.InodeZoneBase = int64(persistentSuperblockSize)
	sb.BlockZoneBase = sb.InodeZoneBase + inodeCount*int64(persistentInodeSize)

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	copy(sb.VolumeID[:], id[:])

	return sb, nil
}

// superblockWrite writes the persistent superblock at offset 0.
func superblockWrite(dev *device, sb *persistentSuperblock) error {
	buf := new(bytes.Buffer)
	buf.Grow(persistentSuperblockSize)
	if err := binary.Write(buf, binary.NativeEndian, sb); err != nil {
		return err
	}
	if err := dev.pwriteExact(0, buf.Bytes()); err != nil {
		return err
	}
	trace.Log.Tracef("superblock_write: block_count=%d free_blocks=%d inode_count=%d free_inodes=%d",
		sb.BlockCount, sb.FreeBlocks, sb.InodeCount, sb.FreeInodes)
	return nil
}

// superblockRead reads and validates the persistent superblock at offset
// 0, failing with ErrInvalidImage if the magic bytes don't match.
func superblockRead(dev *device) (*persistentSuperblock, error) {
	buf := make([]byte, persistentSuperblockSize)
	if err := dev.preadExact(0, buf); err != nil {
		return nil, err
	}

	var sb persistentSuperblock
	if err := binary.Read(bytes.NewReader(buf), binary.NativeEndian, &sb); err != nil {
		return nil, err
	}

	if sb.Magic1 != Magic || sb.Magic2 != Magic {
		return nil, ErrInvalidImage
	}
	if sb.InodeZoneBase != int64(persistentSuperblockSize) {
		return nil, fmt.Errorf("%w: inode zone base mismatch", ErrInvalidImage)
	}
	if sb.FreeBlocks > sb.BlockCount || sb.FreeInodes > sb.InodeCount {
		return nil, fmt.Errorf("%w: free counters exceed totals", ErrInvalidImage)
	}
	if sb.FreeBlockIndex < 0 || sb.FreeBlockIndex >= FreeBlockListSize ||
		sb.FreeInodeIndex < 0 || sb.FreeInodeIndex > FreeInodeListSize {
		return nil, fmt.Errorf("%w: free-list window index out of range", ErrInvalidImage)
	}

	return &sb, nil
}

// writeBack persists every mutated field of sb; the core never batches
// superblock writes, so every operation that can change its counters
// ends with this call.
func (sb *Superblock) writeBack() error {
	return superblockWrite(sb.dev, &sb.persistentSuperblock)
}

package gnordofs

import (
	"github.com/holzplatten/gnordofs/internal/trace"
)

// allocblk pops one absolute block number off the cached free-list
// window, refilling the window from the on-disk chain when it is down
// to its last entry. The chain invariant: when FreeBlockIndex == 0,
// FreeBlockList[0] is both the block being returned and the block
// holding the next 64-entry window.
func allocblk(sb *Superblock) (int64, error) {
	if sb.FreeBlocks == 0 {
		return 0, ErrOutOfSpace
	}

	b := sb.FreeBlockList[sb.FreeBlockIndex]

	if sb.FreeBlockIndex == 0 {
		window, err := getblk(sb, b)
		if err != nil {
			return 0, err
		}
		for i := 0; i < FreeBlockListSize; i++ {
			sb.FreeBlockList[i] = int64(nativeEndian.Uint64(window[i*8 : i*8+8]))
		}
		sb.FreeBlockIndex = FreeBlockListSize
	}

	sb.FreeBlockIndex--
	sb.FreeBlocks--

	trace.Log.Tracef("allocblk: b=%d free_blocks=%d free_block_index=%d", b, sb.FreeBlocks, sb.FreeBlockIndex)

	return b, nil
}

// freeblk pushes an absolute block number back onto the cached free-list
// window. When the window is full, the *current* window is spilled into
// the freed block, which becomes the new chain head: the window must be
// serialized before any of its state is cleared, or the chain pointer
// written to disk would be garbage.
func freeblk(sb *Superblock, b int64) error {
	if sb.FreeBlockIndex == FreeBlockListSize-1 {
		window := make([]byte, BlockSize)
		for i := 0; i < FreeBlockListSize; i++ {
			nativeEndian.PutUint64(window[i*8:i*8+8], uint64(sb.FreeBlockList[i]))
		}
		if err := writeblk(sb, b, window); err != nil {
			return err
		}

		var cleared [FreeBlockListSize]int64
		sb.FreeBlockList = cleared
		sb.FreeBlockList[0] = b
		sb.FreeBlockIndex = 0
	} else {
		sb.FreeBlockIndex++
		sb.FreeBlockList[sb.FreeBlockIndex] = b
	}

	sb.FreeBlocks++

	trace.Log.Tracef("freeblk: b=%d free_blocks=%d free_block_index=%d", b, sb.FreeBlocks, sb.FreeBlockIndex)

	return nil
}

// getblk reads one data block from the block zone.
func getblk(sb *Superblock, n int64) ([]byte, error) {
	if n < 0 || n >= sb.BlockCount {
		return nil, ErrInvalidArgument
	}

	buf := make([]byte, BlockSize)
	offset := sb.BlockZoneBase + n*BlockSize
	if err := sb.dev.preadExact(offset, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeblk writes one data block to the block zone.
func writeblk(sb *Superblock, n int64, data []byte) error {
	if n < 0 || n >= sb.BlockCount || len(data) != BlockSize {
		return ErrInvalidArgument
	}
	offset := sb.BlockZoneBase + n*BlockSize
	return sb.dev.pwriteExact(offset, data)
}

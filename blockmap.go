package gnordofs

// inodeGetblk resolves logical block index b of ino to an absolute block
// number, or BlkUnassigned if that slot has never been written. b must
// be in [0, BlocksPerInode).
func inodeGetblk(sb *Superblock, ino *Inode, b int) (int64, error) {
	if b < 0 || b >= BlocksPerInode {
		return 0, ErrInvalidArgument
	}

	if b < NDirectBlocks {
		return ino.DirectBlocks[b], nil
	}

	if unassigned(ino.SingleIndirectBlocks) {
		return BlkUnassigned, nil
	}

	window, err := getblk(sb, ino.SingleIndirectBlocks)
	if err != nil {
		return 0, err
	}

	i := b - NDirectBlocks
	return int64(nativeEndian.Uint64(window[i*8 : i*8+8])), nil
}

// inodeAllocblk resolves logical block index b, allocating and mapping a
// fresh data block (and, if needed, the single-indirect block itself) if
// the slot is currently unassigned. It never allocates a block that is
// already mapped.
func inodeAllocblk(sb *Superblock, ino *Inode, b int) (int64, error) {
	if b < 0 || b >= BlocksPerInode {
		return 0, ErrInvalidArgument
	}

	if b < NDirectBlocks {
		if !unassigned(ino.DirectBlocks[b]) {
			return ino.DirectBlocks[b], nil
		}
		abs, err := allocblk(sb)
		if err != nil {
			return 0, err
		}
		ino.DirectBlocks[b] = abs
		return abs, nil
	}

	if unassigned(ino.SingleIndirectBlocks) {
		abs, err := allocblk(sb)
		if err != nil {
			return 0, err
		}
		zero := make([]byte, BlockSize)
		for i := 0; i < NSingleIndirectBlocks; i++ {
			var unassignedBits int64 = BlkUnassigned
			nativeEndian.PutUint64(zero[i*8:i*8+8], uint64(unassignedBits))
		}
		if err := writeblk(sb, abs, zero); err != nil {
			return 0, err
		}
		ino.SingleIndirectBlocks = abs
	}

	window, err := getblk(sb, ino.SingleIndirectBlocks)
	if err != nil {
		return 0, err
	}

	i := b - NDirectBlocks
	existing := int64(nativeEndian.Uint64(window[i*8 : i*8+8]))
	if !unassigned(existing) {
		return existing, nil
	}

	abs, err := allocblk(sb)
	if err != nil {
		return 0, err
	}
	nativeEndian.PutUint64(window[i*8:i*8+8], uint64(abs))
	if err := writeblk(sb, ino.SingleIndirectBlocks, window); err != nil {
		return 0, err
	}

	return abs, nil
}

// inodeFreeblk clears logical block index b's mapping to BlkUnassigned,
// without freeing the underlying physical block (the caller is
// responsible for that via freeblk). The single-indirect block itself is
// left mapped even once every slot in it reads unassigned; ifree and a
// shrinking inodeTruncate are what release it.
func inodeFreeblk(sb *Superblock, ino *Inode, b int) error {
	if b < 0 || b >= BlocksPerInode {
		return ErrInvalidArgument
	}

	if b < NDirectBlocks {
		ino.DirectBlocks[b] = BlkUnassigned
		return nil
	}

	if unassigned(ino.SingleIndirectBlocks) {
		return nil
	}

	window, err := getblk(sb, ino.SingleIndirectBlocks)
	if err != nil {
		return err
	}

	i := b - NDirectBlocks
	var unassignedBits int64 = BlkUnassigned
	nativeEndian.PutUint64(window[i*8:i*8+8], uint64(unassignedBits))
	return writeblk(sb, ino.SingleIndirectBlocks, window)
}

// inodeTruncate sets the inode's recorded size to length. Growing only
// raises the size; no blocks are allocated, and the gap reads as a hole
// until written. Shrinking releases every block wholly past the new
// end, plus the indirect block once nothing under it remains mapped.
func inodeTruncate(sb *Superblock, ino *Inode, length uint64) error {
	if length > uint64(MaxFileSize) {
		return ErrInvalidArgument
	}
	if length >= ino.Size {
		ino.Size = length
		return nil
	}

	firstFreeBlock := int(length / BlockSize)
	if length%BlockSize != 0 {
		firstFreeBlock++
	}

	lastBlock := int(ino.Size / BlockSize)
	if ino.Size%BlockSize != 0 {
		lastBlock++
	}

	for b := firstFreeBlock; b < lastBlock && b < BlocksPerInode; b++ {
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

	if firstFreeBlock <= NDirectBlocks && !unassigned(ino.SingleIndirectBlocks) {
		if err := freeblk(sb, ino.SingleIndirectBlocks); err != nil {
			return err
		}
		ino.SingleIndirectBlocks = BlkUnassigned
	}

	ino.Size = length
	return nil
}

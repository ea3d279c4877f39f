package gnordofs

import (
	"github.com/holzplatten/gnordofs/internal/trace"
)

// Seek whence values.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// lseek positions ino's cursor per the usual SEEK_SET/SEEK_CUR/SEEK_END
// semantics. Negative results are rejected.
func lseek(ino *Inode, offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case SeekSet:
		base = 0
	case SeekCur:
		base = ino.offset
	case SeekEnd:
		base = int64(ino.Size)
	default:
		return 0, ErrInvalidArgument
	}

	pos := base + offset
	if pos < 0 {
		return 0, ErrInvalidArgument
	}

	ino.offset = pos
	return pos, nil
}

// doRead reads up to len(buf) bytes from ino's cursor, one block at a
// time through a single working-block buffer, advancing the cursor as
// it goes. It does not clamp at the inode's recorded size; callers
// wanting end-of-file semantics bound buf themselves. A hole (a logical
// block that was never allocated) stops the loop and the count read so
// far is returned: a gap in a GnordoFS file is not a sparse region that
// reads as zeros, it is unwritten territory.
func doRead(sb *Superblock, ino *Inode, buf []byte) (int, error) {
	var n int
	for n < len(buf) {
		blk := int(ino.offset / BlockSize)
		blkOff := int(ino.offset % BlockSize)

		abs, err := inodeGetblk(sb, ino, blk)
		if err != nil {
			return n, err
		}
		if unassigned(abs) {
			return n, nil
		}

		data, err := getblk(sb, abs)
		if err != nil {
			return n, err
		}

		chunk := BlockSize - blkOff
		if rem := len(buf) - n; chunk > rem {
			chunk = rem
		}
		copy(buf[n:n+chunk], data[blkOff:blkOff+chunk])

		n += chunk
		ino.offset += int64(chunk)
	}

	trace.Log.Tracef("do_read: ino=%d count=%d cursor=%d", ino.n, n, ino.offset)

	return n, nil
}

// doWrite writes len(buf) bytes at ino's cursor, allocating any block it
// touches that is not yet mapped and advancing the cursor as it goes. A
// freshly allocated block is written whole, its untouched region
// zero-filled, so a later read never exposes stale image bytes. It does
// not update ino.Size: the caller compares the final cursor against the
// recorded size and raises it, which also keeps partially failed writes
// (allocation or I/O error mid-loop) accounted at exactly the bytes
// that landed. Allocated blocks are never rolled back.
func doWrite(sb *Superblock, ino *Inode, buf []byte) (int, error) {
	var n int
	for n < len(buf) {
		blk := int(ino.offset / BlockSize)
		blkOff := int(ino.offset % BlockSize)

		abs, err := inodeGetblk(sb, ino, blk)
		if err != nil {
			return n, err
		}
		fresh := unassigned(abs)
		if fresh {
			abs, err = inodeAllocblk(sb, ino, blk)
			if err != nil {
				return n, err
			}
		}

		chunk := BlockSize - blkOff
		if rem := len(buf) - n; chunk > rem {
			chunk = rem
		}

		var data []byte
		if fresh || (blkOff == 0 && chunk == BlockSize) {
			data = make([]byte, BlockSize)
		} else {
			data, err = getblk(sb, abs)
			if err != nil {
				return n, err
			}
		}
		copy(data[blkOff:blkOff+chunk], buf[n:n+chunk])

		if err := writeblk(sb, abs, data); err != nil {
			return n, err
		}

		n += chunk
		ino.offset += int64(chunk)
	}

	trace.Log.Tracef("do_write: ino=%d count=%d cursor=%d", ino.n, n, ino.offset)

	return n, nil
}

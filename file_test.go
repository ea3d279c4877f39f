package gnordofs

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLseekWhence(t *testing.T) {
	ino := &Inode{persistentInode: persistentInode{Size: 4096}}

	pos, err := lseek(ino, 100, SeekSet)
	require.NoError(t, err)
	require.Equal(t, int64(100), pos)

	pos, err = lseek(ino, 10, SeekCur)
	require.NoError(t, err)
	require.Equal(t, int64(110), pos)

	pos, err = lseek(ino, -96, SeekEnd)
	require.NoError(t, err)
	require.Equal(t, int64(4000), pos)

	_, err = lseek(ino, 0, 42)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = lseek(ino, -1, SeekSet)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDoWriteDoReadRoundTripAcrossBlocks(t *testing.T) {
	path := mkfsTemp(t, DefaultImageSize)
	sb := openSuperblock(t, path)
	f := allocFile(t, sb)

	payload := bytes.Repeat([]byte{0x5A}, BlockSize*2+BlockSize/2)

	_, err := lseek(f, 0, SeekSet)
	require.NoError(t, err)
	n, err := doWrite(sb, f, payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	// do_write never touches the recorded size; that is the surface
	// operation's job.
	require.Zero(t, f.Size)

	got := make([]byte, len(payload))
	_, err = lseek(f, 0, SeekSet)
	require.NoError(t, err)
	n, err = doRead(sb, f, got)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.True(t, bytes.Equal(payload, got))
}

func TestDoReadStopsShortAtHole(t *testing.T) {
	path := mkfsTemp(t, DefaultImageSize)
	sb := openSuperblock(t, path)
	f := allocFile(t, sb)

	// Populate logical block 1 only, leaving block 0 a hole.
	_, err := lseek(f, BlockSize, SeekSet)
	require.NoError(t, err)
	_, err = doWrite(sb, f, bytes.Repeat([]byte{1}, BlockSize))
	require.NoError(t, err)

	buf := make([]byte, 2*BlockSize)
	_, err = lseek(f, 0, SeekSet)
	require.NoError(t, err)
	n, err := doRead(sb, f, buf)
	require.NoError(t, err)
	require.Zero(t, n, "a hole stops the read at zero bytes, never zero-fill")
}

func TestDoWriteBeyondBlockMapFails(t *testing.T) {
	path := mkfsTemp(t, DefaultImageSize)
	sb := openSuperblock(t, path)
	f := allocFile(t, sb)

	_, err := lseek(f, MaxFileSize, SeekSet)
	require.NoError(t, err)
	n, err := doWrite(sb, f, []byte{1})
	require.ErrorIs(t, err, ErrInvalidArgument)
	require.Zero(t, n)
}

func TestWriteDirectCapacityThenIndirect(t *testing.T) {
	path := mkfsTemp(t, DefaultImageSize)
	sb := openSuperblock(t, path)
	f := allocFile(t, sb)

	// Exactly the direct capacity stays on direct pointers.
	_, err := lseek(f, 0, SeekSet)
	require.NoError(t, err)
	n, err := doWrite(sb, f, bytes.Repeat([]byte{2}, NDirectBlocks*BlockSize))
	require.NoError(t, err)
	require.Equal(t, NDirectBlocks*BlockSize, n)

	for i := 0; i < NDirectBlocks; i++ {
		require.False(t, unassigned(f.DirectBlocks[i]), "direct block %d", i)
	}
	require.True(t, unassigned(f.SingleIndirectBlocks))

	// One byte past it allocates the indirect block and its first slot.
	n, err = doWrite(sb, f, []byte{3})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.False(t, unassigned(f.SingleIndirectBlocks))
	abs, err := inodeGetblk(sb, f, NDirectBlocks)
	require.NoError(t, err)
	require.False(t, unassigned(abs))
}

func TestInodeTruncateToZeroFreesEverything(t *testing.T) {
	path := mkfsTemp(t, DefaultImageSize)
	sb := openSuperblock(t, path)
	f := allocFile(t, sb)

	freeBefore := sb.FreeBlocks

	payload := bytes.Repeat([]byte{4}, (NDirectBlocks+1)*BlockSize)
	_, err := lseek(f, 0, SeekSet)
	require.NoError(t, err)
	_, err = doWrite(sb, f, payload)
	require.NoError(t, err)
	f.Size = uint64(len(payload))

	// 11 data blocks plus the indirect block itself.
	require.Equal(t, freeBefore-int64(NDirectBlocks)-2, sb.FreeBlocks)

	require.NoError(t, inodeTruncate(sb, f, 0))
	require.Zero(t, f.Size)
	for i := 0; i < NDirectBlocks; i++ {
		require.True(t, unassigned(f.DirectBlocks[i]))
	}
	require.True(t, unassigned(f.SingleIndirectBlocks))
	require.Equal(t, freeBefore, sb.FreeBlocks)
}

func TestInodeTruncateKeepsBoundaryBlock(t *testing.T) {
	path := mkfsTemp(t, DefaultImageSize)
	sb := openSuperblock(t, path)
	f := allocFile(t, sb)

	_, err := lseek(f, 0, SeekSet)
	require.NoError(t, err)
	_, err = doWrite(sb, f, bytes.Repeat([]byte{5}, 3*BlockSize))
	require.NoError(t, err)
	f.Size = 3 * BlockSize

	// Cutting into block 1 frees block 2 only.
	require.NoError(t, inodeTruncate(sb, f, BlockSize+4))
	require.Equal(t, uint64(BlockSize+4), f.Size)
	require.False(t, unassigned(f.DirectBlocks[0]))
	require.False(t, unassigned(f.DirectBlocks[1]))
	require.True(t, unassigned(f.DirectBlocks[2]))
}

func TestInodeTruncateGrowLeavesHole(t *testing.T) {
	path := mkfsTemp(t, DefaultImageSize)
	sb := openSuperblock(t, path)
	f := allocFile(t, sb)

	require.NoError(t, inodeTruncate(sb, f, 2*BlockSize))
	require.Equal(t, uint64(2*BlockSize), f.Size)
	require.True(t, unassigned(f.DirectBlocks[0]))
	require.True(t, unassigned(f.DirectBlocks[1]))

	require.ErrorIs(t, inodeTruncate(sb, f, uint64(MaxFileSize)+1), ErrInvalidArgument)
}

package gnordofs

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustMount(t *testing.T, opts ...Option) *FS {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.gnordofs")
	require.NoError(t, MkFS(path, DefaultImageSize))
	fs, err := Mount(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })
	return fs
}

func TestMountRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-an-image")
	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0o644))

	_, err := Mount(path)
	require.ErrorIs(t, err, ErrInvalidImage)
}

func TestMkdirMknodReaddir(t *testing.T) {
	fs := mustMount(t)

	require.NoError(t, fs.Mkdir("/dir", 0o755, Root))
	require.NoError(t, fs.Mknod("/dir/file.txt", 0o644, Root))

	entries, err := fs.Readdir("/dir")
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, e := range entries {
		names[e.Name] = true
	}
	require.True(t, names["."])
	require.True(t, names[".."])
	require.True(t, names["file.txt"])
}

func TestWriteReadRoundTrip(t *testing.T) {
	fs := mustMount(t)
	require.NoError(t, fs.Mknod("/file.txt", 0o644, Root))

	payload := []byte("the quick brown fox jumps over the lazy dog")
	n, err := fs.Write("/file.txt", payload, 0, Root)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	n, err = fs.Read("/file.txt", buf, 0, Root)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.True(t, bytes.Equal(payload, buf))

	attr, err := fs.Getattr("/file.txt")
	require.NoError(t, err)
	require.Equal(t, uint64(len(payload)), attr.Size)
}

func TestWriteSpanningMultipleBlocks(t *testing.T) {
	fs := mustMount(t)
	require.NoError(t, fs.Mknod("/big.bin", 0o644, Root))

	payload := bytes.Repeat([]byte{0xAB}, BlockSize*3+17)
	n, err := fs.Write("/big.bin", payload, 0, Root)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	n, err = fs.Read("/big.bin", buf, 0, Root)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.True(t, bytes.Equal(payload, buf))
}

func TestTruncateReleasesBlocks(t *testing.T) {
	fs := mustMount(t)
	require.NoError(t, fs.Mknod("/f", 0o644, Root))

	payload := bytes.Repeat([]byte{1}, BlockSize*2)
	_, err := fs.Write("/f", payload, 0, Root)
	require.NoError(t, err)

	statBefore := fs.Statfs()

	require.NoError(t, fs.Truncate("/f", 0, Root))

	statAfter := fs.Statfs()
	require.Greater(t, statAfter.FreeBlocks, statBefore.FreeBlocks)

	attr, err := fs.Getattr("/f")
	require.NoError(t, err)
	require.Zero(t, attr.Size)
}

func TestUnlinkRemovesEntryAndFreesInode(t *testing.T) {
	fs := mustMount(t)
	require.NoError(t, fs.Mknod("/f", 0o644, Root))

	statBefore := fs.Statfs()

	require.NoError(t, fs.Unlink("/f", Root))

	_, err := fs.Getattr("/f")
	require.ErrorIs(t, err, ErrNotFound)

	statAfter := fs.Statfs()
	require.Equal(t, statBefore.FreeInodes+1, statAfter.FreeInodes)
}

func TestRmdirRejectsNonEmptyDirectory(t *testing.T) {
	fs := mustMount(t)
	require.NoError(t, fs.Mkdir("/dir", 0o755, Root))
	require.NoError(t, fs.Mknod("/dir/f", 0o644, Root))

	err := fs.Rmdir("/dir", Root)
	require.ErrorIs(t, err, ErrNotEmpty)

	require.NoError(t, fs.Unlink("/dir/f", Root))
	require.NoError(t, fs.Rmdir("/dir", Root))

	_, err = fs.Getattr("/dir")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRenameAcrossDirectories(t *testing.T) {
	fs := mustMount(t)
	require.NoError(t, fs.Mkdir("/a", 0o755, Root))
	require.NoError(t, fs.Mkdir("/b", 0o755, Root))
	require.NoError(t, fs.Mknod("/a/f", 0o644, Root))

	require.NoError(t, fs.Rename("/a/f", "/b/g", Root))

	_, err := fs.Getattr("/a/f")
	require.ErrorIs(t, err, ErrNotFound)

	attr, err := fs.Getattr("/b/g")
	require.NoError(t, err)
	require.Equal(t, ItypeFile, attr.Type)
}

func TestRenameRejectsExistingDestination(t *testing.T) {
	fs := mustMount(t)
	require.NoError(t, fs.Mknod("/a", 0o644, Root))
	require.NoError(t, fs.Mknod("/b", 0o644, Root))

	err := fs.Rename("/a", "/b", Root)
	require.ErrorIs(t, err, ErrExists)
}

func TestReadOnlyMountRejectsMutation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.gnordofs")
	require.NoError(t, MkFS(path, DefaultImageSize))

	fs, err := Mount(path, ReadOnly())
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })

	err = fs.Mknod("/f", 0o644, Root)
	require.ErrorIs(t, err, ErrPermissionDenied)
}

func TestGetattrRoot(t *testing.T) {
	fs := mustMount(t)

	attr, err := fs.Getattr("/")
	require.NoError(t, err)
	require.Equal(t, ItypeDir, attr.Type)
	require.Equal(t, uint32(2), attr.Links)
	require.Equal(t, uint64(2*DirEntrySize), attr.Size)
}

func TestWritePastDirectBlocksLeavesUnreadableHole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.gnordofs")
	require.NoError(t, MkFS(path, DefaultImageSize))
	fs, err := Mount(path)
	require.NoError(t, err)

	require.NoError(t, fs.Mknod("/big", 0o644, Root))

	payload := bytes.Repeat([]byte{0x42}, BlockSize)
	n, err := fs.Write("/big", payload, NDirectBlocks*BlockSize, Root)
	require.NoError(t, err)
	require.Equal(t, BlockSize, n)

	attr, err := fs.Getattr("/big")
	require.NoError(t, err)
	require.Equal(t, uint64((NDirectBlocks+1)*BlockSize), attr.Size)

	// The hole over the direct range reads short, not as zeros.
	buf := make([]byte, BlockSize)
	n, err = fs.Read("/big", buf, 0, Root)
	require.NoError(t, err)
	require.Zero(t, n)

	// The written tail reads back intact.
	n, err = fs.Read("/big", buf, NDirectBlocks*BlockSize, Root)
	require.NoError(t, err)
	require.Equal(t, BlockSize, n)
	require.True(t, bytes.Equal(payload, buf))

	require.NoError(t, fs.Close())

	// On disk: no direct pointer assigned, the indirect block mapped with
	// exactly its first slot in use.
	sb := openSuperblock(t, path)
	ino, err := namei(sb, "/big")
	require.NoError(t, err)
	for i := 0; i < NDirectBlocks; i++ {
		require.True(t, unassigned(ino.DirectBlocks[i]), "direct block %d", i)
	}
	require.False(t, unassigned(ino.SingleIndirectBlocks))
	abs, err := inodeGetblk(sb, ino, NDirectBlocks)
	require.NoError(t, err)
	require.False(t, unassigned(abs))
}

func TestTruncateGrowthLeavesHole(t *testing.T) {
	fs := mustMount(t)
	require.NoError(t, fs.Mknod("/f", 0o644, Root))

	_, err := fs.Write("/f", []byte("x"), 0, Root)
	require.NoError(t, err)

	require.NoError(t, fs.Truncate("/f", 2*BlockSize, Root))

	attr, err := fs.Getattr("/f")
	require.NoError(t, err)
	require.Equal(t, uint64(2*BlockSize), attr.Size)

	// The grown region has no blocks behind it.
	buf := make([]byte, 16)
	n, err := fs.Read("/f", buf, BlockSize, Root)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestWriteExhaustsSpaceWithoutCorruptingCounters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.gnordofs")
	require.NoError(t, MkFS(path, 512*1024))
	fs, err := Mount(path)
	require.NoError(t, err)

	require.NoError(t, fs.Mknod("/f", 0o644, Root))

	chunk := bytes.Repeat([]byte{7}, BlockSize)
	var werr error
	for off := int64(0); ; off += BlockSize {
		if _, werr = fs.Write("/f", chunk, off, Root); werr != nil {
			break
		}
	}
	require.ErrorIs(t, werr, ErrOutOfSpace)
	require.Zero(t, fs.Statfs().FreeBlocks)

	require.NoError(t, fs.Close())

	// The image must still mount cleanly with consistent counters.
	fs2, err := Mount(path)
	require.NoError(t, err)
	t.Cleanup(func() { fs2.Close() })
	st := fs2.Statfs()
	require.Zero(t, st.FreeBlocks)
	require.Greater(t, st.Blocks, int64(0))
}

func TestChmodZeroDeniesAllButRoot(t *testing.T) {
	fs := mustMount(t)
	require.NoError(t, fs.Mknod("/a", 0o644, Root))
	require.NoError(t, fs.Chmod("/a", 0, Root))

	stranger := Caller{Uid: 1000, Gid: 1000}
	require.ErrorIs(t, fs.Access("/a", stranger, ROK), ErrPermissionDenied)
	require.NoError(t, fs.Access("/a", Root, ROK))
}

func TestOpenReleaseRoundTrip(t *testing.T) {
	fs := mustMount(t)
	require.NoError(t, fs.Mknod("/f", 0o400, Root))

	stranger := Caller{Uid: 1000, Gid: 1000}
	require.NoError(t, fs.Open("/f", ROK, stranger))
	require.ErrorIs(t, fs.Open("/f", WOK, stranger), ErrPermissionDenied)
	require.NoError(t, fs.Release("/f"))

	require.ErrorIs(t, fs.Open("/missing", ROK, Root), ErrNotFound)
}

func TestReaddirOmitsUnlinkedEntries(t *testing.T) {
	fs := mustMount(t)
	require.NoError(t, fs.Mknod("/a", 0o644, Root))
	require.NoError(t, fs.Mknod("/b", 0o644, Root))
	require.NoError(t, fs.Unlink("/a", Root))

	entries, err := fs.Readdir("/")
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	require.ElementsMatch(t, []string{".", "..", "b"}, names)
}

func TestRenameWithinDirectoryKeepsSize(t *testing.T) {
	fs := mustMount(t)
	require.NoError(t, fs.Mknod("/a", 0o644, Root))

	sizeBefore, err := fs.Getattr("/")
	require.NoError(t, err)

	require.NoError(t, fs.Rename("/a", "/c", Root))

	_, err = fs.Getattr("/a")
	require.ErrorIs(t, err, ErrNotFound)
	attr, err := fs.Getattr("/c")
	require.NoError(t, err)
	require.Equal(t, ItypeFile, attr.Type)

	sizeAfter, err := fs.Getattr("/")
	require.NoError(t, err)
	require.Equal(t, sizeBefore.Size, sizeAfter.Size)
}

func TestAccessDeniedForUnprivilegedCaller(t *testing.T) {
	fs := mustMount(t)

	// Owner write only: no triad carries the read bit, so even the
	// any-triad rule denies ROK, while WOK stays granted to everyone.
	require.NoError(t, fs.Mknod("/f", 0o200, Root))

	stranger := Caller{Uid: 1000, Gid: 1000}
	require.ErrorIs(t, fs.Access("/f", stranger, ROK), ErrPermissionDenied)
	require.NoError(t, fs.Access("/f", stranger, WOK))
}

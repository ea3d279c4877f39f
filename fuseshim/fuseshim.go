//go:build fuse

// Package fuseshim adapts a mounted gnordofs.FS onto the host kernel's
// FUSE protocol via github.com/hanwen/go-fuse/v2.
package fuseshim

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/holzplatten/gnordofs"
)

// Root mounts a gnordofs.FS as the root of a FUSE filesystem tree.
func Root(gfs *gnordofs.FS) fs.InodeEmbedder {
	return &node{fs: gfs, path: "/"}
}

// node is one FUSE inode: a path into the mounted gnordofs image. The
// kernel keeps its own inode cache, so node itself carries no mutable
// state beyond the path it names and a mutex-free caller identity
// derived fresh from each request's context.
type node struct {
	fs.Inode

	fs   *gnordofs.FS
	path string
}

var (
	_ fs.NodeLookuper  = (*node)(nil)
	_ fs.NodeGetattrer = (*node)(nil)
	_ fs.NodeSetattrer = (*node)(nil)
	_ fs.NodeReaddirer = (*node)(nil)
	_ fs.NodeOpener    = (*node)(nil)
	_ fs.NodeReader    = (*node)(nil)
	_ fs.NodeWriter    = (*node)(nil)
	_ fs.NodeCreater   = (*node)(nil)
	_ fs.NodeMknoder   = (*node)(nil)
	_ fs.NodeMkdirer   = (*node)(nil)
	_ fs.NodeUnlinker  = (*node)(nil)
	_ fs.NodeRmdirer   = (*node)(nil)
	_ fs.NodeRenamer   = (*node)(nil)
	_ fs.NodeAccesser  = (*node)(nil)
)

func callerFromContext(ctx context.Context) gnordofs.Caller {
	if caller, ok := fuse.FromContext(ctx); ok {
		return gnordofs.Caller{Uid: caller.Uid, Gid: caller.Gid}
	}
	return gnordofs.Root
}

func childPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

func fillAttr(out *fuse.Attr, a gnordofs.Attr) {
	out.Ino = uint64(a.Ino)
	out.Size = a.Size
	out.Mode = a.Perms
	if a.Type == gnordofs.ItypeDir {
		out.Mode |= syscall.S_IFDIR
	} else {
		out.Mode |= syscall.S_IFREG
	}
	out.Nlink = a.Links
	out.Uid = a.Owner
	out.Gid = a.Group
	out.Atime = uint64(a.Atime)
	out.Mtime = uint64(a.Mtime)
	out.Ctime = uint64(a.Ctime)
	out.Blksize = gnordofs.BlockSize
}

func (n *node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	a, err := n.fs.Getattr(n.path)
	if err != nil {
		return syscall.Errno(-gnordofs.ToErrno(err))
	}
	fillAttr(&out.Attr, a)
	return 0
}

func (n *node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	caller := callerFromContext(ctx)

	if mode, ok := in.GetMode(); ok {
		if err := n.fs.Chmod(n.path, mode&0o7777, caller); err != nil {
			return syscall.Errno(-gnordofs.ToErrno(err))
		}
	}
	if uid, ok := in.GetUID(); ok {
		gid, gok := in.GetGID()
		if !gok {
			a, err := n.fs.Getattr(n.path)
			if err != nil {
				return syscall.Errno(-gnordofs.ToErrno(err))
			}
			gid = a.Group
		}
		if err := n.fs.Chown(n.path, uid, gid, caller); err != nil {
			return syscall.Errno(-gnordofs.ToErrno(err))
		}
	}
	if size, ok := in.GetSize(); ok {
		if err := n.fs.Truncate(n.path, size, caller); err != nil {
			return syscall.Errno(-gnordofs.ToErrno(err))
		}
	}

	return n.Getattr(ctx, f, out)
}

func (n *node) Access(ctx context.Context, mask uint32) syscall.Errno {
	caller := callerFromContext(ctx)
	if err := n.fs.Access(n.path, caller, mask); err != nil {
		return syscall.Errno(-gnordofs.ToErrno(err))
	}
	return 0
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childP := childPath(n.path, name)
	a, err := n.fs.Getattr(childP)
	if err != nil {
		return nil, syscall.Errno(-gnordofs.ToErrno(err))
	}

	fillAttr(&out.Attr, a)

	child := &node{fs: n.fs, path: childP}
	mode := uint32(fuse.S_IFREG)
	if a.Type == gnordofs.ItypeDir {
		mode = fuse.S_IFDIR
	}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: mode, Ino: uint64(a.Ino)}), 0
}

func (n *node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := n.fs.Readdir(n.path)
	if err != nil {
		return nil, syscall.Errno(-gnordofs.ToErrno(err))
	}

	dirEntries := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := uint32(fuse.S_IFREG)
		if a, err := n.fs.Getattr(childPath(n.path, e.Name)); err == nil && a.Type == gnordofs.ItypeDir {
			mode = fuse.S_IFDIR
		}
		dirEntries = append(dirEntries, fuse.DirEntry{Name: e.Name, Ino: uint64(e.Ino), Mode: mode})
	}

	return fs.NewListDirStream(dirEntries), 0
}

// fileHandle ties a kernel file handle back to the path it was opened
// on, so release can be forwarded; the engine itself keeps no open-file
// state.
type fileHandle struct {
	fs   *gnordofs.FS
	path string
}

var _ fs.FileReleaser = (*fileHandle)(nil)

func (h *fileHandle) Release(ctx context.Context) syscall.Errno {
	if err := h.fs.Release(h.path); err != nil {
		return syscall.Errno(-gnordofs.ToErrno(err))
	}
	return 0
}

func accessMask(flags uint32) uint32 {
	switch flags & syscall.O_ACCMODE {
	case syscall.O_WRONLY:
		return gnordofs.WOK
	case syscall.O_RDWR:
		return gnordofs.ROK | gnordofs.WOK
	default:
		return gnordofs.ROK
	}
}

func (n *node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	caller := callerFromContext(ctx)
	if err := n.fs.Open(n.path, accessMask(flags), caller); err != nil {
		return nil, 0, syscall.Errno(-gnordofs.ToErrno(err))
	}
	return &fileHandle{fs: n.fs, path: n.path}, 0, 0
}

func (n *node) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	caller := callerFromContext(ctx)
	got, err := n.fs.Read(n.path, dest, off, caller)
	if err != nil {
		return nil, syscall.Errno(-gnordofs.ToErrno(err))
	}
	return fuse.ReadResultData(dest[:got]), 0
}

func (n *node) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	caller := callerFromContext(ctx)
	written, err := n.fs.Write(n.path, data, off, caller)
	if err != nil {
		return uint32(written), syscall.Errno(-gnordofs.ToErrno(err))
	}
	return uint32(written), 0
}

func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	caller := callerFromContext(ctx)
	childP := childPath(n.path, name)

	if err := n.fs.Mknod(childP, mode&0o7777, caller); err != nil {
		return nil, nil, 0, syscall.Errno(-gnordofs.ToErrno(err))
	}

	a, err := n.fs.Getattr(childP)
	if err != nil {
		return nil, nil, 0, syscall.Errno(-gnordofs.ToErrno(err))
	}
	fillAttr(&out.Attr, a)

	child := &node{fs: n.fs, path: childP}
	inode := n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFREG, Ino: uint64(a.Ino)})
	return inode, nil, 0, 0
}

func (n *node) Mknod(ctx context.Context, name string, mode uint32, dev uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	caller := callerFromContext(ctx)
	childP := childPath(n.path, name)

	if err := n.fs.Mknod(childP, mode&0o7777, caller); err != nil {
		return nil, syscall.Errno(-gnordofs.ToErrno(err))
	}

	a, err := n.fs.Getattr(childP)
	if err != nil {
		return nil, syscall.Errno(-gnordofs.ToErrno(err))
	}
	fillAttr(&out.Attr, a)

	child := &node{fs: n.fs, path: childP}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFREG, Ino: uint64(a.Ino)}), 0
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	caller := callerFromContext(ctx)
	childP := childPath(n.path, name)

	if err := n.fs.Mkdir(childP, mode&0o7777, caller); err != nil {
		return nil, syscall.Errno(-gnordofs.ToErrno(err))
	}

	a, err := n.fs.Getattr(childP)
	if err != nil {
		return nil, syscall.Errno(-gnordofs.ToErrno(err))
	}
	fillAttr(&out.Attr, a)

	child := &node{fs: n.fs, path: childP}
	inode := n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFDIR, Ino: uint64(a.Ino)})
	return inode, 0
}

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	caller := callerFromContext(ctx)
	if err := n.fs.Unlink(childPath(n.path, name), caller); err != nil {
		return syscall.Errno(-gnordofs.ToErrno(err))
	}
	return 0
}

func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	caller := callerFromContext(ctx)
	if err := n.fs.Rmdir(childPath(n.path, name), caller); err != nil {
		return syscall.Errno(-gnordofs.ToErrno(err))
	}
	return 0
}

func (n *node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	caller := callerFromContext(ctx)

	newParentNode, ok := newParent.(*node)
	if !ok {
		return syscall.EXDEV
	}

	oldP := childPath(n.path, name)
	newP := childPath(newParentNode.path, newName)
	if err := n.fs.Rename(oldP, newP, caller); err != nil {
		return syscall.Errno(-gnordofs.ToErrno(err))
	}
	return 0
}

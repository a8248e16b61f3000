package fusefs

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/objectfs/zerofs/internal/tree"
	"github.com/objectfs/zerofs/pkg/zferrors"
)

// FileNode is a FUSE node bound to a file path in the tree.
type FileNode struct {
	fs.Inode
	fs   *FS
	path string
}

var (
	_ fs.NodeGetattrer     = (*FileNode)(nil)
	_ fs.NodeOpener        = (*FileNode)(nil)
	_ fs.NodeReader        = (*FileNode)(nil)
	_ fs.NodeWriter        = (*FileNode)(nil)
	_ fs.NodeSetattrer     = (*FileNode)(nil)
	_ fs.NodeReadlinker    = (*FileNode)(nil)
	_ fs.NodeGetxattrer    = (*FileNode)(nil)
	_ fs.NodeSetxattrer    = (*FileNode)(nil)
	_ fs.NodeListxattrer   = (*FileNode)(nil)
	_ fs.NodeRemovexattrer = (*FileNode)(nil)
)

func (n *FileNode) lookup() (*tree.File, syscall.Errno) {
	node, err := n.fs.tree.Find(n.path)
	if err != nil {
		return nil, zferrors.ToErrno(err)
	}
	if node.Kind != tree.KindFile {
		return nil, syscall.EISDIR
	}
	return node.File, 0
}

// Getattr returns the file's metadata.
func (n *FileNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) (errno syscall.Errno) {
	defer n.fs.observe("getattr", time.Now(), &errno)()

	file, errno := n.lookup()
	if errno != 0 {
		return errno
	}
	fillAttr(&tree.Node{Kind: tree.KindFile, File: file}, n.fs.uid, n.fs.gid, &out.Attr)
	return 0
}

// Open allocates the advisory, process-wide descriptor. No per-handle
// state is kept — every subsequent Read/Write dispatches through this
// node directly.
func (n *FileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	n.fs.nextDescriptor()
	return nil, 0, 0
}

// Read serves [offset, offset+len(dest)) from the cached body,
// downloading the whole object on a cache miss. size == 0 (an empty
// dest) returns empty, matching the spec.
func (n *FileNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (res fuse.ReadResult, errno syscall.Errno) {
	defer n.fs.observe("read", time.Now(), &errno)()

	file, errno := n.lookup()
	if errno != 0 {
		return nil, errno
	}
	if len(dest) == 0 {
		return fuse.ReadResultData(nil), 0
	}

	lock := n.fs.lockFor(file.ObjectID)
	lock.Lock()
	body, err := n.fs.bodyLocked(ctx, n.path, file)
	lock.Unlock()
	if err != nil {
		return nil, zferrors.ToErrno(err)
	}

	if off >= int64(len(body)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(body)) {
		end = int64(len(body))
	}
	return fuse.ReadResultData(body[off:end]), 0
}

// Readlink is defined as reading the whole file — there is no true
// symlink support (see the spec's Non-goals).
func (n *FileNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	file, errno := n.lookup()
	if errno != 0 {
		return nil, errno
	}
	lock := n.fs.lockFor(file.ObjectID)
	lock.Lock()
	defer lock.Unlock()
	body, err := n.fs.bodyLocked(ctx, n.path, file)
	if err != nil {
		return nil, zferrors.ToErrno(err)
	}
	return body, 0
}

// Write splices data into the cached body at off, updates size, and
// submits a delayed upload task keyed by the file's current object id.
func (n *FileNode) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (n32 uint32, errno syscall.Errno) {
	defer n.fs.observe("write", time.Now(), &errno)()

	file, errno := n.lookup()
	if errno != 0 {
		return 0, errno
	}

	lock := n.fs.lockFor(file.ObjectID)
	lock.Lock()
	defer lock.Unlock()

	body, err := n.fs.bodyLocked(ctx, n.path, file)
	if err != nil {
		return 0, zferrors.ToErrno(err)
	}

	newBody := spliceAt(body, data, off)
	if err := n.fs.cache.Add(file.ObjectID, newBody); err != nil {
		return 0, zferrors.ToErrno(err)
	}
	file.Size = int64(len(newBody))
	file.Mtime = nowSeconds()

	n.fs.submitUpload(n.path, file)
	return uint32(len(data)), 0
}

// Setattr handles chmod/chown/utimens and truncate.
func (n *FileNode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	file, errno := n.lookup()
	if errno != 0 {
		return errno
	}
	node := &tree.Node{Kind: tree.KindFile, File: file}
	applySetAttr(node, in)

	if size, ok := in.GetSize(); ok {
		if errno := n.truncate(ctx, file, int64(size)); errno != 0 {
			return errno
		}
	}

	fillAttr(node, n.fs.uid, n.fs.gid, &out.Attr)
	return 0
}

// truncate rewrites the cached body to length bytes, NUL-padded or cut
// short, and updates size.
func (n *FileNode) truncate(ctx context.Context, file *tree.File, length int64) syscall.Errno {
	lock := n.fs.lockFor(file.ObjectID)
	lock.Lock()
	defer lock.Unlock()

	body, err := n.fs.bodyLocked(ctx, n.path, file)
	if err != nil {
		return zferrors.ToErrno(err)
	}

	newBody := make([]byte, length)
	copy(newBody, body)
	if err := n.fs.cache.Add(file.ObjectID, newBody); err != nil {
		return zferrors.ToErrno(err)
	}
	file.Size = length
	file.Mtime = nowSeconds()
	n.fs.submitUpload(n.path, file)
	return 0
}

func (n *FileNode) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	file, errno := n.lookup()
	if errno != 0 {
		return 0, errno
	}
	return getXattr(&tree.Node{Kind: tree.KindFile, File: file}, attr, dest)
}

func (n *FileNode) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	file, errno := n.lookup()
	if errno != 0 {
		return errno
	}
	tree.SetXattr(&tree.Node{Kind: tree.KindFile, File: file}, attr, append([]byte(nil), data...))
	return 0
}

func (n *FileNode) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	file, errno := n.lookup()
	if errno != 0 {
		return 0, errno
	}
	return listXattr(&tree.Node{Kind: tree.KindFile, File: file}, dest)
}

func (n *FileNode) Removexattr(ctx context.Context, attr string) syscall.Errno {
	file, errno := n.lookup()
	if errno != 0 {
		return errno
	}
	tree.RemoveXattr(&tree.Node{Kind: tree.KindFile, File: file}, attr)
	return 0
}

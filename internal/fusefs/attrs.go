package fusefs

import (
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/objectfs/zerofs/internal/tree"
	"github.com/objectfs/zerofs/pkg/zferrors"
)

// fileTypeMask isolates the POSIX file-type bits (S_IFMT).
const fileTypeMask = 0o170000

// applySetAttr applies the chmod/chown/utimens/truncate fields present
// in in to node, per the spec's "in-memory only" metadata semantics.
// It does not handle a size change: truncate is done by the caller for
// files, since it also needs to rewrite the cached body and File.Size.
func applySetAttr(node *tree.Node, in *fuse.SetAttrIn) {
	if mode, ok := in.GetMode(); ok {
		tree.Chmod(node, mode)
	}
	if uid, ok := in.GetUID(); ok {
		gid, hasGid := in.GetGID()
		if !hasGid {
			gid = currentGID(node)
		}
		tree.Chown(node, uid, gid)
	} else if gid, ok := in.GetGID(); ok {
		tree.Chown(node, currentUID(node), gid)
	}
	if mtime, ok := in.GetMTime(); ok {
		atime, hasAtime := in.GetATime()
		if !hasAtime {
			atime = mtime
		}
		tree.Utimens(node, secondsOf(mtime), secondsOf(atime))
	} else if atime, ok := in.GetATime(); ok {
		tree.Utimens(node, currentMtime(node), secondsOf(atime))
	}
}

func secondsOf(t interface{ Unix() int64 }) float64 {
	return float64(t.Unix())
}

func currentUID(node *tree.Node) uint32 {
	switch node.Kind {
	case tree.KindFile:
		return node.File.UID
	default:
		return node.Directory.UID
	}
}

func currentGID(node *tree.Node) uint32 {
	switch node.Kind {
	case tree.KindFile:
		return node.File.GID
	default:
		return node.Directory.GID
	}
}

func currentMtime(node *tree.Node) float64 {
	switch node.Kind {
	case tree.KindFile:
		return node.File.Mtime
	default:
		return node.Directory.Mtime()
	}
}

// fillStatfs populates out from the mount's fixed geometry.
func fillStatfs(s Statfs, out *fuse.StatfsOut) {
	if s.BlockSize == 0 {
		s.BlockSize = 4096
	}
	blocks := s.TotalBytes / uint64(s.BlockSize)
	out.Bsize = s.BlockSize
	out.Frsize = s.BlockSize
	out.Blocks = blocks
	out.Bfree = blocks
	out.Bavail = blocks
	out.Files = 1 << 20
	out.Ffree = 1 << 20
	out.NameLen = 255
}

// getXattr implements the shared Getxattr body: ENOATTR if unset,
// ERANGE if dest is too small to hold the value.
func getXattr(node *tree.Node, attr string, dest []byte) (uint32, syscall.Errno) {
	val, ok := tree.GetXattr(node, attr)
	if !ok {
		return 0, zferrors.ToErrno(zferrors.ErrNoAttr)
	}
	if len(dest) < len(val) {
		return uint32(len(val)), syscall.ERANGE
	}
	copy(dest, val)
	return uint32(len(val)), 0
}

func listXattr(node *tree.Node, dest []byte) (uint32, syscall.Errno) {
	names := tree.ListXattr(node)
	var total int
	for _, name := range names {
		total += len(name) + 1
	}
	if len(dest) < total {
		return uint32(total), syscall.ERANGE
	}
	off := 0
	for _, name := range names {
		off += copy(dest[off:], name)
		dest[off] = 0
		off++
	}
	return uint32(total), 0
}

package tree

// fileTypeMask isolates the POSIX file-type bits (S_IFMT) from a mode
// value, so Chmod can replace only the permission bits.
const fileTypeMask = 0o170000

// Chmod masks off the file-type bits of node's mode and ORs in the
// permission bits from mode, preserving whether the node is a file or
// directory.
func Chmod(node *Node, mode uint32) {
	attrs := attrsOf(node)
	attrs.Mode = (attrs.Mode & fileTypeMask) | (mode &^ fileTypeMask)
}

// Chown sets node's owning uid and gid.
func Chown(node *Node, uid, gid uint32) {
	attrs := attrsOf(node)
	attrs.UID = uid
	attrs.GID = gid
}

// Utimens sets node's mtime and atime to the given fractional-second
// timestamps.
func Utimens(node *Node, mtime, atime float64) {
	switch node.Kind {
	case KindFile:
		node.File.Mtime = mtime
		node.File.Atime = atime
	case KindDirectory:
		// Directory.Mtime is derived from children; only atime is
		// stored directly.
		node.Directory.Atime = atime
	}
}

func attrsOf(node *Node) *Attrs {
	switch node.Kind {
	case KindFile:
		return &node.File.Attrs
	case KindDirectory:
		return &node.Directory.Attrs
	}
	panic("tree: node has neither File nor Directory set")
}

// GetXattr reads an extended attribute, reporting ok=false if it is
// unset. The filesystem layer maps that to zferrors.ErrNoAttr (ENOATTR)
// rather than returning an empty value.
func GetXattr(node *Node, name string) ([]byte, bool) {
	val, ok := attrsOf(node).Xattrs[name]
	return val, ok
}

// SetXattr sets an extended attribute's value.
func SetXattr(node *Node, name string, value []byte) {
	attrsOf(node).Xattrs[name] = value
}

// RemoveXattr deletes an extended attribute, if present.
func RemoveXattr(node *Node, name string) {
	delete(attrsOf(node).Xattrs, name)
}

// ListXattr returns the names of node's extended attributes.
func ListXattr(node *Node) []string {
	attrs := attrsOf(node)
	names := make([]string, 0, len(attrs.Xattrs))
	for name := range attrs.Xattrs {
		names = append(names, name)
	}
	return names
}

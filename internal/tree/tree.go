// Package tree implements component C4: the in-memory directory tree
// that mirrors the object store's flat, slash-delimited namespace and
// carries POSIX metadata for each entry.
//
// A Node is a tagged variant over File and Directory rather than an
// open interface hierarchy — operations that care about node kind
// switch on Kind, matching the shape of the object namespace itself
// (every leaf is a file, every other segment is synthesized as a
// directory).
package tree

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/objectfs/zerofs/pkg/zferrors"
)

// Kind discriminates a Node's variant.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
)

// Attrs holds the POSIX attributes shared by files and directories.
type Attrs struct {
	Mode   uint32
	UID    uint32
	GID    uint32
	Xattrs map[string][]byte
}

// File is a Node backed by an object in the store, or not yet uploaded.
type File struct {
	Attrs
	ObjectID string
	Size     int64
	Mtime    float64
	Ctime    float64
	Atime    float64
}

// IsLocalOnly reports whether this file has never been uploaded: its
// object id is in the canonical hyphenated UUID form uuid.NewString()
// produces, rather than a server-issued identifier.
//
// uuid.Parse alone is not enough to tell these apart: it also accepts
// the bare 32-character hex form, which is exactly the shape of an S3
// ETag for a whole-object PUT (the object's MD5 digest). Checking the
// length first rejects every such ETag before it ever reaches Parse.
func (f *File) IsLocalOnly() bool {
	if len(f.ObjectID) != 36 {
		return false
	}
	_, err := uuid.Parse(f.ObjectID)
	return err == nil
}

// Directory is a Node with named children. Child lookup is by exact
// leaf name; insertion order carries no meaning.
type Directory struct {
	Attrs
	Name     string
	Children map[string]*Node
	Atime    float64
}

// Mtime derives the directory's modification time as the latest child
// mtime, or its own atime if it has no children.
func (d *Directory) Mtime() float64 {
	if len(d.Children) == 0 {
		return d.Atime
	}
	var max float64
	for _, c := range d.Children {
		var t float64
		switch c.Kind {
		case KindFile:
			t = c.File.Mtime
		case KindDirectory:
			t = c.Directory.Mtime()
		}
		if t > max {
			max = t
		}
	}
	return max
}

// Nlink is 2 plus the number of direct child directories — the classic
// POSIX directory link count (self, parent, and one per child dir).
func (d *Directory) Nlink() uint32 {
	n := uint32(2)
	for _, c := range d.Children {
		if c.Kind == KindDirectory {
			n++
		}
	}
	return n
}

// Node is the tagged File/Directory variant stored in the tree.
type Node struct {
	Kind      Kind
	File      *File
	Directory *Directory
}

// ObjectListing is the minimal shape of a bucket listing entry, as
// returned by the object store client's ListFiles call.
type ObjectListing struct {
	FileID           string
	FileName         string
	ContentLength    int64
	UploadTimestamp  int64 // milliseconds since epoch
	IsDirectoryEntry bool
}

// Tree is the in-memory namespace, guarded by a single tree-wide lock —
// the design assumes single-threaded FUSE dispatch for the namespace
// (see the spec's Shared-resource policy); a multi-threaded dispatcher
// would need this lock held across traversal and mutation, which is
// exactly what it does here.
type Tree struct {
	mu   sync.RWMutex
	root *Node
}

// Build constructs the tree eagerly from a flat bucket listing, creating
// intermediate Directory nodes for every prefix segment of each object
// name.
func Build(objects []ObjectListing) *Tree {
	now := nowSeconds()
	root := &Node{
		Kind: KindDirectory,
		Directory: &Directory{
			Attrs:    Attrs{Mode: 0o40755, Xattrs: map[string][]byte{}},
			Name:     "",
			Children: map[string]*Node{},
			Atime:    now,
		},
	}
	t := &Tree{root: root}
	for _, obj := range objects {
		t.insertListing(obj)
	}
	return t
}

func (t *Tree) insertListing(obj ObjectListing) {
	segments := splitPath(obj.FileName)
	if len(segments) == 0 {
		return
	}
	dir := t.root.Directory
	for _, seg := range segments[:len(segments)-1] {
		child, ok := dir.Children[seg]
		if !ok {
			child = &Node{
				Kind: KindDirectory,
				Directory: &Directory{
					Attrs:    Attrs{Mode: 0o40755, Xattrs: map[string][]byte{}},
					Name:     seg,
					Children: map[string]*Node{},
					Atime:    nowSeconds(),
				},
			}
			dir.Children[seg] = child
		}
		if child.Kind != KindDirectory {
			// A file occupies a path segment another object wants as a
			// directory prefix; the listing is inconsistent, skip it.
			return
		}
		dir = child.Directory
	}

	leaf := segments[len(segments)-1]
	if leaf == "" || obj.IsDirectoryEntry {
		return
	}
	uploadTime := float64(obj.UploadTimestamp) / 1000.0
	dir.Children[leaf] = &Node{
		Kind: KindFile,
		File: &File{
			Attrs:    Attrs{Mode: 0o100755, Xattrs: map[string][]byte{}},
			ObjectID: obj.FileID,
			Size:     obj.ContentLength,
			Mtime:    uploadTime,
			Ctime:    uploadTime,
			Atime:    uploadTime,
		},
	}
}

// splitPath strips leading/trailing slashes and splits on "/". The
// empty string denotes the root and splits to zero segments.
func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// Find walks path from the root, failing with zferrors.ErrNotExist if
// any segment is missing.
func (t *Tree) Find(path string) (*Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.findLocked(path)
}

func (t *Tree) findLocked(path string) (*Node, error) {
	segments := splitPath(path)
	node := t.root
	for _, seg := range segments {
		if node.Kind != KindDirectory {
			return nil, zferrors.ErrNotExist
		}
		child, ok := node.Directory.Children[seg]
		if !ok {
			return nil, zferrors.ErrNotExist
		}
		node = child
	}
	return node, nil
}

// Nesting returns every node from the root to path's target, inclusive,
// used by removal operations to locate the parent directory.
func (t *Tree) Nesting(path string) ([]*Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	segments := splitPath(path)
	chain := make([]*Node, 0, len(segments)+1)
	node := t.root
	chain = append(chain, node)
	for _, seg := range segments {
		if node.Kind != KindDirectory {
			return nil, zferrors.ErrNotExist
		}
		child, ok := node.Directory.Children[seg]
		if !ok {
			return nil, zferrors.ErrNotExist
		}
		node = child
		chain = append(chain, node)
	}
	return chain, nil
}

// Exists reports whether path resolves to a node.
func (t *Tree) Exists(path string) bool {
	_, err := t.Find(path)
	return err == nil
}

// Mkdir creates an empty directory at path, failing if the parent does
// not exist or the terminal name is already taken.
func (t *Tree) Mkdir(path string, mode uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	parentPath, name, err := t.splitParent(path)
	if err != nil {
		return err
	}
	parent, err := t.findLocked(parentPath)
	if err != nil {
		return err
	}
	if parent.Kind != KindDirectory {
		return zferrors.ErrNotExist
	}
	if _, taken := parent.Directory.Children[name]; taken {
		return zferrors.ErrExist
	}

	now := nowSeconds()
	parent.Directory.Children[name] = &Node{
		Kind: KindDirectory,
		Directory: &Directory{
			Attrs:    Attrs{Mode: 0o40000 | mode, Xattrs: map[string][]byte{}},
			Name:     name,
			Children: map[string]*Node{},
			Atime:    now,
		},
	}
	return nil
}

// Touch creates an empty File at path with a freshly generated UUID
// object id, failing under the same conditions as Mkdir.
func (t *Tree) Touch(path string, mode uint32) (*File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	parentPath, name, err := t.splitParent(path)
	if err != nil {
		return nil, err
	}
	parent, err := t.findLocked(parentPath)
	if err != nil {
		return nil, err
	}
	if parent.Kind != KindDirectory {
		return nil, zferrors.ErrNotExist
	}
	if _, taken := parent.Directory.Children[name]; taken {
		return nil, zferrors.ErrExist
	}

	now := nowSeconds()
	file := &File{
		Attrs:    Attrs{Mode: 0o100000 | mode, Xattrs: map[string][]byte{}},
		ObjectID: uuid.NewString(),
		Size:     0,
		Mtime:    now,
		Ctime:    now,
		Atime:    now,
	}
	parent.Directory.Children[name] = &Node{Kind: KindFile, File: file}
	return file, nil
}

// Rm removes the terminal node at path from its parent's children. It
// refuses to remove the root.
func (t *Tree) Rm(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	parentPath, name, err := t.splitParent(path)
	if err != nil {
		return err
	}
	parent, err := t.findLocked(parentPath)
	if err != nil {
		return err
	}
	if parent.Kind != KindDirectory {
		return zferrors.ErrNotExist
	}
	if _, ok := parent.Directory.Children[name]; !ok {
		return zferrors.ErrNotExist
	}
	delete(parent.Directory.Children, name)
	return nil
}

// splitParent splits path into its parent directory path and terminal
// name, failing zferrors.ErrInvalid for the root itself.
func (t *Tree) splitParent(path string) (parentPath string, name string, err error) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return "", "", zferrors.ErrInvalid
	}
	name = segments[len(segments)-1]
	parentPath = strings.Join(segments[:len(segments)-1], "/")
	return parentPath, name, nil
}

// Root returns the root node directly, useful for readdir and getattr
// on "/" without going through Find.
func (t *Tree) Root() *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

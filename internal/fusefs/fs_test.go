package fusefs

import (
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"

	"github.com/objectfs/zerofs/internal/tree"
)

func TestSpliceAt_WithinBody(t *testing.T) {
	body := []byte("hello world")
	out := spliceAt(body, []byte("EARTH"), 6)
	assert.Equal(t, "hello EARTH", string(out))
}

func TestSpliceAt_AtEnd(t *testing.T) {
	body := []byte("hello")
	out := spliceAt(body, []byte(" world"), 5)
	assert.Equal(t, "hello world", string(out))
}

func TestSpliceAt_BeyondEnd_NulPads(t *testing.T) {
	body := []byte("ab")
	out := spliceAt(body, []byte("Z"), 4)
	assert.Equal(t, []byte{'a', 'b', 0, 0, 'Z'}, out)
}

func TestSpliceAt_EmptyBody(t *testing.T) {
	out := spliceAt(nil, []byte("hi"), 0)
	assert.Equal(t, "hi", string(out))
}

func TestSetSeconds_SplitsFractional(t *testing.T) {
	var sec uint64
	var nsec uint32
	setSeconds(&sec, &nsec, 1700000000.5)
	assert.Equal(t, uint64(1700000000), sec)
	assert.InDelta(t, 5e8, float64(nsec), 1e6)
}

func TestFillAttr_File(t *testing.T) {
	file := &tree.File{
		Attrs: tree.Attrs{Mode: 0o100644},
		Size:  42,
		Mtime: 100,
		Ctime: 100,
		Atime: 100,
	}
	node := &tree.Node{Kind: tree.KindFile, File: file}
	var out fuse.Attr
	fillAttr(node, 1000, 1000, &out)

	assert.Equal(t, uint32(0o100644), out.Mode)
	assert.Equal(t, uint64(42), out.Size)
	assert.Equal(t, uint32(1), out.Nlink)
	assert.Equal(t, uint32(1000), out.Owner.Uid)
	assert.Equal(t, uint64(100), out.Mtime)
}

func TestFillAttr_Directory_NlinkCountsSubdirs(t *testing.T) {
	dir := &tree.Directory{
		Attrs: tree.Attrs{Mode: 0o40755},
		Children: map[string]*tree.Node{
			"a": {Kind: tree.KindDirectory, Directory: &tree.Directory{}},
			"b": {Kind: tree.KindFile, File: &tree.File{}},
		},
	}
	node := &tree.Node{Kind: tree.KindDirectory, Directory: dir}
	var out fuse.Attr
	fillAttr(node, 0, 0, &out)
	assert.Equal(t, uint32(3), out.Nlink)
}

func TestFillStatfs_FixedGeometry(t *testing.T) {
	var out fuse.StatfsOut
	fillStatfs(Statfs{BlockSize: 4096, TotalBytes: 40960}, &out)
	assert.Equal(t, uint64(10), out.Blocks)
	assert.Equal(t, out.Blocks, out.Bfree)
	assert.Equal(t, out.Blocks, out.Bavail)
	assert.Equal(t, uint32(255), out.NameLen)
}

func TestFillStatfs_DefaultsBlockSize(t *testing.T) {
	var out fuse.StatfsOut
	fillStatfs(Statfs{TotalBytes: 8192}, &out)
	assert.Equal(t, uint32(4096), out.Bsize)
}

package tree

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/zerofs/pkg/zferrors"
)

func listing(name string, id string, size int64) ObjectListing {
	return ObjectListing{FileID: id, FileName: name, ContentLength: size, UploadTimestamp: 1000}
}

func TestBuild_SynthesizesDirectoriesFromPrefixes(t *testing.T) {
	tr := Build([]ObjectListing{
		listing("a/b/c.txt", "id1", 10),
		listing("a/d.txt", "id2", 5),
		listing("top.txt", "id3", 1),
	})

	assert.True(t, tr.Exists("a"))
	assert.True(t, tr.Exists("a/b"))
	assert.True(t, tr.Exists("a/b/c.txt"))
	assert.True(t, tr.Exists("a/d.txt"))
	assert.True(t, tr.Exists("top.txt"))
	assert.True(t, tr.Exists(""))

	node, err := tr.Find("a/b")
	require.NoError(t, err)
	assert.Equal(t, KindDirectory, node.Kind)
}

func TestFind_MissingSegment(t *testing.T) {
	tr := Build(nil)
	_, err := tr.Find("nope")
	assert.ErrorIs(t, err, zferrors.ErrNotExist)
}

func TestMkdir_FailsIfParentMissing(t *testing.T) {
	tr := Build(nil)
	err := tr.Mkdir("a/b", 0o755)
	assert.ErrorIs(t, err, zferrors.ErrNotExist)
}

func TestMkdir_FailsIfNameTaken(t *testing.T) {
	tr := Build(nil)
	require.NoError(t, tr.Mkdir("a", 0o755))
	err := tr.Mkdir("a", 0o755)
	assert.ErrorIs(t, err, zferrors.ErrExist)
}

func TestTouch_CreatesLocalOnlyFile(t *testing.T) {
	tr := Build(nil)
	file, err := tr.Touch("f", 0o644)
	require.NoError(t, err)
	_, parseErr := uuid.Parse(file.ObjectID)
	assert.NoError(t, parseErr)
	assert.True(t, file.IsLocalOnly())
	assert.Equal(t, int64(0), file.Size)
}

func TestFile_IsLocalOnly_FalseForServerID(t *testing.T) {
	f := &File{ObjectID: "4_z1234567890abcdef"}
	assert.False(t, f.IsLocalOnly())
}

func TestRm_RemovesLeaf(t *testing.T) {
	tr := Build(nil)
	require.NoError(t, tr.Mkdir("a", 0o755))
	require.NoError(t, tr.Rm("a"))
	assert.False(t, tr.Exists("a"))
}

func TestRm_RefusesRoot(t *testing.T) {
	tr := Build(nil)
	err := tr.Rm("")
	assert.ErrorIs(t, err, zferrors.ErrInvalid)
}

func TestDirectory_Nlink_CountsSubdirectoriesOnly(t *testing.T) {
	tr := Build(nil)
	require.NoError(t, tr.Mkdir("dir1", 0o755))
	require.NoError(t, tr.Mkdir("dir2", 0o755))
	_, err := tr.Touch("file1", 0o644)
	require.NoError(t, err)

	root := tr.Root()
	assert.Equal(t, uint32(4), root.Directory.Nlink()) // 2 + 2 subdirs
}

func TestDirectory_Mtime_IsMaxOfChildren(t *testing.T) {
	tr := Build([]ObjectListing{
		{FileID: "id1", FileName: "old.txt", ContentLength: 1, UploadTimestamp: 1000},
		{FileID: "id2", FileName: "new.txt", ContentLength: 1, UploadTimestamp: 5000},
	})
	root := tr.Root()
	assert.Equal(t, 5.0, root.Directory.Mtime())
}

func TestChmod_PreservesFileTypeBits(t *testing.T) {
	tr := Build(nil)
	file, err := tr.Touch("f", 0o644)
	require.NoError(t, err)
	node, err := tr.Find("f")
	require.NoError(t, err)

	Chmod(node, 0o600)
	assert.Equal(t, uint32(0o100600), file.Mode)
}

func TestXattr_MissingReturnsNotOK(t *testing.T) {
	tr := Build(nil)
	_, err := tr.Touch("f", 0o644)
	require.NoError(t, err)
	node, err := tr.Find("f")
	require.NoError(t, err)

	_, ok := GetXattr(node, "user.test")
	assert.False(t, ok)

	SetXattr(node, "user.test", []byte("value"))
	val, ok := GetXattr(node, "user.test")
	require.True(t, ok)
	assert.Equal(t, "value", string(val))

	RemoveXattr(node, "user.test")
	_, ok = GetXattr(node, "user.test")
	assert.False(t, ok)
}

func TestPathSemantics_StripsSlashes(t *testing.T) {
	tr := Build([]ObjectListing{listing("a/b.txt", "id1", 1)})
	assert.True(t, tr.Exists("/a/b.txt/"))
	assert.True(t, tr.Exists("a/b.txt"))
}

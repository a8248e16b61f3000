package cache

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/zerofs/pkg/zferrors"
)

func newTestCache(t *testing.T, quota int64) *Cache {
	t.Helper()
	dir := t.TempDir()
	c, err := New(dir, quota, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestNew_FailsOnMissingDir(t *testing.T) {
	_, err := New("/no/such/dir/zerofs-test", 10, zerolog.Nop())
	require.Error(t, err)
}

func TestNew_FailsOnNonPositiveQuota(t *testing.T) {
	_, err := New(t.TempDir(), 0, zerolog.Nop())
	require.Error(t, err)
}

func TestAddAndGet_RoundTrip(t *testing.T) {
	c := newTestCache(t, 1024)
	require.NoError(t, c.Add("a", []byte("hello")))
	assert.True(t, c.Contains("a"))

	data, err := c.Get("a", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestGet_MissingID(t *testing.T) {
	c := newTestCache(t, 1024)
	_, err := c.Get("missing", 0, -1)
	assert.True(t, zferrors.IsNotFound(err))
}

func TestUpdate_MissingID(t *testing.T) {
	c := newTestCache(t, 1024)
	_, err := c.Update("missing", []byte("x"), 0)
	assert.True(t, zferrors.IsNotFound(err))
}

func TestUpdate_OverwritesAtOffset(t *testing.T) {
	c := newTestCache(t, 1024)
	require.NoError(t, c.Add("a", []byte("hello world")))
	n, err := c.Update("a", []byte("EARTH"), 6)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	data, err := c.Get("a", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, "hello EARTH", string(data))
}

func TestDelete_RemovesEntry(t *testing.T) {
	c := newTestCache(t, 1024)
	require.NoError(t, c.Add("a", []byte("hello")))
	require.NoError(t, c.Delete("a"))
	assert.False(t, c.Contains("a"))
	_, err := os.Stat(c.path("a"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileSize(t *testing.T) {
	c := newTestCache(t, 1024)
	require.NoError(t, c.Add("a", []byte("hello")))
	size, err := c.FileSize("a")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)
}

// Scenario 1 from the spec: quota 10 bytes, add three 4-byte entries,
// the oldest ("a") is evicted and used settles at 8.
func TestEviction_LRUOrder(t *testing.T) {
	c := newTestCache(t, 10)
	require.NoError(t, c.Add("a", []byte("aaaa")))
	require.NoError(t, c.Add("b", []byte("bbbb")))
	require.NoError(t, c.Add("c", []byte("cccc")))

	assert.False(t, c.Contains("a"))
	assert.True(t, c.Contains("b"))
	assert.True(t, c.Contains("c"))
	assert.Equal(t, int64(8), c.Used())
}

// Scenario 2 from the spec: touching "a" via Get protects it from
// eviction in favor of "b".
func TestEviction_TouchOrderRespectsGet(t *testing.T) {
	c := newTestCache(t, 10)
	require.NoError(t, c.Add("a", []byte("aaaa")))
	require.NoError(t, c.Add("b", []byte("bbbb")))
	_, err := c.Get("a", 0, -1)
	require.NoError(t, err)
	require.NoError(t, c.Add("c", []byte("cccc")))

	assert.True(t, c.Contains("a"))
	assert.False(t, c.Contains("b"))
	assert.True(t, c.Contains("c"))
}

func TestNew_RecoversIndexFromDisk(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/abc123", []byte("preexisting"), 0o600))

	c, err := New(dir, 1024, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, c.Contains("abc123"))
	size, err := c.FileSize("abc123")
	require.NoError(t, err)
	assert.Equal(t, int64(len("preexisting")), size)
}

// A pinned entry (a pending upload in flight) survives eviction even
// when it is the least-recently-used; eviction falls through to the
// next unpinned candidate instead.
func TestEviction_SkipsPinnedEntries(t *testing.T) {
	c := newTestCache(t, 10)
	require.NoError(t, c.Add("a", []byte("aaaa")))
	c.Pin("a")
	require.NoError(t, c.Add("b", []byte("bbbb")))
	require.NoError(t, c.Add("c", []byte("cccc")))

	assert.True(t, c.Contains("a"))
	assert.False(t, c.Contains("b"))
	assert.True(t, c.Contains("c"))
}

// When every entry other than the one just written is pinned, Add
// keeps the new body and reports zferrors.ErrNoSpace rather than
// silently exceeding quota.
func TestEviction_ReturnsErrNoSpaceWhenAllPinned(t *testing.T) {
	c := newTestCache(t, 6)
	require.NoError(t, c.Add("a", []byte("aaaa")))
	c.Pin("a")
	err := c.Add("b", []byte("bbbb"))
	assert.ErrorIs(t, err, zferrors.ErrNoSpace)
	assert.True(t, c.Contains("a"))
	assert.True(t, c.Contains("b"))
}

// Unpin makes a previously-protected entry evictable again.
func TestUnpin_RestoresEvictability(t *testing.T) {
	c := newTestCache(t, 10)
	require.NoError(t, c.Add("a", []byte("aaaa")))
	c.Pin("a")
	c.Unpin("a")
	require.NoError(t, c.Add("b", []byte("bbbb")))
	require.NoError(t, c.Add("c", []byte("cccc")))

	assert.False(t, c.Contains("a"))
}

func TestQuotaInvariant_NeverExceeded(t *testing.T) {
	c := newTestCache(t, 20)
	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		require.NoError(t, c.Add(id, []byte("12345")))
		assert.LessOrEqual(t, c.Used(), int64(20))
	}
}

package merklebuild

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sha1Empty = "da39a3ee5e6b4b0d3255bfef95601890afd80709"
	sha1Hello = "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"
)

// writeTree creates files below root; keys are slash-separated relative paths
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for relPath, content := range files {
		fullPath := filepath.Join(root, filepath.FromSlash(relPath))
		require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0755))
		require.NoError(t, os.WriteFile(fullPath, []byte(content), 0644))
	}
}

// entryTable computes the expected directory digest from name/digest pairs
func entryTable(pairs ...string) string {
	h := sha1.New()
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Write([]byte(pairs[i] + "|" + pairs[i+1] + "|"))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func hashOf(t *testing.T, path string, opts Options) string {
	t.Helper()
	digest, err := CalculateHash(context.Background(), path, opts)
	require.NoError(t, err)
	return digest
}

func TestHashFileContent(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"hello.txt": "hello",
		"empty.txt": "",
	})

	assert.Equal(t, sha1Hello, hashOf(t, filepath.Join(dir, "hello.txt"), Options{}))
	assert.Equal(t, sha1Empty, hashOf(t, filepath.Join(dir, "empty.txt"), Options{}))
}

func TestHashFileSmallBuffer(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"hello.txt": "hello"})

	digest := hashOf(t, filepath.Join(dir, "hello.txt"), Options{BufferSize: 2})
	assert.Equal(t, sha1Hello, digest)
}

func TestHashDirectoryEntryTable(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		assert.Equal(t, sha1Empty, hashOf(t, t.TempDir(), Options{}))
	})

	t.Run("Flat", func(t *testing.T) {
		dir := t.TempDir()
		writeTree(t, dir, map[string]string{
			"b.txt": "",
			"a.txt": "hello",
		})
		expected := entryTable("a.txt", sha1Hello, "b.txt", sha1Empty)
		assert.Equal(t, expected, hashOf(t, dir, Options{}))
	})

	t.Run("Nested", func(t *testing.T) {
		dir := t.TempDir()
		writeTree(t, dir, map[string]string{
			"sub/a.txt": "hello",
			"z.txt":     "",
		})
		sub := entryTable("a.txt", sha1Hello)
		expected := entryTable("sub", sub, "z.txt", sha1Empty)
		assert.Equal(t, expected, hashOf(t, dir, Options{}))
	})
}

func TestHashDeterminism(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"src/main.go":           "package main",
		"src/lib/util.go":       "package lib",
		"README.md":             "readme",
		"assets/logo.svg":       "<svg/>",
		"assets/empty/.gitkeep": "",
	})

	first := hashOf(t, dir, Options{})
	second := hashOf(t, dir, Options{})
	assert.Equal(t, first, second)

	hasher := NewHasher(Options{})
	third, err := hasher.Hash(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestHashCreationOrderIndependence(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()

	for _, name := range []string{"one", "two", "three"} {
		require.NoError(t, os.WriteFile(filepath.Join(dirA, name), []byte(name), 0644))
	}
	for _, name := range []string{"three", "one", "two"} {
		require.NoError(t, os.WriteFile(filepath.Join(dirB, name), []byte(name), 0644))
	}

	assert.Equal(t, hashOf(t, dirA, Options{}), hashOf(t, dirB, Options{}))
}

func TestHashSensitivity(t *testing.T) {
	base := map[string]string{
		"a.txt":     "alpha",
		"sub/b.txt": "beta",
	}

	baseDir := t.TempDir()
	writeTree(t, baseDir, base)
	baseline := hashOf(t, baseDir, Options{})

	tests := []struct {
		name   string
		mutate func(t *testing.T, dir string)
	}{
		{"ContentChange", func(t *testing.T, dir string) {
			require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("BETA"), 0644))
		}},
		{"Rename", func(t *testing.T, dir string) {
			require.NoError(t, os.Rename(filepath.Join(dir, "a.txt"), filepath.Join(dir, "c.txt")))
		}},
		{"AddEntry", func(t *testing.T, dir string) {
			require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), nil, 0644))
		}},
		{"AddEmptyDirectory", func(t *testing.T, dir string) {
			require.NoError(t, os.Mkdir(filepath.Join(dir, "empty"), 0755))
		}},
		{"RemoveEntry", func(t *testing.T, dir string) {
			require.NoError(t, os.Remove(filepath.Join(dir, "a.txt")))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeTree(t, dir, base)
			require.Equal(t, baseline, hashOf(t, dir, Options{}))

			tt.mutate(t, dir)
			assert.NotEqual(t, baseline, hashOf(t, dir, Options{}))
		})
	}
}

func TestHashIgnoreAndHidden(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"index.js":              "code",
		"node_modules/dep/a.js": "dep",
		".cache/blob":           "cached",
		"lib/node_modules/x.js": "nested",
		"lib/.hidden":           "secret",
		"lib/visible.js":        "visible",
	})

	opts := Options{Ignore: []string{"node_modules"}}
	baseline := hashOf(t, dir, opts)

	expected := entryTable(
		"index.js", HashBytes([]byte("code")),
		"lib", entryTable("visible.js", HashBytes([]byte("visible"))),
	)
	assert.Equal(t, expected, baseline)

	// Excluded entries do not influence the digest whatever their content.
	writeTree(t, dir, map[string]string{
		"node_modules/dep/a.js": "changed",
		".cache/blob":           "changed",
		"lib/node_modules/x.js": "changed",
		"lib/.hidden":           "changed",
	})
	assert.Equal(t, baseline, hashOf(t, dir, opts))

	t.Run("IncludeHidden", func(t *testing.T) {
		withHidden := hashOf(t, dir, Options{Ignore: []string{"node_modules"}, IncludeHidden: true})
		assert.NotEqual(t, baseline, withHidden)
	})

	t.Run("ExactNameOnly", func(t *testing.T) {
		// A path or glob is never matched against entry names.
		assert.NotEqual(t, baseline, hashOf(t, dir, Options{Ignore: []string{"lib/node_modules", "node_*"}}))
	})
}

func TestHashRootNameIsNotFiltered(t *testing.T) {
	parent := t.TempDir()
	hidden := filepath.Join(parent, ".config")
	writeTree(t, hidden, map[string]string{"a.txt": "hello"})

	assert.Equal(t, entryTable("a.txt", sha1Hello), hashOf(t, hidden, Options{}))
}

func TestHashSymlinkCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	writeTree(t, a, map[string]string{"file.txt": "x"})
	require.NoError(t, os.Symlink(a, filepath.Join(a, "loop")))

	_, err := CalculateHash(context.Background(), a, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSymlinkLoop))

	var cycleErr *CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.Equal(t, a, cycleErr.Path)
	assert.Contains(t, err.Error(), a)
}

func TestHashRelativeSymlinkCycle(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"a/b/file.txt": "x"})
	require.NoError(t, os.Symlink("..", filepath.Join(dir, "a", "b", "up")))

	_, err := CalculateHash(context.Background(), filepath.Join(dir, "a"), Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSymlinkLoop))
}

func TestHashSharedDirectoryHashedOnce(t *testing.T) {
	dir := t.TempDir()
	shared := filepath.Join(dir, "shared")
	root := filepath.Join(dir, "root")
	writeTree(t, shared, map[string]string{"lib.js": "shared"})
	writeTree(t, root, map[string]string{"own.js": "own"})
	require.NoError(t, os.Symlink(shared, filepath.Join(root, "link1")))
	require.NoError(t, os.Symlink("../shared", filepath.Join(root, "link2")))

	digest, stats, err := NewHasher(Options{}).HashWithStats(context.Background(), root)
	require.NoError(t, err)

	sharedDigest := entryTable("lib.js", HashBytes([]byte("shared")))
	expected := entryTable(
		"link1", sharedDigest,
		"link2", sharedDigest,
		"own.js", HashBytes([]byte("own")),
	)
	assert.Equal(t, expected, digest)

	assert.Equal(t, 2, stats.DirectoriesHashed, "root and shared")
	assert.Equal(t, 1, stats.CacheHits, "second link served from cache")
	assert.Equal(t, 2, stats.FilesHashed, "shared/lib.js read once")
	assert.Equal(t, 0, stats.PersistentWrites)
}

func TestHashSymlinkToFile(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"target.txt": "hello"})
	link := filepath.Join(dir, "link.txt")
	require.NoError(t, os.Symlink("target.txt", link))

	assert.Equal(t, sha1Hello, hashOf(t, link, Options{}))
}

func TestHashRelativeAndAbsolutePathsAgree(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"x/y.txt": "y"})

	t.Chdir(dir)
	assert.Equal(t, hashOf(t, filepath.Join(dir, "x"), Options{}), hashOf(t, "x", Options{}))
	assert.Equal(t, hashOf(t, filepath.Join(dir, "x"), Options{}), hashOf(t, "./x/../x", Options{}))
}

func TestHashPersistentCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cacheDir := t.TempDir()
	root := filepath.Join(dir, "root")
	writeTree(t, root, map[string]string{
		"a.txt":     "alpha",
		"sub/b.txt": "beta",
	})

	opts := Options{CacheDir: cacheDir}
	first, stats, err := NewHasher(opts).HashWithStats(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PersistentWrites)
	assert.Equal(t, 2, stats.FilesHashed)

	for _, path := range []string{root, filepath.Join(root, "sub")} {
		record, ok, err := AtomicRead(filepath.Join(cacheDir, SafeFileName(path)))
		require.NoError(t, err)
		require.True(t, ok, "record for %s", path)
		assert.Len(t, record, DigestHexLength)
	}

	t.Run("FreshProcessReadsRecord", func(t *testing.T) {
		second, stats, err := NewHasher(opts).HashWithStats(context.Background(), root)
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, 1, stats.PersistentHits)
		assert.Equal(t, 0, stats.FilesHashed)
		assert.Equal(t, 0, stats.DirectoriesHashed)
	})

	t.Run("SubdirectoryRecordsSkipWalk", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(cacheDir, SafeFileName(root))))

		third, stats, err := NewHasher(opts).HashWithStats(context.Background(), root)
		require.NoError(t, err)
		assert.Equal(t, first, third)
		assert.Equal(t, 1, stats.PersistentHits, "sub served from its record")
		assert.Equal(t, 1, stats.FilesHashed, "leaf files are always read")
		assert.Equal(t, 1, stats.DirectoriesHashed)
	})

	t.Run("RecordsAreNotInvalidatedByContent", func(t *testing.T) {
		writeTree(t, root, map[string]string{"sub/b.txt": "changed"})

		cached := hashOf(t, root, opts)
		assert.Equal(t, first, cached)
		assert.NotEqual(t, first, hashOf(t, root, Options{}))
	})
}

func TestHashInMemoryCacheIsPerCall(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"a.txt": "alpha"})

	hasher := NewHasher(Options{})
	before, err := hasher.Hash(context.Background(), dir)
	require.NoError(t, err)

	writeTree(t, dir, map[string]string{"a.txt": "changed"})
	after, err := hasher.Hash(context.Background(), dir)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestHashWorkersDoNotChangeDigest(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{}
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		files[name+".txt"] = name
		files["sub/"+name+".txt"] = name + name
	}
	writeTree(t, dir, files)

	sequential := hashOf(t, dir, Options{Workers: 1})
	for _, workers := range []int{2, 4, 16} {
		assert.Equal(t, sequential, hashOf(t, dir, Options{Workers: workers}), "workers=%d", workers)
	}
}

func TestHashErrors(t *testing.T) {
	t.Run("MissingRoot", func(t *testing.T) {
		_, err := CalculateHash(context.Background(), filepath.Join(t.TempDir(), "missing"), Options{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})

	t.Run("DanglingSymlink", func(t *testing.T) {
		dir := t.TempDir()
		writeTree(t, dir, map[string]string{"a.txt": "a"})
		require.NoError(t, os.Symlink("nowhere", filepath.Join(dir, "broken")))

		_, err := CalculateHash(context.Background(), dir, Options{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})

	t.Run("UnreadableFile", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("permission bits are not enforced for root")
		}
		dir := t.TempDir()
		writeTree(t, dir, map[string]string{"secret.txt": "x", "open.txt": "y"})
		require.NoError(t, os.Chmod(filepath.Join(dir, "secret.txt"), 0))

		_, err := CalculateHash(context.Background(), dir, Options{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, os.ErrPermission))
	})

	t.Run("Cancelled", func(t *testing.T) {
		dir := t.TempDir()
		writeTree(t, dir, map[string]string{"sub/a.txt": "a"})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := CalculateHash(ctx, dir, Options{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestHashSmallFilesUseFittedBuffers(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{}
	for i := 0; i < 200; i++ {
		files[fmt.Sprintf("f%03d", i)] = "x"
	}
	writeTree(t, dir, files)

	// Warm up, then measure a pass with the default 2MB buffer size.
	hashOf(t, dir, Options{})
	runtime.GC()

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	digest, err := CalculateHash(context.Background(), dir, Options{})
	runtime.ReadMemStats(&after)
	if err != nil {
		t.Fatalf("CalculateHash failed: %v", err)
	}
	if digest == "" {
		t.Fatal("expected a digest")
	}

	allocated := after.TotalAlloc - before.TotalAlloc
	if allocated > 16<<20 {
		t.Errorf("hashing 200 one-byte files allocated %d MiB, expected well under one buffer per file", allocated>>20)
	}
}

func TestHashPooledBuffers(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{}
	for i := 0; i < 40; i++ {
		files[fmt.Sprintf("f%02d", i)] = strings.Repeat(fmt.Sprintf("%d", i), 10+i)
	}
	writeTree(t, dir, files)

	expected := hashOf(t, dir, Options{Workers: 1})
	for _, bufferSize := range []int{1, 3, 16} {
		got := hashOf(t, dir, Options{Workers: 8, BufferSize: bufferSize})
		if got != expected {
			t.Errorf("BufferSize=%d: got %s, want %s", bufferSize, got, expected)
		}
	}

	for name, content := range files {
		digest, err := HashFile(context.Background(), filepath.Join(dir, name), 4)
		if err != nil {
			t.Fatalf("HashFile(%s) failed: %v", name, err)
		}
		if want := HashBytes([]byte(content)); digest != want {
			t.Errorf("HashFile(%s) = %s, want %s", name, digest, want)
		}
	}
}

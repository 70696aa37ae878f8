package merklebuild

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Options controls a hashing pass
type Options struct {
	Ignore        []string // Entry names to exclude, exact match
	IncludeHidden bool     // Hash entries whose name starts with "."
	CacheDir      string   // Persistent record directory, "" for memory only
	Workers       int      // Concurrent leaf file hashes (default: 4)
	BufferSize    int      // File read buffer in bytes (default: 2MB)
}

// Stats counts the work done by one hashing pass
type Stats struct {
	DirectoriesHashed int // Directories whose entry table was computed
	FilesHashed       int // Files whose content was read
	CacheHits         int // Directory lookups answered by the cache
	PersistentHits    int // Cache hits answered by a persistent record
	PersistentWrites  int // Persistent records written
}

// Hasher computes Merkle digests for files and directory trees.
// Every Hash call uses a fresh in-memory cache, so one Hasher may be used
// from several goroutines.
type Hasher struct {
	opts   Options
	filter *EntryFilter
}

// NewHasher creates a hasher with the given options
func NewHasher(opts Options) *Hasher {
	if opts.Workers <= 0 {
		opts.Workers = DefaultHashWorkers
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 2 * 1024 * 1024
	}
	return &Hasher{
		opts:   opts,
		filter: NewEntryFilter(opts.Ignore, opts.IncludeHidden),
	}
}

// CalculateHash calculates the digest of the given file or directory
func CalculateHash(ctx context.Context, fileOrDirectory string, opts Options) (string, error) {
	return NewHasher(opts).Hash(ctx, fileOrDirectory)
}

// Options returns the effective options
func (h *Hasher) Options() Options {
	return h.opts
}

// Hash calculates the digest of the given file or directory
func (h *Hasher) Hash(ctx context.Context, fileOrDirectory string) (string, error) {
	digest, _, err := h.HashWithStats(ctx, fileOrDirectory)
	return digest, err
}

// HashWithStats calculates the digest and reports how much work it took.
// Stats are returned even when the calculation fails.
func (h *Hasher) HashWithStats(ctx context.Context, fileOrDirectory string) (string, Stats, error) {
	defer VerboseEnter()()

	c := &calculation{
		filter:     h.filter,
		cache:      NewHashCache(h.opts.CacheDir),
		sem:        semaphore.NewWeighted(int64(h.opts.Workers)),
		bufferSize: h.opts.BufferSize,
		buffers:    newBufferPool(h.opts.BufferSize),
	}

	digest, err := c.calculate(ctx, fileOrDirectory)
	stats := c.stats()
	if err != nil {
		return "", stats, err
	}

	VerboseLog(1, "%s: %s (%d directories, %d files, %d cache hits)",
		fileOrDirectory, digest, stats.DirectoriesHashed, stats.FilesHashed, stats.CacheHits)
	return digest, stats, nil
}

// calculation is the state of a single hashing pass. The cache is only
// touched from the goroutine running calculate; leaf file hashes may run
// on other goroutines.
type calculation struct {
	filter     *EntryFilter
	cache      *HashCache
	sem        *semaphore.Weighted
	bufferSize int
	buffers    *sync.Pool

	directoriesHashed int
	cacheHits         int
	filesHashed       atomic.Int64
}

func (c *calculation) stats() Stats {
	return Stats{
		DirectoriesHashed: c.directoriesHashed,
		FilesHashed:       int(c.filesHashed.Load()),
		CacheHits:         c.cacheHits,
		PersistentHits:    c.cache.persistentHits,
		PersistentWrites:  c.cache.persistentWrites,
	}
}

func (c *calculation) calculate(ctx context.Context, fileName string) (string, error) {
	fullPath, info, err := resolveEntry(fileName)
	if err != nil {
		return "", err
	}
	return c.calculateResolved(ctx, fullPath, info)
}

func (c *calculation) calculateResolved(ctx context.Context, fullPath string, info os.FileInfo) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("hash calculation of %s cancelled: %w", fullPath, err)
	}

	switch {
	case info.Mode().IsRegular():
		// Files are never cached: a file is not expected to be reached
		// twice in one pass.
		return c.hashFile(ctx, fullPath)
	case info.IsDir():
		return c.hashDirectory(ctx, fullPath)
	default:
		return "", fmt.Errorf("cannot hash %s: unsupported file type %s", fullPath, info.Mode().Type())
	}
}

func (c *calculation) hashFile(ctx context.Context, fullPath string) (string, error) {
	digest, err := hashFile(ctx, fullPath, c.bufferSize, c.buffers)
	if err != nil {
		return "", err
	}
	c.filesHashed.Add(1)
	return digest, nil
}

// hashDirectory hashes the entry table of a directory. Subdirectories are
// recursed into on this goroutine in entry order; regular files are hashed
// concurrently and their digests slotted back by entry index.
func (c *calculation) hashDirectory(ctx context.Context, dirPath string) (string, error) {
	cached, ok, err := c.cache.Get(dirPath)
	if err != nil {
		return "", err
	}
	if ok {
		c.cacheHits++
		DebugLog("cache", "hit for %s", dirPath)
		return cached, nil
	}
	c.cache.MarkCalculating(dirPath)

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %s: %w", dirPath, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if c.filter.ShouldIgnore(entry.Name()) {
			DebugLog("walk", "skipping %s", filepath.Join(dirPath, entry.Name()))
			continue
		}
		names = append(names, entry.Name())
	}

	digests := make([]string, len(names))
	g, gctx := errgroup.WithContext(ctx)

	abort := func(err error) (string, error) {
		if werr := g.Wait(); werr != nil {
			return "", werr
		}
		return "", err
	}

	for i, name := range names {
		fullPath, info, err := resolveEntry(filepath.Join(dirPath, name))
		if err != nil {
			return abort(err)
		}

		if info.Mode().IsRegular() {
			if err := c.sem.Acquire(gctx, 1); err != nil {
				return abort(fmt.Errorf("hash calculation of %s cancelled: %w", dirPath, err))
			}
			g.Go(func() error {
				defer c.sem.Release(1)
				digest, err := c.hashFile(gctx, fullPath)
				if err != nil {
					return err
				}
				digests[i] = digest
				return nil
			})
			continue
		}

		digest, err := c.calculateResolved(gctx, fullPath, info)
		if err != nil {
			return abort(err)
		}
		digests[i] = digest
	}

	if err := g.Wait(); err != nil {
		return "", err
	}

	hasher := newHash()
	for i, name := range names {
		hasher.Write([]byte(name))
		hasher.Write([]byte(EntrySeparator))
		hasher.Write([]byte(digests[i]))
		hasher.Write([]byte(EntrySeparator))
	}
	digest := hex.EncodeToString(hasher.Sum(nil))

	if err := c.cache.Store(dirPath, digest); err != nil {
		return "", err
	}
	c.directoriesHashed++
	DebugLog("walk", "%s: %s (%d entries)", dirPath, digest, len(names))
	return digest, nil
}

// resolveEntry returns the Path Key of fileName and the stat of what it
// points to. Only the final path segment is resolved if it is a symlink;
// links earlier in the path are left alone.
func resolveEntry(fileName string) (string, os.FileInfo, error) {
	fullPath, err := absolutePath(fileName)
	if err != nil {
		return "", nil, err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		return "", nil, fmt.Errorf("failed to stat %s: %w", fullPath, err)
	}
	return fullPath, info, nil
}

func absolutePath(fileName string) (string, error) {
	info, err := os.Lstat(fileName)
	if err != nil {
		return "", fmt.Errorf("failed to lstat %s: %w", fileName, err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return filepath.Abs(fileName)
	}

	link, err := os.Readlink(fileName)
	if err != nil {
		return "", fmt.Errorf("failed to read symlink %s: %w", fileName, err)
	}
	if !filepath.IsAbs(link) {
		link = filepath.Join(filepath.Dir(fileName), link)
	}
	return filepath.Abs(link)
}

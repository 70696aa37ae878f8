// Package merklebuild computes a single deterministic content fingerprint
// (a "Merkle hash") for a file or directory tree and uses it to decide whether
// a build input changed since the last successful build.
//
// # Core API
//
// Hash a file or directory:
//
//	digest, err := merklebuild.CalculateHash(ctx, "packages/app", merklebuild.Options{
//		Ignore: []string{"node_modules"},
//	})
//
// A file hashes to the SHA-1 of its content. A directory hashes to the SHA-1
// of its entry table: for each retained entry, sorted by name,
// the entry name, a "|" separator, the entry digest and another "|".
//
// Directories reached more than once through symlinks are hashed once per
// call. A symlink that re-enters a directory still being hashed fails with a
// *CycleError.
//
// # Persistent cache
//
// When Options.CacheDir is set, every directory digest is mirrored to a flat
// record file in that directory, and later calls reuse those records instead
// of walking the directory again. Records are keyed by absolute path only and
// are never invalidated by this package; the owner of the cache directory
// controls its lifetime.
//
// # Change detection
//
//	cd := merklebuild.NewChangeDetector("packages/app", merklebuild.ChangeDetectorOptions{})
//	changed, err := cd.IsChanged(ctx)
//	...
//	digest, err := cd.MarkClean(ctx)
//
// The last clean digest lives in a marker file (".LAST_BUILD" by default)
// written with AtomicWrite, so a reader never sees a partial marker.
//
// # Configuration
//
// Enable debug output:
//
//	merklebuild.SetDebugFlags("cache,walk")
//	merklebuild.SetVerboseLevel(2)
package merklebuild

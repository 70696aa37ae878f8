package merklebuild

import (
	"context"
	"path/filepath"
	"strings"
)

// ChangeDetectorOptions extends Options with the marker file name
type ChangeDetectorOptions struct {
	Options
	MarkerFile string // Marker file name inside the directory (default: .LAST_BUILD)
}

// ChangeDetector compares the current digest of a directory with the digest
// recorded by the last MarkClean
type ChangeDetector struct {
	directory      string
	markerFileName string
	hasher         *Hasher
}

// NewChangeDetector creates a change detector for directory. The marker file
// is always excluded from the directory hash.
func NewChangeDetector(directory string, options ChangeDetectorOptions) *ChangeDetector {
	markerFile := options.MarkerFile
	if markerFile == "" {
		markerFile = DefaultMarkerFile
	}

	hashOptions := options.Options
	hashOptions.Ignore = append(append([]string(nil), hashOptions.Ignore...), markerFile)

	return &ChangeDetector{
		directory:      directory,
		markerFileName: filepath.Join(directory, markerFile),
		hasher:         NewHasher(hashOptions),
	}
}

// Directory returns the watched directory
func (cd *ChangeDetector) Directory() string {
	return cd.directory
}

// MarkerPath returns the location of the marker file
func (cd *ChangeDetector) MarkerPath() string {
	return cd.markerFileName
}

// Hasher returns the hasher used for the directory
func (cd *ChangeDetector) Hasher() *Hasher {
	return cd.hasher
}

// LastDigest returns the digest stored by the last MarkClean.
// ok is false when the directory was never marked clean.
func (cd *ChangeDetector) LastDigest() (digest string, ok bool, err error) {
	marker, ok, err := AtomicRead(cd.markerFileName)
	if err != nil || !ok {
		return "", false, err
	}
	return strings.TrimSpace(marker), true, nil
}

// CurrentDigest calculates the digest of the directory as it is now
func (cd *ChangeDetector) CurrentDigest(ctx context.Context) (string, error) {
	return cd.hasher.Hash(ctx, cd.directory)
}

// IsChanged returns whether the directory hash changed since the last
// MarkClean. A directory without a marker is always changed. Errors mean the
// state is unknown, never that the directory is unchanged.
func (cd *ChangeDetector) IsChanged(ctx context.Context) (bool, error) {
	marker, ok, err := cd.LastDigest()
	if err != nil {
		return false, err
	}
	if !ok {
		VerboseLog(1, "%s: no marker, treating as changed", cd.directory)
		return true, nil
	}

	actual, err := cd.CurrentDigest(ctx)
	if err != nil {
		return false, err
	}

	changed := marker != actual
	VerboseLog(2, "%s: marker=%s actual=%s changed=%v", cd.directory, marker, actual, changed)
	return changed, nil
}

// MarkClean records the current digest as the marker and returns it
func (cd *ChangeDetector) MarkClean(ctx context.Context) (string, error) {
	digest, err := cd.CurrentDigest(ctx)
	if err != nil {
		return "", err
	}
	if err := AtomicWrite(cd.markerFileName, digest); err != nil {
		return "", err
	}
	VerboseLog(1, "%s: marked clean at %s", cd.directory, digest)
	return digest, nil
}

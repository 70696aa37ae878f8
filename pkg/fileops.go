package merklebuild

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/vectorio"
	"golang.org/x/sys/unix"
)

// AtomicRead returns the full content of fileName.
// A missing file is reported as ok == false with a nil error.
func AtomicRead(fileName string) (content string, ok bool, err error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read %s: %w", fileName, err)
	}
	return string(data), true, nil
}

// AtomicWrite replaces the content of fileName so that readers see either the
// old or the new content in full. The content is written to a uniquely named
// temp file next to fileName which is then renamed over it.
func AtomicWrite(fileName string, contents string) error {
	dir := filepath.Dir(fileName)

	tempPath, err := tempFileName(fileName)
	if err != nil {
		return err
	}

	file, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", fileName, err)
	}

	cleanup := func() {
		file.Close()
		os.Remove(tempPath)
	}

	if err := writeFull(file, []byte(contents)); err != nil {
		cleanup()
		return fmt.Errorf("failed to write temp file %s: %w", tempPath, err)
	}

	if err := file.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync temp file %s: %w", tempPath, err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file %s: %w", tempPath, err)
	}

	if err := os.Rename(tempPath, fileName); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename %s to %s: %w", tempPath, fileName, err)
	}

	if err := syncDir(dir); err != nil {
		return err
	}

	DebugLog("fileops", "atomically wrote %d bytes to %s", len(contents), fileName)
	return nil
}

// tempFileName returns the target name with a random hex suffix
func tempFileName(fileName string) (string, error) {
	var suffix [8]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return "", fmt.Errorf("failed to generate temp file suffix: %w", err)
	}
	return filepath.Join(filepath.Dir(fileName),
		filepath.Base(fileName)+"."+hex.EncodeToString(suffix[:])), nil
}

// writeFull writes data with writev, retrying on short writes
func writeFull(file *os.File, data []byte) error {
	for len(data) > 0 {
		var iov syscall.Iovec
		iov.Base = &data[0]
		iov.SetLen(len(data))

		nw, err := vectorio.WritevRaw(file.Fd(), []syscall.Iovec{iov})
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return err
		}
		if nw <= 0 {
			return fmt.Errorf("writev made no progress")
		}
		data = data[nw:]
	}
	return nil
}

// syncDir flushes the directory entry so that a completed rename survives a crash
func syncDir(dir string) error {
	fd, err := unix.Open(dir, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("failed to open directory %s for sync: %w", dir, err)
	}
	defer unix.Close(fd)

	if err := unix.Fsync(fd); err != nil {
		// Some filesystems refuse fsync on directories.
		if errors.Is(err, unix.EINVAL) {
			return nil
		}
		return fmt.Errorf("failed to sync directory %s: %w", dir, err)
	}
	return nil
}

package merklebuild

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"sync"
)

// newHash returns the digest function used for files, entry tables and record names
func newHash() hash.Hash {
	return sha1.New()
}

// HashBytes returns the hex digest of data
func HashBytes(data []byte) string {
	hasher := newHash()
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))
}

// HashFile calculates the digest of a file's full content, checking ctx
// between reads. Reads use a buffer of at most bufferSize bytes; a file
// smaller than that is read with a buffer sized to fit it.
func HashFile(ctx context.Context, filePath string, bufferSize int) (string, error) {
	return hashFile(ctx, filePath, bufferSize, nil)
}

// newBufferPool returns a pool of bufferSize read buffers for hashFile
func newBufferPool(bufferSize int) *sync.Pool {
	return &sync.Pool{
		New: func() interface{} {
			buffer := make([]byte, bufferSize)
			return &buffer
		},
	}
}

// hashFile is HashFile with an optional pool of bufferSize buffers, used for
// files at least bufferSize long
func hashFile(ctx context.Context, filePath string, bufferSize int, buffers *sync.Pool) (string, error) {
	if bufferSize <= 0 {
		bufferSize = 32 * 1024
	}

	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat file %s: %w", filePath, err)
	}

	var buffer []byte
	switch {
	case info.Size() < int64(bufferSize):
		// One extra byte lets the first read reach EOF on files that did not grow.
		buffer = make([]byte, info.Size()+1)
	case buffers != nil:
		pooled := buffers.Get().(*[]byte)
		defer buffers.Put(pooled)
		buffer = *pooled
	default:
		buffer = make([]byte, bufferSize)
	}

	hasher := newHash()
	for {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("hashing %s interrupted: %w", filePath, err)
		}

		n, err := file.Read(buffer)
		if n > 0 {
			hasher.Write(buffer[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read from file %s: %w", filePath, err)
		}
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

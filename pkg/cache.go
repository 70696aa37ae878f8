package merklebuild

import (
	"encoding/hex"
	"path/filepath"
	"strings"

	zcsl "github.com/mattkeenan/zerocopyskiplist"
)

// cacheSlot is the item stored per Path Key. Its state lives in the skiplist
// context, so Digest is only meaningful for resolved slots.
type cacheSlot struct {
	Key    string
	Digest string
}

// HashCache remembers directory digests within one hashing pass and detects
// symlink cycles. With a cache directory configured, misses fall through to
// persistent records and stores are mirrored to them.
//
// A HashCache is not safe for concurrent use.
type HashCache struct {
	slots    *zcsl.ZeroCopySkiplist[cacheSlot, string, slotState]
	cacheDir string

	persistentHits   int
	persistentWrites int
}

// NewHashCache creates an empty cache. An empty cacheDir keeps the cache in memory.
func NewHashCache(cacheDir string) *HashCache {
	getKeyFromItem := func(slot *cacheSlot) string {
		return slot.Key
	}
	getItemSize := func(slot *cacheSlot) int {
		return len(slot.Key) + len(slot.Digest)
	}
	cmpKey := func(a, b string) int {
		return strings.Compare(a, b)
	}

	return &HashCache{
		slots:    zcsl.MakeZeroCopySkiplist[cacheSlot, string, slotState](16, getKeyFromItem, getItemSize, cmpKey),
		cacheDir: cacheDir,
	}
}

// CacheDir returns the persistent cache directory, or "" when memory only
func (hc *HashCache) CacheDir() string {
	return hc.cacheDir
}

// Get returns the known digest for fullPath. ok is false when nothing is cached.
// A path that is still being calculated yields a *CycleError.
func (hc *HashCache) Get(fullPath string) (digest string, ok bool, err error) {
	node, state := hc.slots.Find(fullPath)
	if node != nil {
		switch state {
		case slotCalculating:
			return "", false, &CycleError{Path: fullPath}
		case slotResolved:
			return node.Item().Digest, true, nil
		}
	}

	if hc.cacheDir == "" {
		return "", false, nil
	}

	recordPath := hc.RecordPath(fullPath)
	content, found, err := AtomicRead(recordPath)
	if err != nil {
		return "", false, err
	}
	if !found {
		return "", false, nil
	}
	if !isHexDigest(content) {
		DebugLog("cache", "ignoring malformed record %s", recordPath)
		return "", false, nil
	}

	hc.persistentHits++
	hc.set(fullPath, content, slotResolved)
	DebugLog("cache", "persistent hit for %s", fullPath)
	return content, true, nil
}

// MarkCalculating records that fullPath is being hashed
func (hc *HashCache) MarkCalculating(fullPath string) {
	hc.set(fullPath, "", slotCalculating)
}

// Store records the digest for fullPath, replacing the calculating marker,
// and writes the persistent record when a cache directory is configured
func (hc *HashCache) Store(fullPath string, digest string) error {
	hc.set(fullPath, digest, slotResolved)

	if hc.cacheDir == "" {
		return nil
	}
	if err := AtomicWrite(hc.RecordPath(fullPath), digest); err != nil {
		return err
	}
	hc.persistentWrites++
	return nil
}

// Len returns the number of paths known in memory
func (hc *HashCache) Len() int {
	return hc.slots.Length()
}

// RecordPath returns the persistent record location for fullPath
func (hc *HashCache) RecordPath(fullPath string) string {
	return filepath.Join(hc.cacheDir, SafeFileName(fullPath))
}

func (hc *HashCache) set(fullPath, digest string, state slotState) {
	node, _ := hc.slots.Find(fullPath)
	if node != nil {
		node.Item().Digest = digest
		hc.slots.UpdateContext(fullPath, state)
		return
	}
	hc.slots.Insert(&cacheSlot{Key: fullPath, Digest: digest}, state)
}

// SafeFileName makes a flat file name for a full path. The tail of the
// percent-encoded path is kept for readability and the SHA-1 of the whole
// path is appended, so truncation can never conflate two paths.
func SafeFileName(fileName string) string {
	encodedName := encodeComponent(fileName)
	if len(encodedName) > MaxEncodedNameLength {
		encodedName = encodedName[len(encodedName)-MaxEncodedNameLength:]
	}
	return encodedName + HashBytes([]byte(fileName))
}

// encodeComponent percent-encodes every byte of s except ASCII letters,
// digits and - _ . ! ~ * ' ( ), using upper-case hex
func encodeComponent(s string) string {
	const hexDigits = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isComponentSafe(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

func isComponentSafe(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}

func isHexDigest(s string) bool {
	if len(s) != DigestHexLength {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

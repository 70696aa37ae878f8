package merklebuild

// Environment variables read by the command layer
const (
	CacheDirEnvVar = "MERKLE_BUILD_CACHE"
	ConfigEnvVar   = "MERKLE_BUILD_CONFIG"
)

// File constants
const (
	DefaultMarkerFile = ".LAST_BUILD"
	DefaultConfigFile = ".merklebuild"
)

// Entry table constants
const (
	EntrySeparator = "|" // Written after every entry name and every entry digest
	HiddenPrefix   = "."
)

// Persistent record naming
const (
	MaxEncodedNameLength = 150 // Only the encoded path is truncated, never the hash suffix
)

// Hash size constants
const (
	HashSizeSHA1    = 20               // SHA-1 hash size in bytes
	DigestHexLength = HashSizeSHA1 * 2 // Hex digest length
)

// Performance defaults
const (
	DefaultHashWorkers = 4
	DefaultHashBuffer  = "2M"
)

// slotState is the state of one Path Key within a single hashing pass.
// Unvisited keys are simply absent from the cache.
type slotState string

const (
	slotCalculating slotState = "calculating"
	slotResolved    slotState = "resolved"
)

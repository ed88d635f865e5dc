package capture

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID generates a ULID. IDs generated in the same millisecond stay ordered,
// which keeps ingest order and id order in agreement.
func NewID(now time.Time) (string, error) {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NormalizeID uppercases and trims an id. Crockford base32 is case-insensitive
// but paths are not, so every id is stored in canonical upper case.
func NormalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// ValidID reports whether id is safe to use as a file name: a non-empty run of
// Crockford base32 characters, at most 26 long. Full ULIDs pass; so do the
// short ids ingest collaborators replay from upstream sources.
func ValidID(id string) bool {
	if id == "" || len(id) > ulid.EncodedSize {
		return false
	}
	for _, r := range id {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'A' && r <= 'Z' && r != 'I' && r != 'L' && r != 'O' && r != 'U':
		default:
			return false
		}
	}
	return true
}

package capture

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 hash of a capture's exported bytes.
type Digest [32]byte

// HashContent computes the digest of content exactly as it will be written.
func HashContent(content []byte) Digest {
	return Digest(blake3.Sum256(content))
}

// HashReader computes the digest of everything read from r.
func HashReader(r io.Reader) (Digest, error) {
	hasher := blake3.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return Digest{}, err
	}
	var d Digest
	copy(d[:], hasher.Sum(nil))
	return d, nil
}

// ParseDigest parses a hex digest. Input is normalized (trimmed, lowercased,
// optional "blake3:" prefix dropped) so comparisons are exact on the
// normalized value.
func ParseDigest(s string) (Digest, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "blake3:")
	if len(s) != hex.EncodedLen(len(Digest{})) {
		return Digest{}, fmt.Errorf("digest must be %d hex characters, got %d", hex.EncodedLen(len(Digest{})), len(s))
	}
	var d Digest
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return Digest{}, fmt.Errorf("invalid digest: %w", err)
	}
	return d, nil
}

// String returns the lowercase hex encoding.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ContentHash is either pending or finalized. The digest is only reachable
// through Digest(), which forces callers to handle the pending case.
type ContentHash struct {
	digest    Digest
	finalized bool
}

// PendingHash returns a hash that has not been bound yet.
func PendingHash() ContentHash {
	return ContentHash{}
}

// FinalizedHash binds d.
func FinalizedHash(d Digest) ContentHash {
	return ContentHash{digest: d, finalized: true}
}

// Digest returns the bound digest and true, or false while pending.
func (h ContentHash) Digest() (Digest, bool) {
	return h.digest, h.finalized
}

// IsFinalized reports whether a digest is bound.
func (h ContentHash) IsFinalized() bool {
	return h.finalized
}

// String returns "pending" or the hex digest.
func (h ContentHash) String() string {
	if !h.finalized {
		return "pending"
	}
	return h.digest.String()
}

// MarshalJSON encodes a pending hash as null and a finalized one as hex.
func (h ContentHash) MarshalJSON() ([]byte, error) {
	if !h.finalized {
		return []byte("null"), nil
	}
	return json.Marshal(h.digest.String())
}

// UnmarshalJSON accepts null or a hex digest.
func (h *ContentHash) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == nil || *s == "" {
		*h = PendingHash()
		return nil
	}
	d, err := ParseDigest(*s)
	if err != nil {
		return err
	}
	*h = FinalizedHash(d)
	return nil
}

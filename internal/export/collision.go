package export

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/hpungsan/capture/internal/capture"
)

// Collision is the state of a target path relative to a digest.
type Collision int

const (
	// CollisionNone means nothing exists at the path.
	CollisionNone Collision = iota
	// CollisionDuplicate means the path holds exactly the expected bytes.
	CollisionDuplicate
	// CollisionConflict means the path holds something else, or could not
	// be read.
	CollisionConflict
)

func (c Collision) String() string {
	switch c {
	case CollisionNone:
		return "none"
	case CollisionDuplicate:
		return "duplicate"
	case CollisionConflict:
		return "conflict"
	default:
		return fmt.Sprintf("collision(%d)", int(c))
	}
}

// DetectCollision classifies path against digest. It never modifies the
// filesystem. The returned error is set only for CollisionConflict and
// explains why the entry could not be compared or did not match.
func DetectCollision(path string, digest capture.Digest) (Collision, error) {
	info, err := os.Lstat(path)
	if stderrors.Is(err, os.ErrNotExist) {
		return CollisionNone, nil
	}
	if err != nil {
		return CollisionConflict, err
	}
	if !info.Mode().IsRegular() {
		return CollisionConflict, fmt.Errorf("%s is not a regular file (%s)", path, info.Mode().Type())
	}

	f, err := openFileNoFollowRead(path)
	if err != nil {
		return CollisionConflict, err
	}
	defer f.Close()

	existing, err := capture.HashReader(f)
	if err != nil {
		return CollisionConflict, fmt.Errorf("read %s: %w", path, err)
	}
	if existing != digest {
		return CollisionConflict, fmt.Errorf("%s holds different content (blake3 %s, want %s)", path, existing, digest)
	}
	return CollisionDuplicate, nil
}

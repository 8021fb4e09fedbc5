package fetch

import (
	"strings"

	"github.com/pkg/errors"
)

// KeyDelimiter separates the container id from the item id in a fetch key.
const KeyDelimiter = ","

// ErrInvalidKey is the cause of every key validation failure.
var ErrInvalidKey = errors.New("invalid fetch key")

// Key is a parsed fetch key, e.g. "siteDriveId,driveItemId" or "bucket,object".
type Key struct {
	Container string
	Item      string
}

func (k Key) String() string {
	return k.Container + KeyDelimiter + k.Item
}

// ParseKey splits raw into exactly two non-empty parts.
func ParseKey(raw string) (Key, error) {
	parts := strings.Split(raw, KeyDelimiter)
	if len(parts) != 2 {
		return Key{}, errors.Wrapf(ErrInvalidKey, "%q: expected container%sitem, got %d part(s)",
			raw, KeyDelimiter, len(parts))
	}
	container, item := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if container == "" || item == "" {
		return Key{}, errors.Wrapf(ErrInvalidKey, "%q: container and item must be non-empty", raw)
	}
	return Key{Container: container, Item: item}, nil
}

package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/cosmos/btcutil/base58"
)

// Entity is anything persisted through the keyed store.
// Its primary record lives at "{KeyPrefix}:{ID}" and, unless ListItem is empty,
// ListItem is kept in the "{KeyPrefix}s" membership set.
type Entity interface {
	ID() string
	KeyPrefix() string
	ListItem() string
}

// Expirer is implemented by entities with a store-level lifetime.
type Expirer interface {
	TTL() time.Duration
}

// ContentID derives a content-addressed identifier.
func ContentID(content string) string {
	sum := sha256.Sum256([]byte(content))
	return base58.Encode(sum[:])
}

// SaltedDigest is the hex sha256 of the concatenated parts.
func SaltedDigest(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

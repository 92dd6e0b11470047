package capsuleid

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyOnce sync.Once
	entropy     *ulid.MonotonicEntropy
)

func newEntropy() *ulid.MonotonicEntropy {
	entropyOnce.Do(func() {
		source := rand.NewSource(time.Now().UnixNano())
		entropy = ulid.Monotonic(rand.New(source), 0)
	})
	return entropy
}

func newID(prefix string) string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), newEntropy())
	return prefix + strings.ToLower(id.String())
}

// NewCapsule returns a cap_* ULID string.
func NewCapsule() string {
	return newID("cap_")
}

// NewArtifact returns an art_* ULID string.
func NewArtifact() string {
	return newID("art_")
}

// IsValid reports whether the string is a prefixed ULID with the given prefix.
func IsValid(prefix, value string) bool {
	if !strings.HasPrefix(value, prefix) {
		return false
	}
	_, err := Parse(prefix, value)
	return err == nil
}

// Parse strips the prefix and returns the ULID.
func Parse(prefix, value string) (ulid.ULID, error) {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, prefix)
	return ulid.Parse(value)
}

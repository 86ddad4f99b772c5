package util

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid"
)

var (
	entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	m       sync.Mutex
)

// elementNamespace seeds the name-based ids of work elements and inbox records.
var elementNamespace = uuid.MustParse("6f1c7c4e-29f2-4c6b-9b0e-3d5a2f8e7a10")

func NewULID() string {
	m.Lock()
	defer m.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Now(), entropy).String())
}

// StableId returns an id that is a pure function of parts. Splitting the same input twice
// therefore produces records with the same ids.
func StableId(parts ...string) string {
	return uuid.NewSHA1(elementNamespace, []byte(strings.Join(parts, "\x00"))).String()
}

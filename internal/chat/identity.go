package chat

import (
	"math/rand"

	"github.com/google/uuid"
)

// DefaultNames is the display-name pool used when none is configured.
var DefaultNames = []string{
	"Juan",
	"Pedro",
	"Maria",
	"Jose",
	"Luis",
	"Carlos",
	"Ana",
	"Sofia",
	"Laura",
	"Marta",
}

// NewSessionID returns a fresh globally unique session id.
func NewSessionID() string {
	return uuid.NewString()
}

// AssignDisplayName picks a random name from pool that taken rejects. Every
// candidate is tried at most once.
func AssignDisplayName(pool []string, taken func(name string) bool) (string, error) {
	for _, i := range rand.Perm(len(pool)) {
		if !taken(pool[i]) {
			return pool[i], nil
		}
	}
	return "", ErrNamePoolExhausted
}

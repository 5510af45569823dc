package realtime

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewEnvelopeID returns a ULID used as outbound envelope id.
// ULIDs sort by creation time, which keeps client logs ordered.
func NewEnvelopeID(now time.Time) (string, error) {
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

package statussync

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	"time"
)

const baseRetryDelay = 1 * time.Second

// fullJitterDelay mirrors modelgateway's backoff shape (AWS-style full
// jitter) so both outbound HTTP paths degrade the same way under
// contention, without the two packages depending on each other.
func fullJitterDelay(attempt int) time.Duration {
	cap := baseRetryDelay * time.Duration(math.Pow(2, float64(attempt)))
	if cap > 30*time.Second {
		cap = 30 * time.Second
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return cap / 2
	}
	n := binary.BigEndian.Uint64(buf[:])
	frac := float64(n) / float64(math.MaxUint64)
	return time.Duration(frac * float64(cap))
}

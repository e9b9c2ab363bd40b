package pairing

import (
	"crypto/rand"
	"crypto/subtle"
	"sync"
	"time"
)

// Code is a one-time pairing code the target prints and the source presents
// on the signaling handshake. A code expires after its TTL and a mismatch
// rejects the connection.
type Code struct {
	mu        sync.Mutex
	value     string
	expiresAt time.Time
	now       func() time.Time
}

// NewCode generates a pairing code valid for the given TTL.
// A zero TTL means the code never expires.
func NewCode(ttl time.Duration) *Code {
	return newCodeWithNow(ttl, time.Now)
}

func newCodeWithNow(ttl time.Duration, now func() time.Time) *Code {
	c := &Code{
		value: generate(),
		now:   now,
	}
	if ttl > 0 {
		c.expiresAt = now().Add(ttl)
	}
	return c
}

// Value returns the code string for display.
func (c *Code) Value() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Validate reports whether the presented code matches and has not expired.
// Comparison is constant time.
func (c *Code) Validate(presented string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.expiresAt.IsZero() && c.now().After(c.expiresAt) {
		return false
	}
	if len(presented) != len(c.value) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(c.value)) == 1
}

// generate returns a random 8-character code.
// Uses uppercase A-Z and 2-9, excluding ambiguous characters: O, 0, I, 1.
func generate() string {
	chars := "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	code := make([]byte, 8)
	b := make([]byte, 8)

	if _, err := rand.Read(b); err != nil {
		// Fallback if rand fails
		return "ABCDEFGH"
	}
	for i := range code {
		code[i] = chars[int(b[i])%len(chars)]
	}
	return string(code)
}

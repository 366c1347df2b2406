package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns a 32-character hex batch identifier. If the system
// entropy source fails it degrades to a timestamp-derived value rather
// than erroring, so batch creation never fails on ID generation.
func New() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("batch-%d", time.Now().UTC().UnixNano())
	}
	return hex.EncodeToString(buf)
}

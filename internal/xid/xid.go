// Package xid generates short unique identifiers for stored records.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// New returns an identifier of the form prefix_<millis36><hex>. The
// base-36 millisecond stamp keeps ids roughly sortable by creation time.
func New(prefix string) string {
	stamp := strconv.FormatInt(time.Now().UnixMilli(), 36)
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return prefix + "_" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return prefix + "_" + stamp + hex.EncodeToString(buf)
}

// Package idgen generates sortable message and routing identifiers.
package idgen

import (
	"encoding/base32"
	"strings"
	"time"

	"github.com/google/uuid"
)

// encoding produces lowercase, padding-free base32 text so IDs are
// comfortable in URLs, BoltDB keys, and log lines alike.
var encoding = base32.HexEncoding.WithPadding(base32.NoPadding)

// ID is a monotonic, time-ordered, comparable identifier: the millisecond
// timestamp of generation followed by a random tail. Lexicographic and
// timestamp order agree, which lets IDs double as BoltDB/routing-table
// sort keys the way the teacher stores snapshot keys as RFC3339Nano
// timestamps.
type ID string

// New returns a new ID stamped with the current time.
func New() ID {
	return newAt(time.Now())
}

func newAt(t time.Time) ID {
	ms := t.UTC().UnixMilli()
	var stamp [8]byte
	for i := 7; i >= 0; i-- {
		stamp[i] = byte(ms & 0xff)
		ms >>= 8
	}
	tail := uuid.New()
	buf := make([]byte, 0, len(stamp)+len(tail))
	buf = append(buf, stamp[:]...)
	buf = append(buf, tail[:]...)
	return ID(strings.ToLower(encoding.EncodeToString(buf)))
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return string(id)
}

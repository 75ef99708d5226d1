package core

import (
	"encoding/base32"
	"encoding/binary"
	"sync"

	"github.com/google/uuid"
)

// crockford is the base32 alphabet resolve ids are rendered in: its
// byte-wise ordering matches its lexical ordering, which is what makes a
// timestamp-prefixed id sortable by creation time.
var crockford = base32.NewEncoding("0123456789ABCDEFGHJKMNPQRSTVWXYZ").WithPadding(base32.NoPadding)

// resolveIDMinter mints ULID-like resolve ids: 6 bytes of millisecond
// timestamp, 4 bytes of per-instance counter, 6 bytes of randomness,
// rendered as 26 characters of Crockford base32. The counter keeps two
// ids minted in the same millisecond ordered by mint sequence; the random
// tail keeps ids unique across instances.
type resolveIDMinter struct {
	mu      sync.Mutex
	counter uint32
}

// next mints one id. nowMillis comes from the host clock import, never a
// direct system-clock read.
func (m *resolveIDMinter) next(nowMillis int64) string {
	m.mu.Lock()
	m.counter++
	n := m.counter
	m.mu.Unlock()

	var raw [16]byte
	binary.BigEndian.PutUint64(raw[:8], uint64(nowMillis)<<16)
	binary.BigEndian.PutUint32(raw[6:10], n)
	entropy := uuid.New()
	copy(raw[10:], entropy[:6])
	return crockford.EncodeToString(raw[:])
}

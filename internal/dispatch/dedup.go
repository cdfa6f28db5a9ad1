package dispatch

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// Dedup rejects a metatransaction that repeats an identical one from the
// same address within the TTL. Double-clicked submits would otherwise
// relay the same write twice. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time
	ttl  time.Duration
	mu   sync.Mutex
	now  func() time.Time
}

// NewDedup creates a Dedup with the given window. A zero ttl disables it.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// requestKey fingerprints the caller, action and raw params.
func requestKey(req Request) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(req.EthAddress)))
	h.Write([]byte{0})
	h.Write([]byte(req.Game))
	h.Write([]byte{0})
	h.Write([]byte(req.Action))
	h.Write([]byte{0})
	h.Write(req.Params)
	return hex.EncodeToString(h.Sum(nil))
}

// Seen reports whether key was recorded within the TTL, recording it if
// not.
func (d *Dedup) Seen(key string) bool {
	if d == nil || d.ttl <= 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.ttl {
		return true
	}
	d.seen[key] = now
	return false
}

// Forget drops key so a request that failed before reaching the chain can
// be retried at once.
func (d *Dedup) Forget(key string) {
	if d == nil {
		return
	}
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
}

// Cleanup removes expired entries.
func (d *Dedup) Cleanup() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
		}
	}
}

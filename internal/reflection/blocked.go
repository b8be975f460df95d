package reflection

import (
	"sort"
	"sync"
	"sync/atomic"
)

// BlockedDomains is the scan-scoped set of domains that answered with a
// block page. Entries never expire during a scan and insertion is
// idempotent, so concurrent probes may race to add the same domain.
type BlockedDomains struct {
	domains sync.Map
	count   atomic.Int64
}

// NewBlockedDomains returns an empty set
func NewBlockedDomains() *BlockedDomains {
	return &BlockedDomains{}
}

// Add marks domain as blocked. It reports whether the domain was new.
func (b *BlockedDomains) Add(domain string) bool {
	if domain == "" {
		return false
	}
	if _, loaded := b.domains.LoadOrStore(domain, struct{}{}); loaded {
		return false
	}
	b.count.Add(1)
	return true
}

// Contains reports whether domain has been marked blocked
func (b *BlockedDomains) Contains(domain string) bool {
	_, ok := b.domains.Load(domain)
	return ok
}

// Len returns the number of blocked domains
func (b *BlockedDomains) Len() int {
	return int(b.count.Load())
}

// List returns the blocked domains sorted
func (b *BlockedDomains) List() []string {
	var out []string
	b.domains.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}

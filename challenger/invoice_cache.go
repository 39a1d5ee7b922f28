package challenger

import (
	"time"

	"github.com/lightninglabs/neutrino/cache"
	"github.com/lightninglabs/neutrino/cache/lru"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lntypes"
)

const (
	// DefaultCacheSize is the maximum number of invoices the cache holds
	// before the least recently used one is evicted.
	DefaultCacheSize = 1024

	// DefaultCacheTTL is how long a cached invoice state remains usable.
	// Entries that have reached this age are treated as misses.
	DefaultCacheTTL = 10 * time.Minute
)

// cachedInvoice couples an invoice with the time it entered the cache so
// stale entries can be aged out.
type cachedInvoice struct {
	invoice  *lnrpc.Invoice
	cachedAt time.Time
}

// Size returns the number of cache slots the entry occupies.
//
// NOTE: This is part of the cache.Value interface.
func (c *cachedInvoice) Size() (uint64, error) {
	return 1, nil
}

// A compile-time constraint to ensure cachedInvoice implements cache.Value.
var _ cache.Value = (*cachedInvoice)(nil)

// InvoiceCache is a bounded cache of the last known invoice state per payment
// hash. It is purely an accelerator, a miss or an aged-out entry only means
// the caller has to ask the node again.
type InvoiceCache struct {
	invoices *lru.Cache[lntypes.Hash, *cachedInvoice]
	ttl      time.Duration
	clock    clock.Clock
}

// NewInvoiceCache creates a cache holding at most size invoices that expire
// after the given TTL. If c is nil the wall clock is used.
func NewInvoiceCache(size uint64, ttl time.Duration,
	c clock.Clock) *InvoiceCache {

	if c == nil {
		c = clock.NewDefaultClock()
	}

	return &InvoiceCache{
		invoices: lru.NewCache[lntypes.Hash, *cachedInvoice](size),
		ttl:      ttl,
		clock:    c,
	}
}

// Put stores the latest known state of the invoice with the given payment
// hash, overwriting any previous entry.
func (c *InvoiceCache) Put(hash lntypes.Hash, invoice *lnrpc.Invoice) {
	_, err := c.invoices.Put(hash, &cachedInvoice{
		invoice:  invoice,
		cachedAt: c.clock.Now(),
	})
	if err != nil {
		// Put only fails for values larger than the whole cache which
		// can't happen with unit sized entries.
		log.Errorf("Unable to cache invoice %v: %v", hash, err)
	}
}

// Get returns the cached invoice for the given payment hash, or false if
// there is no usable entry for it.
func (c *InvoiceCache) Get(hash lntypes.Hash) (*lnrpc.Invoice, bool) {
	entry, err := c.invoices.Get(hash)
	if err != nil {
		return nil, false
	}

	if c.clock.Now().Sub(entry.cachedAt) >= c.ttl {
		return nil, false
	}

	return entry.invoice, true
}

// Len returns the number of invoices currently cached.
func (c *InvoiceCache) Len() int {
	return c.invoices.Len()
}

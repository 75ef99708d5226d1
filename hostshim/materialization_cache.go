package hostshim

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"confidence-resolver/core"
)

// MaterializationCache is an in-memory core.MaterializationReader backed
// by a bounded LRU, for hosts that want sticky rules served locally
// without a round trip to a remote materialization store.
// Entries are populated from the StickyWrites a prior ResolveWithSticky
// call returned, or seeded wholesale via Put.
type MaterializationCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, core.MaterializationInfo]
}

// NewMaterializationCache returns a MaterializationCache holding up to
// size (unit, materialization) records, evicting least-recently-used
// entries once full.
func NewMaterializationCache(size int) (*MaterializationCache, error) {
	c, err := lru.New[string, core.MaterializationInfo](size)
	if err != nil {
		return nil, err
	}
	return &MaterializationCache{cache: c}, nil
}

// Put stores the full record for one (unit, materialization) pair,
// replacing any prior record.
func (m *MaterializationCache) Put(unit, materialization string, info core.MaterializationInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Add(cacheKey(unit, materialization), info)
}

// Record applies one sticky write: the unit becomes included in the
// write materialization with the rule's variant recorded, merging into
// any record already cached.
func (m *MaterializationCache) Record(w core.StickyWrite) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := cacheKey(w.Unit, w.Materialization)
	info, _ := m.cache.Get(key)
	merged := core.MaterializationInfo{
		Included:      true,
		RuleToVariant: make(map[string]string, len(info.RuleToVariant)+1),
	}
	for rule, variant := range info.RuleToVariant {
		merged.RuleToVariant[rule] = variant
	}
	merged.RuleToVariant[w.RuleName] = w.Variant
	m.cache.Add(key, merged)
}

// ReadMaterialization implements core.MaterializationReader.
func (m *MaterializationCache) ReadMaterialization(ctx context.Context, unit, materialization string) (core.MaterializationInfo, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.cache.Get(cacheKey(unit, materialization))
	return info, ok, nil
}

func cacheKey(unit, materialization string) string {
	return unit + "\x00" + materialization
}

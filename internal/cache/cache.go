package cache

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bert_cache_hits_total",
		Help: "Pooled output cache hits",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bert_cache_misses_total",
		Help: "Pooled output cache misses",
	})
	cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bert_cache_evictions_total",
		Help: "Entries evicted from the pooled output cache",
	})
)

// VectorCache caches pooled outputs keyed by the encoded token sequence.
type VectorCache interface {
	// Get retrieves a vector from the cache.
	Get(key uint64) ([]float32, bool)
	// Put stores a vector in the cache.
	Put(key uint64, vec []float32)
	// Size returns the number of items in the cache.
	Size() int
}

// Key hashes token ids and segment ids. Two encodings share a key only when
// both sequences are identical.
func Key(ids, typeIDs []int) uint64 {
	d := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(len(ids)))
	_, _ = d.Write(buf[:])
	for _, id := range ids {
		binary.LittleEndian.PutUint32(buf[:4], uint32(id))
		_, _ = d.Write(buf[:4])
	}
	for _, id := range typeIDs {
		binary.LittleEndian.PutUint32(buf[:4], uint32(id))
		_, _ = d.Write(buf[:4])
	}
	return d.Sum64()
}

// MapCache is an in-memory VectorCache. With a positive capacity the oldest
// entry is evicted first.
type MapCache struct {
	mu       sync.RWMutex
	data     map[uint64][]float32
	order    []uint64
	capacity int
}

// NewMapCache creates a cache holding at most capacity vectors; 0 is unbounded.
func NewMapCache(capacity int) *MapCache {
	return &MapCache{
		data:     make(map[uint64][]float32),
		capacity: capacity,
	}
}

func (c *MapCache) Get(key uint64) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Callers own the returned slice.
	if v, ok := c.data[key]; ok {
		cacheHits.Inc()
		dst := make([]float32, len(v))
		copy(dst, v)
		return dst, true
	}
	cacheMisses.Inc()
	return nil, false
}

func (c *MapCache) Put(key uint64, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dst := make([]float32, len(vec))
	copy(dst, vec)
	if _, ok := c.data[key]; ok {
		c.data[key] = dst
		return
	}
	if c.capacity > 0 && len(c.data) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.data, oldest)
		cacheEvictions.Inc()
	}
	c.data[key] = dst
	c.order = append(c.order, key)
}

func (c *MapCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

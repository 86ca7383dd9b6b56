package adapter

import (
	"math/rand"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

const payloadCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// DefaultPayloadSize matches the row width the harness has always driven.
const DefaultPayloadSize = 500

// PayloadSource generates operation payloads and remembers recently
// inserted row ids so select/update/delete modes can target rows that are
// likely to still exist. The id cache is a fixed-size LRU shared by all
// workers; when it is empty the payload carries RowID 0 and the adapter
// probes for a random existing row instead.
type PayloadSource struct {
	size int

	mu  sync.Mutex
	rng *rand.Rand

	ids *lru.Cache[int64, struct{}]
}

// NewPayloadSource creates a source producing data strings of size bytes.
// cacheSize bounds the recently-inserted-id cache.
func NewPayloadSource(size, cacheSize int, seed int64) (*PayloadSource, error) {
	if size <= 0 {
		size = DefaultPayloadSize
	}
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	ids, err := lru.New[int64, struct{}](cacheSize)
	if err != nil {
		return nil, err
	}
	return &PayloadSource{
		size: size,
		rng:  rand.New(rand.NewSource(seed)),
		ids:  ids,
	}, nil
}

// NewPayload produces a fresh insert payload for the named worker: a new
// row key and random data of the configured size.
func (s *PayloadSource) NewPayload(worker string) *Payload {
	return &Payload{
		RowKey: uuid.NewString(),
		Worker: worker,
		Data:   s.randomData(s.size),
	}
}

// TargetPayload produces a payload aimed at an existing row. If the id
// cache has entries, a random cached id is used; otherwise RowID is zero
// and the adapter chooses.
func (s *PayloadSource) TargetPayload(worker string) *Payload {
	p := &Payload{
		Worker: worker,
		Data:   s.randomData(s.size),
	}
	keys := s.ids.Keys()
	if len(keys) > 0 {
		s.mu.Lock()
		p.RowID = keys[s.rng.Intn(len(keys))]
		s.mu.Unlock()
	}
	return p
}

// Remember records a row id as recently inserted.
func (s *PayloadSource) Remember(id int64) {
	if id > 0 {
		s.ids.Add(id, struct{}{})
	}
}

// Forget drops a row id, typically after a delete.
func (s *PayloadSource) Forget(id int64) {
	s.ids.Remove(id)
}

// CachedIDs returns how many row ids are currently cached.
func (s *PayloadSource) CachedIDs() int {
	return s.ids.Len()
}

// Intn exposes the source's seeded generator for callers that need a
// reproducible random draw, such as mixed-mode operation selection.
func (s *PayloadSource) Intn(n int) int {
	s.mu.Lock()
	v := s.rng.Intn(n)
	s.mu.Unlock()
	return v
}

func (s *PayloadSource) randomData(n int) string {
	b := make([]byte, n)
	s.mu.Lock()
	for i := range b {
		b[i] = payloadCharset[s.rng.Intn(len(payloadCharset))]
	}
	s.mu.Unlock()
	return string(b)
}

package cache

import (
	"context"
	"sync"
)

// MapBlobCache is an unbounded in-process BlobCache. It backs the shared
// tier when no Redis is configured for a short lived process such as the
// prefetch tool.
type MapBlobCache struct {
	m *TypedSyncMap
}

type TypedSyncMap struct {
	m sync.Map
}

func (c *TypedSyncMap) Load(k string) ([]byte, bool) {
	v, exists := c.m.Load(k)
	if !exists {
		return nil, false
	}
	return v.([]byte), exists
}

func (c *TypedSyncMap) Store(k string, v []byte) {
	c.m.Store(k, v)
}

func (c *TypedSyncMap) Delete(k string) {
	c.m.Delete(k)
}

func NewMapBlobCache() *MapBlobCache {
	return &MapBlobCache{
		m: &TypedSyncMap{},
	}
}

var _ BlobCache = (*MapBlobCache)(nil)

func (c *MapBlobCache) Get(_ context.Context, k string) ([]byte, bool, error) {
	v, exists := c.m.Load(k)
	return v, exists, nil
}

func (c *MapBlobCache) Set(_ context.Context, k string, v []byte) error {
	c.m.Store(k, v)
	return nil
}

func (c *MapBlobCache) Delete(_ context.Context, k string) error {
	c.m.Delete(k)
	return nil
}

package cache

import (
	"container/list"
	"image"
	"sync"

	"github.com/jaennil/guide_helper/backend/maps/pkg/logger"
	"github.com/jaennil/guide_helper/backend/maps/pkg/metrics"
)

// entryOverhead is added to every entry's pixel bytes.
const entryOverhead = 100

type entry struct {
	key   Key
	img   image.Image
	extra Extra
	bytes int64
}

// LRU is a byte-bounded least recently used cache of decoded tiles. The
// front of the list is the eviction candidate, the back the most recently
// used entry. Images handed out by Get are shared and must not be
// modified.
type LRU struct {
	mu       sync.Mutex
	ll       *list.List
	items    map[Key]*list.Element
	size     int64
	maxBytes func() int64
	logger   logger.Logger
}

// NewLRU builds a cache whose budget is read from maxBytes on every Add,
// so preference changes apply without a restart.
func NewLRU(maxBytes func() int64, l logger.Logger) *LRU {
	return &LRU{
		ll:       list.New(),
		items:    make(map[Key]*list.Element),
		maxBytes: maxBytes,
		logger:   logger.OrNop(l),
	}
}

// imageBytes is rowstride times height.
func imageBytes(img image.Image) int64 {
	h := int64(img.Bounds().Dy())
	switch p := img.(type) {
	case *image.RGBA:
		return int64(p.Stride) * h
	case *image.NRGBA:
		return int64(p.Stride) * h
	case *image.Paletted:
		return int64(p.Stride) * h
	case *image.Gray:
		return int64(p.Stride) * h
	case *image.RGBA64:
		return int64(p.Stride) * h
	case *image.NRGBA64:
		return int64(p.Stride) * h
	case *image.YCbCr:
		return int64(len(p.Y) + len(p.Cb) + len(p.Cr))
	}
	return int64(img.Bounds().Dx()) * 4 * h
}

// Add inserts or replaces key. When the total exceeds the budget the least
// recently used entries are evicted; the entry just added never is.
func (c *LRU) Add(key Key, img image.Image, extra Extra) {
	n := imageBytes(img) + entryOverhead

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		c.size -= e.bytes
		e.img, e.extra, e.bytes = img, extra, n
		c.ll.MoveToBack(el)
	} else {
		c.items[key] = c.ll.PushBack(&entry{key: key, img: img, extra: extra, bytes: n})
	}
	c.size += n
	metrics.CacheStores.Inc()

	limit := c.maxBytes()
	for c.size > limit && c.ll.Len() > 1 {
		oldest := c.ll.Front()
		c.removeElement(oldest)
		metrics.CacheEvictions.Inc()
	}
	if c.size > limit {
		c.logger.Debug("tile larger than cache budget", "key", key.String(), "bytes", n, "max_bytes", limit)
	}
	metrics.CacheBytes.Set(float64(c.size))
}

// Get returns the cached image and marks it most recently used.
func (c *LRU) Get(key Key) (image.Image, Extra, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		metrics.CacheMisses.Inc()
		return nil, Extra{}, false
	}
	c.ll.MoveToBack(el)
	metrics.CacheHits.Inc()
	e := el.Value.(*entry)
	return e.img, e.extra, true
}

// RemoveAllMatching drops every entry of one tile whatever its alpha or
// shrink factors. It returns the number removed.
func (c *LRU) RemoveAllMatching(x, y, z, source, scale int) int {
	return c.removeIf(func(k Key) bool {
		return k.X == x && k.Y == y && k.Z == z && k.Source == source && k.Scale == scale
	})
}

// FlushType drops every entry of one source.
func (c *LRU) FlushType(source int) int {
	return c.removeIf(func(k Key) bool { return k.Source == source })
}

func (c *LRU) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ll.Init()
	c.items = make(map[Key]*list.Element)
	c.size = 0
	metrics.CacheBytes.Set(0)
}

func (c *LRU) removeIf(match func(Key) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for el := c.ll.Front(); el != nil; {
		next := el.Next()
		if match(el.Value.(*entry).key) {
			c.removeElement(el)
			n++
		}
		el = next
	}
	metrics.CacheBytes.Set(float64(c.size))
	return n
}

func (c *LRU) removeElement(el *list.Element) {
	e := c.ll.Remove(el).(*entry)
	delete(c.items, e.key)
	c.size -= e.bytes
}

// Size is the accounted total in bytes.
func (c *LRU) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *LRU) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *LRU) MaxBytes() int64 {
	return c.maxBytes()
}

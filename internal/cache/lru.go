package cache

import (
	"container/list"
	"sync"
	"time"
)

// Blob is a cached file body together with the modification time it was
// read at.
type Blob struct {
	Data    []byte
	ModTime time.Time
}

// BlobCache is a thread-safe LRU cache bounded by entry count and total bytes.
type BlobCache struct {
	capacity    int
	size        int64
	maxSize     int64 // max total size in bytes
	maxItemSize int64
	items       map[string]*list.Element
	order       *list.List
	mu          sync.Mutex
}

type cacheEntry struct {
	key  string
	blob Blob
}

// NewBlobCache creates a cache holding at most capacity entries and
// maxSizeBytes in total. Entries above maxItemBytes are never admitted.
func NewBlobCache(capacity int, maxSizeBytes, maxItemBytes int64) *BlobCache {
	if maxItemBytes <= 0 || maxItemBytes > maxSizeBytes {
		maxItemBytes = maxSizeBytes
	}
	return &BlobCache{
		capacity:    capacity,
		maxSize:     maxSizeBytes,
		maxItemSize: maxItemBytes,
		items:       make(map[string]*list.Element),
		order:       list.New(),
	}
}

// Admits reports whether an entry of the given size may be cached.
func (c *BlobCache) Admits(size int64) bool {
	return c.capacity > 0 && size <= c.maxItemSize
}

func (c *BlobCache) Get(key string) (Blob, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*cacheEntry).blob, true
	}
	return Blob{}, false
}

func (c *BlobCache) Set(key string, blob Blob) {
	dataSize := int64(len(blob.Data))
	if !c.Admits(dataSize) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		c.size += dataSize - int64(len(entry.blob.Data))
		entry.blob = blob
		c.order.MoveToFront(elem)
		c.evict()
		return
	}

	for c.order.Len() >= c.capacity || (c.size+dataSize > c.maxSize && c.order.Len() > 0) {
		c.removeElement(c.order.Back())
	}

	elem := c.order.PushFront(&cacheEntry{key: key, blob: blob})
	c.items[key] = elem
	c.size += dataSize
}

func (c *BlobCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

func (c *BlobCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Size returns the current size in bytes.
func (c *BlobCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// evict drops least recently used entries, never the front one, until the
// byte bound holds.
func (c *BlobCache) evict() {
	for c.size > c.maxSize && c.order.Len() > 1 {
		c.removeElement(c.order.Back())
	}
}

func (c *BlobCache) removeElement(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	c.order.Remove(elem)
	delete(c.items, entry.key)
	c.size -= int64(len(entry.blob.Data))
}

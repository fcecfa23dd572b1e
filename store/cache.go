package store

import (
	"container/list"
	"sync"

	"github.com/tealrun/teal/bytecode"
)

// ExecutableCache is a process-local LRU of decoded Executables keyed by
// the executable_ref a session stores (no content hash is computed). Grounded on
// pkg/fpm/opcache.OpcodeCache's CompiledScript cache: avoids re-deserialising
// the same bytecode on every `resume` worker invocation when many threads
// of one session dispatch in quick succession against the same worker.
type ExecutableCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
}

type cacheEntry struct {
	key string
	exe *bytecode.Executable
}

// NewExecutableCache builds a cache holding at most capacity executables.
func NewExecutableCache(capacity int) *ExecutableCache {
	if capacity <= 0 {
		capacity = 32
	}
	return &ExecutableCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached Executable for key, if present, promoting it to
// most-recently-used.
func (c *ExecutableCache) Get(key string) (*bytecode.Executable, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).exe, true
}

// Put inserts or refreshes key's entry, evicting the least-recently-used
// entry if the cache is over capacity.
func (c *ExecutableCache) Put(key string, exe *bytecode.Executable) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).exe = exe
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&cacheEntry{key: key, exe: exe})
	c.entries[key] = el

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

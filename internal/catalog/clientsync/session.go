package clientsync

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mscatalog/catalogrelay/internal/catalog/identity"
)

// sessionCache assigns and resolves the small integer revision indexes a
// client-sync session uses to refer back to an identity in a later
// GetExtendedUpdateInfo call (spec §4.5: "a small integer revision index
// unique per identity within the server session").
type sessionCache struct {
	mu        sync.Mutex
	next      int
	toIdentity map[int]identity.PackageIdentity
	toIndex    map[identity.PackageIdentity]int
}

func newSessionCache() *sessionCache {
	return &sessionCache{
		toIdentity: make(map[int]identity.PackageIdentity),
		toIndex:    make(map[identity.PackageIdentity]int),
	}
}

// assign returns id's revision index within this session, allocating a new
// one the first time id is offered.
func (c *sessionCache) assign(id identity.PackageIdentity) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx, ok := c.toIndex[id]; ok {
		return idx
	}
	idx := c.next
	c.next++
	c.toIndex[id] = idx
	c.toIdentity[idx] = id
	return idx
}

// resolve reverses assign.
func (c *sessionCache) resolve(idx int) (identity.PackageIdentity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.toIdentity[idx]
	return id, ok
}

// sessionStore keys sessionCache instances by the opaque cookie a client
// presents on every request, bounded by an LRU so long-idle clients don't
// grow this unbounded (sessionCacheSize from ClientSyncConfig).
type sessionStore struct {
	sessions *lru.Cache[string, *sessionCache]
}

func newSessionStore(size int) (*sessionStore, error) {
	if size <= 0 {
		size = 1
	}
	c, err := lru.New[string, *sessionCache](size)
	if err != nil {
		return nil, err
	}
	return &sessionStore{sessions: c}, nil
}

// forCookie returns the session for cookie, or a new session under a freshly
// minted cookie if cookie is empty or unknown (spec §4.5's "fresh opaque
// cookie" on the first request of a session).
func (s *sessionStore) forCookie(cookie string) (*sessionCache, string) {
	if cookie != "" {
		if sc, ok := s.sessions.Get(cookie); ok {
			return sc, cookie
		}
	}
	newCookie := newCookie()
	sc := newSessionCache()
	s.sessions.Add(newCookie, sc)
	return sc, newCookie
}

package activitypub

import (
	"crypto/rsa"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/wingbeat-social/wingbeat/db"
	"github.com/wingbeat-social/wingbeat/util"
)

// Signer bundles a local actor's parsed private key with its keyId, ready
// to sign outgoing requests.
type Signer struct {
	Key   *rsa.PrivateKey
	KeyId string
}

// KeyCache caches remote actors' public keys by actor URL so inbox
// verification does not hit the network for known senders.
type KeyCache struct {
	mu   sync.RWMutex
	keys map[string]string
}

func NewKeyCache() *KeyCache {
	return &KeyCache{keys: make(map[string]string)}
}

func (c *KeyCache) Get(actorUrl string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pem, ok := c.keys[actorUrl]
	return pem, ok
}

func (c *KeyCache) Set(actorUrl, publicKeyPem string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[actorUrl] = publicKeyPem
}

func (c *KeyCache) Invalidate(actorUrl string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, actorUrl)
}

// Warm preloads the cache with all known remote actors' keys.
func (c *KeyCache) Warm(database *db.DB) error {
	err, actors := database.ReadRemoteActors()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, actor := range *actors {
		if actor.PublicKey != "" && actor.RemoteId != "" {
			c.keys[actor.RemoteId] = actor.PublicKey
		}
	}
	return nil
}

// HostBlocklist holds the set of blocked federated hostnames. Lookups are
// case-insensitive.
type HostBlocklist struct {
	mu    sync.RWMutex
	hosts map[string]bool
}

func NewHostBlocklist() *HostBlocklist {
	return &HostBlocklist{hosts: make(map[string]bool)}
}

func (b *HostBlocklist) Contains(host string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.hosts[strings.ToLower(host)]
}

func (b *HostBlocklist) Add(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hosts[strings.ToLower(host)] = true
}

// Reload replaces the blocklist with the blocked hosts currently in the
// database.
func (b *HostBlocklist) Reload(database *db.DB) error {
	err, hosts := database.ReadBlockedHosts()
	if err != nil {
		return err
	}
	next := make(map[string]bool, len(*hosts))
	for _, h := range *hosts {
		next[strings.ToLower(h.DisplayName)] = true
	}
	b.mu.Lock()
	b.hosts = next
	b.mu.Unlock()
	return nil
}

// InflightSet tracks remote post ids currently being created so that
// concurrent deliveries of the same object do not race each other into
// duplicate rows.
type InflightSet struct {
	mu  sync.Mutex
	ids map[string]bool
}

func NewInflightSet() *InflightSet {
	return &InflightSet{ids: make(map[string]bool)}
}

// Add marks an id as in flight. Returns false when the id was already
// present, meaning another goroutine owns the creation.
func (s *InflightSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids[id] {
		return false
	}
	s.ids[id] = true
	return true
}

func (s *InflightSet) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

// Wait blocks until the id is no longer in flight or the timeout elapses.
func (s *InflightSet) Wait(id string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		busy := s.ids[id]
		s.mu.Unlock()
		if !busy {
			return
		}
		time.Sleep(250 * time.Millisecond)
	}
}

// Service wires the federation engine together. The http client is
// injectable so tests can point it at a local test server.
type Service struct {
	DB          *db.DB
	Conf        *util.AppConfig
	Client      *http.Client
	Keys        *KeyCache
	BannedHosts *HostBlocklist
	Inflight    *InflightSet
}

func NewService(database *db.DB, conf *util.AppConfig) *Service {
	return &Service{
		DB:          database,
		Conf:        conf,
		Client:      &http.Client{Timeout: 15 * time.Second},
		Keys:        NewKeyCache(),
		BannedHosts: NewHostBlocklist(),
		Inflight:    NewInflightSet(),
	}
}

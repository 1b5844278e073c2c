package peers

import (
	"encoding/json"
	"errors"
	"kniffel/internal/kv"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

const (
	SelfIDKey     = "peer-self-id"
	KnownPeersKey = "peer-known-list"
)

// Directory is the durable record of this node's own peer id and every remote
// peer it has connected to. Reads are fail-soft and writes never fail the
// caller; storage errors are logged.
type Directory struct {
	mu  sync.Mutex
	kv  kv.Store
	log zerolog.Logger
}

func NewDirectory(store kv.Store, log zerolog.Logger) *Directory {
	return &Directory{
		kv:  store,
		log: log.With().Str("component", "peers").Logger(),
	}
}

// SelfID returns the stored self id, or "" when none has been assigned.
func (d *Directory) SelfID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := d.kv.Get(SelfIDKey)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			d.log.Warn().Err(err).Msg("cannot read self id")
		}
		return ""
	}
	return string(data)
}

func (d *Directory) SetSelfID(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.kv.Set(SelfIDKey, []byte(id)); err != nil {
		d.log.Warn().Err(err).Msg("cannot persist self id")
	}
}

func (d *Directory) ClearSelfID() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.kv.Delete(SelfIDKey); err != nil {
		d.log.Warn().Err(err).Msg("cannot clear self id")
	}
}

// KnownPeers returns the known peer ids, sorted.
func (d *Directory) KnownPeers() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readLocked()
}

func (d *Directory) readLocked() []string {
	data, err := d.kv.Get(KnownPeersKey)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			d.log.Warn().Err(err).Msg("cannot read known peers")
		}
		return []string{}
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		d.log.Warn().Err(err).Msg("known peer list is corrupt, ignoring")
		return []string{}
	}
	return normalize(ids)
}

func normalize(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (d *Directory) writeLocked(ids []string) {
	data, err := json.Marshal(normalize(ids))
	if err != nil {
		d.log.Warn().Err(err).Msg("cannot encode known peers")
		return
	}
	if err := d.kv.Set(KnownPeersKey, data); err != nil {
		d.log.Warn().Err(err).Msg("cannot persist known peers")
	}
}

// AddKnownPeer is idempotent.
func (d *Directory) AddKnownPeer(id string) {
	if id == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := d.readLocked()
	for _, known := range ids {
		if known == id {
			return
		}
	}
	d.writeLocked(append(ids, id))
}

func (d *Directory) RemoveKnownPeer(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := d.readLocked()
	out := ids[:0]
	for _, known := range ids {
		if known != id {
			out = append(out, known)
		}
	}
	d.writeLocked(out)
}

func (d *Directory) ClearKnownPeers() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.kv.Delete(KnownPeersKey); err != nil {
		d.log.Warn().Err(err).Msg("cannot clear known peers")
	}
}

package persist

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"fluxstore/internal/storage"
	"fluxstore/pkg/store"
)

// Saver writes changed slices of successive snapshots to storage.
type Saver struct {
	st     storage.Store
	codecs Codecs
	now    func() time.Time

	mu      sync.Mutex
	version uint64
	saved   bool
	last    map[string][]byte // slice name -> fingerprint of the stored value
}

// NewSaver returns a Saver for the slices named in codecs.
func NewSaver(st storage.Store, codecs Codecs) *Saver {
	return &Saver{
		st:     st,
		codecs: codecs,
		now:    time.Now,
		last:   make(map[string][]byte),
	}
}

// Save writes every slice of sn whose encoding differs from the last one
// written, in a single batch, and returns how many were written. Snapshots
// older than one already saved are ignored.
func (s *Saver) Save(sn store.Snapshot) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saved && sn.Version() < s.version {
		return 0, nil
	}

	savedAt := s.now()
	var (
		entries []storage.Entry
		prints  = make(map[string][]byte)
	)
	for _, name := range slices.Sorted(maps.Keys(s.codecs)) {
		v, ok := sn.Get(name)
		if !ok {
			continue
		}
		enc, err := s.codecs[name].Encode(v)
		if err != nil {
			return 0, fmt.Errorf("slice %q: %w", name, err)
		}
		fp, err := fingerprint(enc)
		if err != nil {
			return 0, fmt.Errorf("slice %q: %w", name, err)
		}
		if bytes.Equal(fp, s.last[name]) {
			continue
		}
		data, err := record{Slice: name, Version: sn.Version(), SavedAt: savedAt, Value: enc}.marshal()
		if err != nil {
			return 0, fmt.Errorf("slice %q: %w", name, err)
		}
		entries = append(entries, storage.Entry{Key: []byte(name), Value: data})
		prints[name] = fp
	}

	if err := s.st.SetMany(Bucket, entries); err != nil {
		return 0, fmt.Errorf("writing snapshot: %w", err)
	}
	maps.Copy(s.last, prints)
	s.version, s.saved = sn.Version(), true
	return len(entries), nil
}

// Attach saves after every dispatch on st until detach is called. Failures
// are logged and never reach the dispatcher.
func (s *Saver) Attach(st *store.Store) (detach func()) {
	return st.Subscribe(func() {
		sn := st.State()
		n, err := s.Save(sn)
		if err != nil {
			logger.Error("persist snapshot", "version", sn.Version(), "err", err)
			return
		}
		if n > 0 {
			logger.Debug("persisted snapshot", "version", sn.Version(), "slices", n)
		}
	})
}

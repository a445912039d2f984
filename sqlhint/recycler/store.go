package recycler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"
	"github.com/wbrown/janus-recycler/sqlhint"
	"github.com/wbrown/janus-recycler/sqlhint/annotations"
)

// ErrBuildFailed marks errors returned for a build that did not produce an
// artifact, both to the builder and to every waiter of that build.
var ErrBuildFailed = errors.New("hash table build failed")

// ErrTokenCompleted is returned when a reservation is completed twice
var ErrTokenCompleted = errors.New("reservation already completed")

// Artifact is a built hash table
type Artifact interface {
	MemoryFootprint() int64
}

// Entry is a cached artifact with the hints that were in effect when it was
// built. Entries handed out by the store carry their own copy of Hints.
type Entry struct {
	Key      Key
	Artifact Artifact
	Hints    *sqlhint.Set
	BuiltAt  time.Time

	seq uint64
}

// Lookup is the outcome of LookupOrReserve. Either Hit is set and Artifact
// holds the table, or Token holds a reservation the caller must complete
// with Insert or Release.
type Lookup struct {
	Hit      bool
	Artifact Artifact
	Hints    *sqlhint.Set
	Token    *Token
}

// Token is the right to build one key
type Token struct {
	key  Key
	slot *slot
}

// Key returns the key the token reserves
func (t *Token) Key() Key {
	return t.key
}

// slot is a single-assignment in-flight build. done closes once the fields
// are final.
type slot struct {
	done     chan struct{}
	seq      uint64
	artifact Artifact
	hints    *sqlhint.Set
	err      error
}

type partitionKey struct {
	device DeviceID
	item   CacheItemType
}

type partition struct {
	entries  *btree.BTreeG[*Entry]
	inflight map[QueryPlanHash]*slot
}

func lessEntry(a, b *Entry) bool {
	return a.Key.Hash < b.Key.Hash
}

func newPartition() *partition {
	return &partition{
		entries:  btree.NewG[*Entry](8, lessEntry),
		inflight: make(map[QueryPlanHash]*slot),
	}
}

// Stats are cumulative store counters
type Stats struct {
	Hits      int64
	Misses    int64
	Waits     int64
	Builds    int64
	Bypasses  int64
	Failures  int64
	Evictions int64
}

// Store holds cached hash tables partitioned by device and item type. At
// most one build per key is in flight; concurrent requesters wait for it.
type Store struct {
	mu    sync.Mutex
	parts map[partitionKey]*partition
	seq   uint64

	hits      int64
	misses    int64
	waits     int64
	builds    int64
	bypasses  int64
	failures  int64
	evictions int64

	collector *annotations.Collector
}

// NewStore creates an empty store. collector may be nil.
func NewStore(collector *annotations.Collector) *Store {
	return &Store{
		parts:     make(map[partitionKey]*partition),
		collector: collector,
	}
}

// partitionLocked returns the partition of key, creating it on demand
func (s *Store) partitionLocked(device DeviceID, item CacheItemType) *partition {
	pk := partitionKey{device: device, item: item}
	p, ok := s.parts[pk]
	if !ok {
		p = newPartition()
		s.parts[pk] = p
	}
	return p
}

func eventData(key Key) map[string]interface{} {
	return map[string]interface{}{
		"key":    key.Hash.String(),
		"device": key.Device.String(),
		"item":   key.Item.String(),
	}
}

// LookupOrReserve returns the cached artifact for key, waits for an in-flight
// build of key, or reserves the build for the caller. A cancelled ctx only
// abandons this caller's wait; the build itself continues.
func (s *Store) LookupOrReserve(ctx context.Context, key Key) (Lookup, error) {
	start := time.Now()

	s.mu.Lock()
	p := s.partitionLocked(key.Device, key.Item)
	if e, ok := p.entries.Get(&Entry{Key: key}); ok {
		s.mu.Unlock()
		atomic.AddInt64(&s.hits, 1)
		s.collector.AddTiming(annotations.RecyclerHit, start, eventData(key))
		return Lookup{Hit: true, Artifact: e.Artifact, Hints: e.Hints.Clone()}, nil
	}

	if sl, ok := p.inflight[key.Hash]; ok {
		s.mu.Unlock()
		atomic.AddInt64(&s.waits, 1)

		select {
		case <-ctx.Done():
			return Lookup{}, ctx.Err()
		case <-sl.done:
		}

		s.collector.AddTiming(annotations.RecyclerWait, start, eventData(key))
		if sl.err != nil {
			return Lookup{}, sl.err
		}
		return Lookup{Hit: true, Artifact: sl.artifact, Hints: sl.hints.Clone()}, nil
	}

	s.seq++
	sl := &slot{done: make(chan struct{}), seq: s.seq}
	p.inflight[key.Hash] = sl
	s.mu.Unlock()

	atomic.AddInt64(&s.misses, 1)
	s.collector.AddTiming(annotations.RecyclerMiss, start, eventData(key))
	return Lookup{Token: &Token{key: key, slot: sl}}, nil
}

// takeLocked removes the token's slot from its partition, failing if the
// token was already completed
func (s *Store) takeLocked(tok *Token) (*partition, error) {
	if tok == nil || tok.slot == nil {
		return nil, errors.New("nil reservation")
	}
	p := s.partitionLocked(tok.key.Device, tok.key.Item)
	if p.inflight[tok.key.Hash] != tok.slot {
		return nil, errors.Wrapf(ErrTokenCompleted, "key %s", tok.key)
	}
	delete(p.inflight, tok.key.Hash)
	return p, nil
}

// Insert completes a reservation with a built artifact. Waiters receive the
// artifact either way; with policy.NoCache nothing is stored.
func (s *Store) Insert(tok *Token, artifact Artifact, hints *sqlhint.Set, policy Policy) error {
	if artifact == nil {
		return errors.New("nil artifact")
	}
	s.mu.Lock()
	p, err := s.takeLocked(tok)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	sl := tok.slot
	sl.artifact = artifact
	sl.hints = hints.Clone()
	if !policy.NoCache {
		p.entries.ReplaceOrInsert(&Entry{
			Key:      tok.key,
			Artifact: artifact,
			Hints:    sl.hints,
			BuiltAt:  time.Now(),
			seq:      sl.seq,
		})
	}
	s.mu.Unlock()
	close(sl.done)

	atomic.AddInt64(&s.builds, 1)
	if s.collector.Enabled() {
		data := eventData(tok.key)
		data["cached"] = !policy.NoCache
		s.collector.AddEvent(annotations.RecyclerBuild, data)
	}
	return nil
}

// Release abandons a reservation after a failed build. Every waiter receives
// the error and a later request builds again. The returned error is the one
// handed to waiters.
func (s *Store) Release(tok *Token, cause error) error {
	if tok == nil {
		return errors.New("nil reservation")
	}
	if cause == nil {
		cause = errors.New("reservation released")
	}
	failure := errors.Mark(errors.Wrapf(cause, "building %s", tok.Key()), ErrBuildFailed)

	s.mu.Lock()
	if _, err := s.takeLocked(tok); err != nil {
		s.mu.Unlock()
		return err
	}
	tok.slot.err = failure
	s.mu.Unlock()
	close(tok.slot.done)

	atomic.AddInt64(&s.failures, 1)
	if s.collector.Enabled() {
		data := eventData(tok.key)
		data["error"] = failure.Error()
		s.collector.AddEvent(annotations.RecyclerFailed, data)
	}
	return failure
}

// BuildFunc builds the artifact of one key
type BuildFunc func(ctx context.Context) (Artifact, error)

// GetOrBuild returns the cached artifact of key or builds it. Builds under
// policy.NoCache skip the store entirely. A shared build runs detached from
// the cancellation of the caller that reserved it; a cancelled ctx only stops
// this caller from waiting. A panicking build releases its reservation and
// the panic is raised again in the caller that reserved it.
func (s *Store) GetOrBuild(ctx context.Context, key Key, policy Policy, hints *sqlhint.Set, build BuildFunc) (Artifact, error) {
	if policy.NoCache {
		atomic.AddInt64(&s.bypasses, 1)
		if s.collector.Enabled() {
			data := eventData(key)
			data["reason"] = "overlaps_no_cache"
			s.collector.AddEvent(annotations.RecyclerBypass, data)
		}
		art, err := build(ctx)
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "building %s", key), ErrBuildFailed)
		}
		return art, nil
	}

	l, err := s.LookupOrReserve(ctx, key)
	if err != nil {
		return nil, err
	}
	if l.Hit {
		return l.Artifact, nil
	}

	// panicked is written before the slot completes
	var panicked interface{}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = r
				_ = s.Release(l.Token, errors.Newf("build panicked: %v", r))
			}
		}()
		art, err := build(context.WithoutCancel(ctx))
		s.complete(l.Token, art, err, hints, policy)
	}()

	sl := l.Token.slot
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-sl.done:
	}
	if panicked != nil {
		panic(panicked)
	}
	if sl.err != nil {
		return nil, sl.err
	}
	return sl.artifact, nil
}

// complete finishes a reservation with the outcome of its build
func (s *Store) complete(tok *Token, art Artifact, err error, hints *sqlhint.Set, policy Policy) {
	if err == nil && art == nil {
		err = errors.New("builder returned no artifact")
	}
	if err != nil {
		_ = s.Release(tok, err)
		return
	}
	_ = s.Insert(tok, art, hints, policy)
}

// IterateUnvisited returns the entry with the smallest key in the partition
// that is not in visited
func (s *Store) IterateUnvisited(visited map[QueryPlanHash]struct{}, item CacheItemType, device DeviceID) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.parts[partitionKey{device: device, item: item}]
	if !ok {
		return Entry{}, false
	}

	var found *Entry
	p.entries.Ascend(func(e *Entry) bool {
		if _, seen := visited[e.Key.Hash]; seen {
			return true
		}
		found = e
		return false
	})
	if found == nil {
		return Entry{}, false
	}
	e := *found
	e.Hints = found.Hints.Clone()
	return e, true
}

// Entries returns every cached entry of a partition in key order
func (s *Store) Entries(item CacheItemType, device DeviceID) []Entry {
	visited := make(map[QueryPlanHash]struct{})
	var out []Entry
	for {
		e, ok := s.IterateUnvisited(visited, item, device)
		if !ok {
			return out
		}
		visited[e.Key.Hash] = struct{}{}
		out = append(out, e)
	}
}

// Evict drops every entry of device. Builds of device that are in flight
// when Evict is called are waited for and their entries dropped as well;
// builds reserved afterwards are kept. Other devices are not touched.
func (s *Store) Evict(ctx context.Context, device DeviceID) (int, error) {
	start := time.Now()
	return s.drain(ctx, s.snapshot(device), start)
}

// evictSnapshot is the part of the store an eviction is bound to
type evictSnapshot struct {
	device  DeviceID
	cutoff  uint64
	pending []*slot
}

// snapshot captures the builds of device in flight right now. Entries with a
// sequence number up to cutoff predate the eviction.
func (s *Store) snapshot(device DeviceID) evictSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := evictSnapshot{device: device, cutoff: s.seq}
	for pk, p := range s.parts {
		if pk.device != device {
			continue
		}
		for _, sl := range p.inflight {
			snap.pending = append(snap.pending, sl)
		}
	}
	return snap
}

// drain waits for the builds of snap and drops the entries that predate it
func (s *Store) drain(ctx context.Context, snap evictSnapshot, start time.Time) (int, error) {
	for _, sl := range snap.pending {
		select {
		case <-ctx.Done():
			return 0, errors.Wrapf(ctx.Err(), "draining builds of %s", snap.device)
		case <-sl.done:
		}
	}

	removed := 0
	s.mu.Lock()
	for pk, p := range s.parts {
		if pk.device != snap.device {
			continue
		}
		var drop []*Entry
		p.entries.Ascend(func(e *Entry) bool {
			if e.seq <= snap.cutoff {
				drop = append(drop, e)
			}
			return true
		})
		for _, e := range drop {
			p.entries.Delete(e)
		}
		removed += len(drop)
	}
	s.mu.Unlock()

	atomic.AddInt64(&s.evictions, int64(removed))
	s.collector.AddTiming(annotations.RecyclerEvict, start, map[string]interface{}{
		"device": snap.device.String(),
		"count":  removed,
	})
	return removed, nil
}

// Len returns the number of cached entries in a partition
func (s *Store) Len(item CacheItemType, device DeviceID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parts[partitionKey{device: device, item: item}]
	if !ok {
		return 0
	}
	return p.entries.Len()
}

// MemoryFootprint returns the total size of the artifacts cached on device
func (s *Store) MemoryFootprint(device DeviceID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for pk, p := range s.parts {
		if pk.device != device {
			continue
		}
		p.entries.Ascend(func(e *Entry) bool {
			total += e.Artifact.MemoryFootprint()
			return true
		})
	}
	return total
}

// Stats returns the store counters
func (s *Store) Stats() Stats {
	return Stats{
		Hits:      atomic.LoadInt64(&s.hits),
		Misses:    atomic.LoadInt64(&s.misses),
		Waits:     atomic.LoadInt64(&s.waits),
		Builds:    atomic.LoadInt64(&s.builds),
		Bypasses:  atomic.LoadInt64(&s.bypasses),
		Failures:  atomic.LoadInt64(&s.failures),
		Evictions: atomic.LoadInt64(&s.evictions),
	}
}

// Clear drops every cached entry and resets the counters. Builds in flight
// complete normally and still reach their waiters.
func (s *Store) Clear() {
	s.mu.Lock()
	for _, p := range s.parts {
		p.entries.Clear(false)
	}
	s.mu.Unlock()

	atomic.StoreInt64(&s.hits, 0)
	atomic.StoreInt64(&s.misses, 0)
	atomic.StoreInt64(&s.waits, 0)
	atomic.StoreInt64(&s.builds, 0)
	atomic.StoreInt64(&s.bypasses, 0)
	atomic.StoreInt64(&s.failures, 0)
	atomic.StoreInt64(&s.evictions, 0)
}

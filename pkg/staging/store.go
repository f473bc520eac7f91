// Package staging holds transient per-session file artifacts. Keys are
// prefixed with the owning session code ("CODE/name") so teardown can purge
// everything a session left behind in one call. Content never survives the
// process; this is cleanup scope, not storage.
package staging

import (
	"container/heap"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Options tunes the store.
type Options struct {
	Shards   int           // number of shards (default 32)
	TTL      time.Duration // default artifact lifetime (0 = no expiry)
	MaxBytes uint64        // hard cap on total value bytes (0 = unlimited)
}

func (o Options) withDefaults() Options {
	if o.Shards <= 0 {
		o.Shards = 32
	}
	return o
}

// KeyFor builds the canonical artifact key for a session-scoped name.
func KeyFor(code, name string) string { return code + "/" + name }

// Prefix is the purge prefix covering every artifact of a session.
func Prefix(code string) string { return code + "/" }

// Store is a sharded in-memory byte store with TTL-driven expiry.
type Store struct {
	opts    Options
	shards  []shard
	expq    *expQueue
	closeCh chan struct{}
	wg      sync.WaitGroup

	nowFn func() time.Time

	mKeys    atomic.Uint64
	mBytes   atomic.Uint64
	mSets    atomic.Uint64
	mHits    atomic.Uint64
	mMisses  atomic.Uint64
	mDels    atomic.Uint64
	mExpired atomic.Uint64
	mPurges  atomic.Uint64
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*entry
}

type entry struct {
	val      []byte
	expireAt int64 // unix nano; 0 = no expiry
}

func New(opts Options) *Store {
	opts = opts.withDefaults()
	s := &Store{
		opts:    opts,
		shards:  make([]shard, opts.Shards),
		expq:    &expQueue{},
		closeCh: make(chan struct{}),
		nowFn:   time.Now,
	}
	for i := range s.shards {
		s.shards[i].m = make(map[string]*entry)
	}
	heap.Init(s.expq)
	s.wg.Add(1)
	go s.expirer()
	return s
}

func (s *Store) Close() {
	close(s.closeCh)
	s.expq.Lock()
	if s.expq.cond != nil {
		s.expq.cond.Broadcast()
	}
	s.expq.Unlock()
	s.wg.Wait()
}

func (s *Store) shardFor(key string) *shard {
	// FNV-1a 64
	var h uint64 = 1469598103934665603
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211
	}
	return &s.shards[int(h%uint64(len(s.shards)))]
}

// tryAddBytes reserves a positive byte delta against MaxBytes.
func (s *Store) tryAddBytes(delta uint64) bool {
	if s.opts.MaxBytes == 0 {
		s.mBytes.Add(delta)
		return true
	}
	for {
		cur := s.mBytes.Load()
		next := cur + delta
		if next > s.opts.MaxBytes {
			return false
		}
		if s.mBytes.CompareAndSwap(cur, next) {
			return true
		}
	}
}

func (s *Store) subBytes(n int) {
	if n <= 0 {
		return
	}
	for {
		cur := s.mBytes.Load()
		var next uint64
		if uint64(n) > cur {
			next = 0
		} else {
			next = cur - uint64(n)
		}
		if s.mBytes.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Put stores a copy of val under key. A zero ttl falls back to the store
// default; the entry never expires when both are zero. Returns false when
// the byte budget would be exceeded.
func (s *Store) Put(key string, val []byte, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = s.opts.TTL
	}
	now := s.nowFn()
	expAt := int64(0)
	if ttl > 0 {
		expAt = now.Add(ttl).UnixNano()
	}
	v := make([]byte, len(val))
	copy(v, val)

	sh := s.shardFor(key)
	sh.mu.Lock()
	prev, existed := sh.m[key]
	oldLen := 0
	if existed {
		oldLen = len(prev.val)
	}
	delta := len(v) - oldLen
	if delta > 0 {
		if !s.tryAddBytes(uint64(delta)) {
			sh.mu.Unlock()
			return false
		}
	} else {
		s.subBytes(-delta)
	}
	sh.m[key] = &entry{val: v, expireAt: expAt}
	if !existed {
		s.mKeys.Add(1)
	}
	s.mSets.Add(1)
	if expAt != 0 {
		s.enqueueExpire(key, expAt)
	}
	sh.mu.Unlock()
	return true
}

// Get returns a copy of the value and whether it was present and live.
func (s *Store) Get(key string) ([]byte, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	e, ok := sh.m[key]
	if !ok {
		sh.mu.RUnlock()
		s.mMisses.Add(1)
		return nil, false
	}
	exp := e.expireAt
	val := e.val
	sh.mu.RUnlock()

	if exp != 0 && exp <= s.nowFn().UnixNano() {
		// lazy removal
		sh.mu.Lock()
		if e2, ok2 := sh.m[key]; ok2 && e2.expireAt != 0 && e2.expireAt <= s.nowFn().UnixNano() {
			delete(sh.m, key)
			s.mExpired.Add(1)
			s.mKeys.Add(^uint64(0))
			s.subBytes(len(e2.val))
		}
		sh.mu.Unlock()
		s.mMisses.Add(1)
		return nil, false
	}
	s.mHits.Add(1)
	out := make([]byte, len(val))
	copy(out, val)
	return out, true
}

func (s *Store) Exists(key string) bool {
	_, ok := s.Get(key)
	return ok
}

func (s *Store) Delete(key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	e, ok := sh.m[key]
	if ok {
		delete(sh.m, key)
	}
	sh.mu.Unlock()
	if ok {
		s.mDels.Add(1)
		s.mKeys.Add(^uint64(0))
		s.subBytes(len(e.val))
	}
	return ok
}

// DeletePrefix removes every artifact whose key starts with prefix and
// returns how many were removed. This is the session-teardown path; the
// full-shard scan is fine at the store's expected scale.
func (s *Store) DeletePrefix(prefix string) int {
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, e := range sh.m {
			if strings.HasPrefix(k, prefix) {
				delete(sh.m, k)
				removed++
				s.mKeys.Add(^uint64(0))
				s.subBytes(len(e.val))
			}
		}
		sh.mu.Unlock()
	}
	if removed > 0 {
		s.mPurges.Add(1)
		s.mDels.Add(uint64(removed))
	}
	return removed
}

// Stats is a metrics snapshot.
type Stats struct {
	Keys    uint64
	Bytes   uint64
	Sets    uint64
	Hits    uint64
	Misses  uint64
	Dels    uint64
	Expired uint64
	Purges  uint64
}

func (s *Store) Metrics() Stats {
	return Stats{
		Keys:    s.mKeys.Load(),
		Bytes:   s.mBytes.Load(),
		Sets:    s.mSets.Load(),
		Hits:    s.mHits.Load(),
		Misses:  s.mMisses.Load(),
		Dels:    s.mDels.Load(),
		Expired: s.mExpired.Load(),
		Purges:  s.mPurges.Load(),
	}
}

// ---------- expiry queue ----------

type expItem struct {
	when  int64
	key   string
	index int
}

type expQueue struct {
	sync.Mutex
	cond  *sync.Cond
	items []*expItem
}

func (q *expQueue) Len() int           { return len(q.items) }
func (q *expQueue) Less(i, j int) bool { return q.items[i].when < q.items[j].when }
func (q *expQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}
func (q *expQueue) Push(x any) {
	it := x.(*expItem)
	it.index = len(q.items)
	q.items = append(q.items, it)
}
func (q *expQueue) Pop() any {
	old := q.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	q.items = old[:n-1]
	return it
}

func (s *Store) enqueueExpire(key string, when int64) {
	it := &expItem{key: key, when: when, index: -1}
	s.expq.Lock()
	if s.expq.cond == nil {
		s.expq.cond = sync.NewCond(s.expq)
	}
	heap.Push(s.expq, it)
	s.expq.cond.Broadcast()
	s.expq.Unlock()
}

func (s *Store) expirer() {
	defer s.wg.Done()
	for {
		s.expq.Lock()
		for s.expq.Len() == 0 {
			if s.expq.cond == nil {
				s.expq.cond = sync.NewCond(s.expq)
			}
			if s.isClosed() {
				s.expq.Unlock()
				return
			}
			s.expq.cond.Wait()
			if s.isClosed() {
				s.expq.Unlock()
				return
			}
		}
		it := s.expq.items[0]
		now := s.nowFn().UnixNano()
		if it.when > now {
			d := time.Duration(it.when - now)
			timer := time.NewTimer(d)
			s.expq.Unlock()

			select {
			case <-timer.C:
			case <-s.closeCh:
				timer.Stop()
				return
			}
			continue
		}
		heap.Pop(s.expq)
		s.expq.Unlock()

		// the key may have been deleted or rewritten since it was queued
		sh := s.shardFor(it.key)
		nowN := s.nowFn().UnixNano()
		sh.mu.Lock()
		e := sh.m[it.key]
		if e != nil && e.expireAt != 0 && e.expireAt <= nowN {
			delete(sh.m, it.key)
			s.mExpired.Add(1)
			s.mKeys.Add(^uint64(0))
			s.subBytes(len(e.val))
		}
		sh.mu.Unlock()
	}
}

func (s *Store) isClosed() bool {
	select {
	case <-s.closeCh:
		return true
	default:
		return false
	}
}

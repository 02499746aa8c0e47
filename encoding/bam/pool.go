package bam

import (
	"runtime"
	"sync"
	"sync/atomic"

	"v.io/x/lib/vlog"
)

// FreePool recycles Records to keep the per-record allocations of a hot
// decode loop off the garbage collector.  The pool is a ring of
// mutex-guarded shards; callers are spread across the shards by a rotating
// cursor, so concurrent Get and Put calls rarely meet on the same lock.
//
// A Get probes a single shard and falls back to allocating; a Put drops the
// record when its shard is full.  Both are deliberate: scanning the whole
// ring would reintroduce the contention the sharding exists to avoid, and
// dropping on overflow bounds the pool's footprint without a reaper.  The
// pool never shrinks on its own.
type FreePool struct {
	shards   []freeShard
	capacity int // per shard; 0 means unbounded
	cursor   uint32
}

type freeShard struct {
	mu   sync.Mutex
	recs []*Record
}

// NewFreePool creates a pool holding at most roughly maxSize records.
// maxSize <= 0 removes the bound.
func NewFreePool(maxSize int) *FreePool {
	nShards := runtime.GOMAXPROCS(0)
	capacity := 0
	if maxSize > 0 {
		capacity = (maxSize + nShards - 1) / nShards
	}
	return &FreePool{
		shards:   make([]freeShard, nShards),
		capacity: capacity,
	}
}

func (p *FreePool) next() *freeShard {
	return &p.shards[int(atomic.AddUint32(&p.cursor, 1))%len(p.shards)]
}

// Get returns a recycled Record, or a newly allocated one when the shard
// the cursor lands on is empty.
func (p *FreePool) Get() *Record {
	s := p.next()
	var rec *Record
	s.mu.Lock()
	if n := len(s.recs); n > 0 {
		rec = s.recs[n-1]
		s.recs[n-1] = nil
		s.recs = s.recs[:n-1]
	}
	s.mu.Unlock()
	if rec == nil {
		rec = &Record{Magic: Magic}
	}
	return rec
}

// Put recycles rec.  The caller must not touch the record afterwards.
func (p *FreePool) Put(rec *Record) {
	s := p.next()
	s.mu.Lock()
	if p.capacity == 0 || len(s.recs) < p.capacity {
		s.recs = append(s.recs, rec)
	}
	s.mu.Unlock()
}

func (p *FreePool) testLen() int {
	n := 0
	for i := range p.shards {
		p.shards[i].mu.Lock()
		n += len(p.shards[i].recs)
		p.shards[i].mu.Unlock()
	}
	return n
}

var recordPool = NewFreePool(1 << 20)

// GetFromFreePool gets a Record from the singleton freepool, or allocates
// one anew if the pool is empty, and resets it for the next parse.
func GetFromFreePool() *Record {
	rec := recordPool.Get()
	rec.Name = ""
	rec.Ref = nil
	rec.MateRef = nil
	rec.Cigar = nil
	rec.Seq = Seq{}
	rec.Qual = nil
	rec.AuxFields = rec.AuxFields[:0]
	rec.voff = 0
	return rec
}

var nPoolWarnings int32

// PutInFreePool adds "r" to the singleton freepool.  The caller must
// guarantee that there are no outstanding references to "r"; it will be
// overwritten in the future.
func PutInFreePool(r *Record) {
	if r == nil {
		panic("r=nil")
	}
	if r.Magic != Magic {
		if atomic.AddInt32(&nPoolWarnings, 1) < 2 {
			vlog.Errorf(`PutInFreePool: object was not produced by this package's freepool. magic %x.
If you see this warning in non-test code path, you MUST fix the problem`, r.Magic)
		}
		return
	}
	recordPool.Put(r)
}

package node

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/weicao/cascadb/invariant"
	"github.com/weicao/cascadb/message"
	"github.com/weicao/cascadb/options"
	"github.com/weicao/cascadb/record"
)

// Kind tags which variant a Node carries, per Design Note 2 ("model as a
// tagged variant").
type Kind uint8

const (
	KindSchema Kind = iota
	KindInner
	KindLeaf
)

// Pivot is one inner-node separator entry (spec.md §3, "Pivot").
type Pivot struct {
	Key    []byte
	Child  ID
	Buffer *message.Buffer // nil when unloaded (skeleton only)
	Bloom  []byte          // descriptor bloom, gates loading Buffer

	// On-disk descriptor, relative to the node's buffer-storage region.
	Offset       uint32
	Length       uint32
	Uncompressed uint32
	CRC          uint16
}

// BucketInfo is the skeleton-only descriptor for one leaf bucket.
type BucketInfo struct {
	FirstKey []byte
	Bucket   *record.Bucket // nil when unloaded (skeleton only)

	Offset       uint32
	Length       uint32
	Uncompressed uint32
	CRC          uint16
}

type schemaData struct {
	RootID      ID
	NextInnerID ID
	NextLeafID  ID
	TreeDepth   uint32
}

type innerData struct {
	Bottom       bool // true iff children are leaves
	FirstChild   ID
	FirstBuffer  *message.Buffer
	FirstBloom   []byte
	FirstOffset  uint32
	FirstLength  uint32
	FirstUncomp  uint32
	FirstCRC     uint16
	Pivots       []*Pivot
}

type leafData struct {
	LeftSibling  ID
	RightSibling ID

	// descriptors mirrors the on-disk bucket list; its Bucket field is
	// nil until that bucket's contents have been loaded. Kept in sync
	// with recordBuckets once the leaf is FullLoaded.
	descriptors []BucketInfo

	// recordBuckets is the authoritative in-memory record container,
	// populated once the leaf is upgraded to FullLoaded.
	recordBuckets *record.Buckets

	balancing bool // single-concurrent-rebalance guard (spec.md §4.5.5)
}

// Node is a tagged-variant buffered-tree node: schema, inner, or leaf.
// Lifecycle bookkeeping (refcount/pin/dirty/dead/flushing/timestamps)
// lives here because the cache treats every kind uniformly.
type Node struct {
	ID   ID
	Kind Kind
	cmp  options.Comparator

	latch sync.RWMutex // node read/write latch (spec.md §5)

	status Status

	refcount int32 // atomic
	pincount int32 // atomic

	bookMu       sync.Mutex // guards the fields below (multi-field invariants)
	dirty        bool
	dead         bool
	flushing     bool
	firstWriteTS time.Time
	lastUsedTS   time.Time

	schema *schemaData
	inner  *innerData
	leaf   *leafData
}

// newBase builds the bookkeeping-only shell shared by every constructor.
func newBase(id ID, kind Kind, cmp options.Comparator, status Status) *Node {
	return &Node{
		ID:         id,
		Kind:       kind,
		cmp:        cmp,
		status:     status,
		lastUsedTS: time.Now(),
	}
}

// Lock / Unlock / RLock / RUnlock expose the node latch directly; callers
// (tree/cache) coordinate lock coupling and crab-walking explicitly.
func (n *Node) Lock()    { n.latch.Lock() }
func (n *Node) Unlock()  { n.latch.Unlock() }
func (n *Node) RLock()   { n.latch.RLock() }
func (n *Node) RUnlock() { n.latch.RUnlock() }

func (n *Node) Status() Status {
	n.bookMu.Lock()
	defer n.bookMu.Unlock()
	return n.status
}

func (n *Node) setStatus(s Status) {
	n.bookMu.Lock()
	n.status = s
	n.bookMu.Unlock()
}

// IncRef/DecRef are the only mutators of refcount. The cache calls them
// on Get/Release, and the tree's node constructors take the creator's
// initial reference with IncRef.
func (n *Node) IncRef() int32 { return atomic.AddInt32(&n.refcount, 1) }
func (n *Node) DecRef() int32 {
	v := atomic.AddInt32(&n.refcount, -1)
	invariant.Assert(v >= 0, "node %d: refcount underflow", n.ID)
	return v
}
func (n *Node) RefCount() int32 { return atomic.LoadInt32(&n.refcount) }

func (n *Node) Pin()   { atomic.AddInt32(&n.pincount, 1) }
func (n *Node) Unpin() { atomic.AddInt32(&n.pincount, -1) }
func (n *Node) PinCount() int32 { return atomic.LoadInt32(&n.pincount) }

func (n *Node) SetDirty(dirty bool) {
	n.bookMu.Lock()
	if !n.dirty && dirty {
		n.firstWriteTS = time.Now()
	}
	n.dirty = dirty
	n.bookMu.Unlock()
}

func (n *Node) IsDirty() bool {
	n.bookMu.Lock()
	defer n.bookMu.Unlock()
	return n.dirty
}

func (n *Node) SetDead() {
	n.bookMu.Lock()
	n.dead = true
	n.bookMu.Unlock()
}

func (n *Node) IsDead() bool {
	n.bookMu.Lock()
	defer n.bookMu.Unlock()
	return n.dead
}

func (n *Node) SetFlushing(f bool) {
	n.bookMu.Lock()
	n.flushing = f
	n.bookMu.Unlock()
}

func (n *Node) IsFlushing() bool {
	n.bookMu.Lock()
	defer n.bookMu.Unlock()
	return n.flushing
}

func (n *Node) FirstWriteTS() time.Time {
	n.bookMu.Lock()
	defer n.bookMu.Unlock()
	return n.firstWriteTS
}

func (n *Node) Touch() {
	n.bookMu.Lock()
	n.lastUsedTS = time.Now()
	n.bookMu.Unlock()
}

func (n *Node) LastUsedTS() time.Time {
	n.bookMu.Lock()
	defer n.bookMu.Unlock()
	return n.lastUsedTS
}

// Comparator returns the user comparator this node orders keys with.
func (n *Node) Comparator() options.Comparator { return n.cmp }

package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rajasaid/InsightOS/internal/retrieve"
)

// LatencyBucket is a coarse retrieval latency class.
type LatencyBucket string

const (
	BucketUnder10ms  LatencyBucket = "lt_10ms"
	BucketUnder50ms  LatencyBucket = "lt_50ms"
	BucketUnder100ms LatencyBucket = "lt_100ms"
	BucketUnder500ms LatencyBucket = "lt_500ms"
	BucketSlow       LatencyBucket = "ge_500ms"
)

// LatencyToBucket classifies d.
func LatencyToBucket(d time.Duration) LatencyBucket {
	switch ms := d.Milliseconds(); {
	case ms < 10:
		return BucketUnder10ms
	case ms < 50:
		return BucketUnder50ms
	case ms < 100:
		return BucketUnder100ms
	case ms < 500:
		return BucketUnder500ms
	default:
		return BucketSlow
	}
}

// Ring is a fixed-capacity FIFO that evicts the oldest item when full.
type Ring[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int
	size  int
}

// NewRing returns a ring holding at most capacity items.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &Ring[T]{items: make([]T, capacity)}
}

func (r *Ring[T]) Add(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[r.head] = item
	r.head = (r.head + 1) % len(r.items)
	if r.size < len(r.items) {
		r.size++
	}
}

// Items returns the contents oldest first. Never nil.
func (r *Ring[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, r.size)
	if r.size < len(r.items) {
		return append(out, r.items[:r.size]...)
	}
	out = append(out, r.items[r.head:]...)
	return append(out, r.items[:r.head]...)
}

func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// ExtractTerms lowercases query and returns its words of three or more
// letters or digits.
func ExtractTerms(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var terms []string
	for _, w := range words {
		if len([]rune(w)) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is a query term and how often it was seen.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// QuerySnapshot is a point-in-time copy of the query log.
type QuerySnapshot struct {
	Total       int64                   `json:"total"`
	Empty       int64                   `json:"empty"`
	Errors      int64                   `json:"errors"`
	Repeats     int64                   `json:"repeats"`
	TopTerms    []TermCount             `json:"top_terms"`
	RecentEmpty []string                `json:"recent_empty"`
	Latency     map[LatencyBucket]int64 `json:"latency"`
	Since       time.Time               `json:"since"`
}

// EmptyRate is the fraction of queries that returned an empty bundle.
func (s QuerySnapshot) EmptyRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Empty) / float64(s.Total)
}

// QueryLogConfig sizes the query log.
type QueryLogConfig struct {
	TermCapacity   int
	EmptyCapacity  int
	RecentCapacity int
}

// QueryLog aggregates retrieval queries in memory: term frequencies,
// recent queries that found nothing, latency classes and exact repeats.
// It is safe for concurrent use.
type QueryLog struct {
	mu      sync.Mutex
	terms   *lru.Cache[string, int64]
	recent  *lru.Cache[string, struct{}]
	empty   *Ring[string]
	latency map[LatencyBucket]int64
	total   int64
	nEmpty  int64
	nErrors int64
	repeats int64
	since   time.Time
}

// NewQueryLog returns a log; zero capacities select 100, 100 and 500.
func NewQueryLog(cfg QueryLogConfig) *QueryLog {
	if cfg.TermCapacity <= 0 {
		cfg.TermCapacity = 100
	}
	if cfg.EmptyCapacity <= 0 {
		cfg.EmptyCapacity = 100
	}
	if cfg.RecentCapacity <= 0 {
		cfg.RecentCapacity = 500
	}
	terms, _ := lru.New[string, int64](cfg.TermCapacity)
	recent, _ := lru.New[string, struct{}](cfg.RecentCapacity)
	return &QueryLog{
		terms:   terms,
		recent:  recent,
		empty:   NewRing[string](cfg.EmptyCapacity),
		latency: make(map[LatencyBucket]int64),
		since:   time.Now(),
	}
}

// Record adds one retrieval.
func (l *QueryLog) Record(ev retrieve.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total++
	l.latency[LatencyToBucket(ev.Duration)]++
	switch ev.Outcome {
	case retrieve.OutcomeError:
		l.nErrors++
		return
	case retrieve.OutcomeEmpty:
		l.nEmpty++
		l.empty.Add(ev.Query)
	}

	for _, term := range ExtractTerms(ev.Query) {
		n, _ := l.terms.Get(term)
		l.terms.Add(term, n+1)
	}

	key := queryKey(ev.Query)
	if _, seen := l.recent.Get(key); seen {
		l.repeats++
	}
	l.recent.Add(key, struct{}{})
}

func queryKey(q string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.Join(strings.Fields(q), " "))))
	return hex.EncodeToString(sum[:16])
}

// Snapshot copies the current aggregates. TopTerms is ordered by count,
// then term.
func (l *QueryLog) Snapshot() QuerySnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := QuerySnapshot{
		Total:       l.total,
		Empty:       l.nEmpty,
		Errors:      l.nErrors,
		Repeats:     l.repeats,
		RecentEmpty: l.empty.Items(),
		Latency:     make(map[LatencyBucket]int64, len(l.latency)),
		Since:       l.since,
	}
	for k, v := range l.latency {
		s.Latency[k] = v
	}
	for _, term := range l.terms.Keys() {
		if n, ok := l.terms.Peek(term); ok {
			s.TopTerms = append(s.TopTerms, TermCount{Term: term, Count: n})
		}
	}
	sort.Slice(s.TopTerms, func(i, j int) bool {
		if s.TopTerms[i].Count != s.TopTerms[j].Count {
			return s.TopTerms[i].Count > s.TopTerms[j].Count
		}
		return s.TopTerms[i].Term < s.TopTerms[j].Term
	})
	return s
}

package experience

import (
	"container/heap"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"evotrader/internal/config"
	"evotrader/internal/errors"
)

// heapEntry ties a stored experience ID to its insertion-time priority.
type heapEntry struct {
	id       string
	priority float64
}

// priorityHeap is a min-heap on priority, so the root is always the
// cheapest record to evict.
type priorityHeap []heapEntry

func (h priorityHeap) Len() int            { return len(h) }
func (h priorityHeap) Less(i, j int) bool  { return h[i].priority < h[j].priority }
func (h priorityHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *priorityHeap) Push(x interface{}) { *h = append(*h, x.(heapEntry)) }
func (h *priorityHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Store is a bounded, priority-ranked memory of transitions. When full,
// adding a record first evicts the lowest-priority one, so size never
// exceeds capacity. Safe for concurrent use.
type Store struct {
	mu  sync.Mutex
	cfg config.StoreConfig
	rng *rand.Rand
	log zerolog.Logger

	records      map[string]*Experience
	evictQueue   priorityHeap
	byRegime     map[string]map[string]struct{}
	profitable   map[string]struct{}
	unprofitable map[string]struct{}

	totalAdded   int
	totalEvicted int
}

// Stats summarizes the current contents of the store.
type Stats struct {
	Size            int            `json:"size"`
	Capacity        int            `json:"capacity"`
	Utilization     float64        `json:"utilization"`
	TotalAdded      int            `json:"total_added"`
	TotalEvicted    int            `json:"total_evicted"`
	ProfitableRatio float64        `json:"profitable_ratio"`
	AvgPnL          float64        `json:"avg_pnl"`
	AvgPriority     float64        `json:"avg_priority"`
	ByRegime        map[string]int `json:"by_regime"`
}

// SampleOptions narrows and shapes a Sample call. The zero value means
// prioritized sampling over the whole store.
type SampleOptions struct {
	Regime         string
	OnlyProfitable bool
	Uniform        bool
}

// NewStore builds an empty store. The rng drives sampling and must not be
// shared with callers that expect reproducible draws elsewhere.
func NewStore(cfg config.StoreConfig, rng *rand.Rand, log zerolog.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, errors.NewConfigError("store.rng", nil, "random source is required")
	}
	return &Store{
		cfg:          cfg,
		rng:          rng,
		log:          log,
		records:      make(map[string]*Experience),
		byRegime:     make(map[string]map[string]struct{}),
		profitable:   make(map[string]struct{}),
		unprofitable: make(map[string]struct{}),
	}, nil
}

// Add stores a transition, evicting the lowest-priority record first when
// the store is at capacity. Returns the stored record.
func (s *Store) Add(t Transition) (*Experience, error) {
	if len(t.Observation) == 0 {
		return nil, errors.NewInvariantError("experience", "observation is empty")
	}
	for _, v := range t.Observation {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.NewInvariantError("experience", "observation contains non-finite values")
		}
	}
	ts := t.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	exp := &Experience{
		ID:            uuid.NewString(),
		EpisodeID:     t.EpisodeID,
		Timestamp:     ts,
		MarketState:   append([]float64(nil), t.Observation...),
		MarketRegime:  t.MarketRegime,
		Action:        t.Action,
		Confidence:    t.Confidence,
		Reward:        t.Reward,
		NextState:     append([]float64(nil), t.NextObservation...),
		PnL:           t.PnL,
		HoldingTime:   t.HoldingTime,
		WasProfitable: t.PnL > 0,
		LessonTags:    append([]string(nil), t.LessonTags...),
		Priority:      computePriority(t.Reward, t.PnL, t.HoldingTime),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records) >= s.cfg.MaxSize {
		s.evictLowestLocked()
	}
	s.insertLocked(exp)
	s.totalAdded++
	return exp, nil
}

func (s *Store) insertLocked(exp *Experience) {
	s.records[exp.ID] = exp
	heap.Push(&s.evictQueue, heapEntry{id: exp.ID, priority: exp.Priority})
	if exp.MarketRegime != "" {
		set, ok := s.byRegime[exp.MarketRegime]
		if !ok {
			set = make(map[string]struct{})
			s.byRegime[exp.MarketRegime] = set
		}
		set[exp.ID] = struct{}{}
	}
	if exp.WasProfitable {
		s.profitable[exp.ID] = struct{}{}
	} else {
		s.unprofitable[exp.ID] = struct{}{}
	}
}

// evictLowestLocked removes the record at the heap root. Stale heap entries
// cannot occur because records are only ever removed here.
func (s *Store) evictLowestLocked() {
	if s.evictQueue.Len() == 0 {
		return
	}
	entry := heap.Pop(&s.evictQueue).(heapEntry)
	exp, ok := s.records[entry.id]
	if !ok {
		return
	}
	delete(s.records, entry.id)
	if set, ok := s.byRegime[exp.MarketRegime]; ok {
		delete(set, entry.id)
		if len(set) == 0 {
			delete(s.byRegime, exp.MarketRegime)
		}
	}
	delete(s.profitable, entry.id)
	delete(s.unprofitable, entry.id)
	s.totalEvicted++
	s.log.Debug().
		Str("id", entry.id).
		Float64("priority", entry.priority).
		Msg("evicted lowest-priority experience")
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Get returns the record with the given ID, or nil.
func (s *Store) Get(id string) *Experience {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

// Sample draws up to n records without replacement. By default the draw is
// weighted by priority; opts can restrict to a regime or to profitable
// records, or switch to a uniform draw. Fewer than n candidates returns
// them all.
func (s *Store) Sample(n int, opts SampleOptions) []*Experience {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := s.candidatesLocked(opts)
	if n <= 0 || len(candidates) == 0 {
		return nil
	}
	if len(candidates) <= n {
		out := make([]*Experience, len(candidates))
		copy(out, candidates)
		return out
	}
	if opts.Uniform {
		s.rng.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
		return candidates[:n]
	}
	return s.weightedSampleLocked(candidates, n)
}

func (s *Store) candidatesLocked(opts SampleOptions) []*Experience {
	var ids map[string]struct{}
	switch {
	case opts.Regime != "" && opts.OnlyProfitable:
		ids = make(map[string]struct{})
		for id := range s.byRegime[opts.Regime] {
			if _, ok := s.profitable[id]; ok {
				ids[id] = struct{}{}
			}
		}
	case opts.Regime != "":
		ids = s.byRegime[opts.Regime]
	case opts.OnlyProfitable:
		ids = s.profitable
	}

	if ids == nil {
		out := make([]*Experience, 0, len(s.records))
		for _, exp := range s.records {
			out = append(out, exp)
		}
		return out
	}
	out := make([]*Experience, 0, len(ids))
	for id := range ids {
		out = append(out, s.records[id])
	}
	return out
}

// weightedSampleLocked draws n records weighted by priority, removing each
// pick from the pool. Non-positive total weight falls back to uniform.
func (s *Store) weightedSampleLocked(pool []*Experience, n int) []*Experience {
	total := 0.0
	for _, exp := range pool {
		total += exp.Priority
	}
	out := make([]*Experience, 0, n)
	for len(out) < n && len(pool) > 0 {
		idx := len(pool) - 1
		if total > 0 {
			r := s.rng.Float64() * total
			acc := 0.0
			for i, exp := range pool {
				acc += exp.Priority
				if r <= acc {
					idx = i
					break
				}
			}
		} else {
			idx = s.rng.Intn(len(pool))
		}
		picked := pool[idx]
		total -= picked.Priority
		pool[idx] = pool[len(pool)-1]
		pool = pool[:len(pool)-1]
		out = append(out, picked)
	}
	return out
}

// KNearest returns up to k stored records ranked by cosine similarity of
// their market state to the query observation.
func (s *Store) KNearest(state []float64, k int) []*Experience {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k <= 0 || len(s.records) == 0 {
		return nil
	}
	type scored struct {
		exp *Experience
		sim float64
	}
	ranked := make([]scored, 0, len(s.records))
	for _, exp := range s.records {
		ranked = append(ranked, scored{exp: exp, sim: cosineSimilarity(state, exp.MarketState)})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].sim > ranked[j].sim })
	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]*Experience, k)
	for i := 0; i < k; i++ {
		out[i] = ranked[i].exp
	}
	return out
}

// LessonsForRegime returns the lesson tags of profitable records in the
// given regime, deduplicated.
func (s *Store) LessonsForRegime(regime string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	var lessons []string
	for id := range s.byRegime[regime] {
		if _, ok := s.profitable[id]; !ok {
			continue
		}
		for _, tag := range s.records[id].LessonTags {
			if _, dup := seen[tag]; dup {
				continue
			}
			seen[tag] = struct{}{}
			lessons = append(lessons, tag)
		}
	}
	sort.Strings(lessons)
	return lessons
}

// Stats reports aggregate figures over the current contents.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Size:         len(s.records),
		Capacity:     s.cfg.MaxSize,
		TotalAdded:   s.totalAdded,
		TotalEvicted: s.totalEvicted,
		ByRegime:     make(map[string]int),
	}
	if st.Capacity > 0 {
		st.Utilization = float64(st.Size) / float64(st.Capacity)
	}
	if st.Size == 0 {
		return st
	}
	var pnlSum, prioSum float64
	for _, exp := range s.records {
		pnlSum += exp.PnL
		prioSum += exp.Priority
	}
	st.AvgPnL = pnlSum / float64(st.Size)
	st.AvgPriority = prioSum / float64(st.Size)
	st.ProfitableRatio = float64(len(s.profitable)) / float64(st.Size)
	for regime, set := range s.byRegime {
		st.ByRegime[regime] = len(set)
	}
	return st
}

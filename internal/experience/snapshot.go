package experience

import (
	"evotrader/internal/checkpoint"
)

type snapshot struct {
	Experiences  []*Experience `json:"experiences"`
	TotalAdded   int           `json:"total_added"`
	TotalEvicted int           `json:"total_evicted"`
}

// Save writes the full store contents to path atomically.
func (s *Store) Save(path string) error {
	s.mu.Lock()
	snap := snapshot{
		Experiences:  make([]*Experience, 0, len(s.records)),
		TotalAdded:   s.totalAdded,
		TotalEvicted: s.totalEvicted,
	}
	for _, exp := range s.records {
		snap.Experiences = append(snap.Experiences, exp)
	}
	s.mu.Unlock()

	return checkpoint.WriteJSON(path, snap)
}

// Load replaces the store contents with a previously saved snapshot,
// rebuilding the eviction queue and the regime and profitability indexes.
// IDs and priorities are preserved as stored. A missing file returns
// errors.ErrNoPriorState.
func (s *Store) Load(path string) error {
	var snap snapshot
	if err := checkpoint.ReadJSON(path, &snap); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*Experience, len(snap.Experiences))
	s.evictQueue = s.evictQueue[:0]
	s.byRegime = make(map[string]map[string]struct{})
	s.profitable = make(map[string]struct{})
	s.unprofitable = make(map[string]struct{})
	for _, exp := range snap.Experiences {
		if len(s.records) >= s.cfg.MaxSize {
			s.evictLowestLocked()
		}
		s.insertLocked(exp)
	}
	s.totalAdded = snap.TotalAdded
	s.totalEvicted = snap.TotalEvicted
	s.log.Info().Int("experiences", len(s.records)).Str("path", path).Msg("experience store restored")
	return nil
}

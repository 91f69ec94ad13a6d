package protect

import (
	"sync"
	"time"
)

// WSStat records one applied update-channel message.
type WSStat struct {
	Model  string    `json:"model"`
	Action string    `json:"action"`
	Keys   []string  `json:"keys"`
	Size   int       `json:"size"`
	At     time.Time `json:"at"`

	// Filtered marks an update that changed nothing in the cache.
	Filtered bool `json:"filtered"`
}

// WSStatSummary aggregates captured messages. Counters cover unfiltered
// messages only.
type WSStatSummary struct {
	Count           int            `json:"count"`
	Unfiltered      int            `json:"unfiltered"`
	FilteredPercent float64        `json:"filtered_percent"`
	Keys            map[string]int `json:"keys"`
	Models          map[string]int `json:"models"`
	Actions         map[string]int `json:"actions"`
}

// WSStats is a bounded recorder of WSStat values. The oldest records are
// discarded once the limit is reached.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type WSStats struct {
	mu      sync.Mutex
	limit   int
	records []WSStat
	enabled bool
}

// NewWSStats creates a recorder holding at most limit records.
func NewWSStats(limit int, enabled bool) *WSStats {
	if limit <= 0 {
		limit = DefaultStatsLimit
	}
	return &WSStats{limit: limit, enabled: enabled}
}

// SetEnabled turns capture on or off.
func (s *WSStats) SetEnabled(on bool) {
	s.mu.Lock()
	s.enabled = on
	s.mu.Unlock()
}

// Enabled reports whether capture is on.
func (s *WSStats) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Record stores st when capture is enabled.
func (s *WSStats) Record(st WSStat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return
	}
	if len(s.records) >= s.limit {
		n := copy(s.records, s.records[1:])
		s.records = s.records[:n]
	}
	s.records = append(s.records, st)
}

// Records returns a copy of the captured records, oldest first.
func (s *WSStats) Records() []WSStat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]WSStat(nil), s.records...)
}

// Clear discards every record.
func (s *WSStats) Clear() {
	s.mu.Lock()
	s.records = nil
	s.mu.Unlock()
}

// Summary aggregates the captured records.
func (s *WSStats) Summary() WSStatSummary {
	return Summarize(s.Records())
}

// Summarize aggregates records.
func Summarize(records []WSStat) WSStatSummary {
	sum := WSStatSummary{
		Count:   len(records),
		Keys:    make(map[string]int),
		Models:  make(map[string]int),
		Actions: make(map[string]int),
	}
	for _, r := range records {
		if r.Filtered {
			continue
		}
		sum.Unfiltered++
		sum.Models[r.Model]++
		sum.Actions[r.Action]++
		for _, k := range r.Keys {
			sum.Keys[k]++
		}
	}
	if sum.Count > 0 {
		sum.FilteredPercent = (1 - float64(sum.Unfiltered)/float64(sum.Count)) * 100
	}
	return sum
}

package intel

import (
	"sort"
	"time"
)

// Pattern classification labels
const (
	ClassThreat        = "threat"
	ClassFalsePositive = "false_positive"
)

const (
	// querySimilarityFloor: patterns below this similarity do not vote
	querySimilarityFloor = 0.7
	// mergeSimilarityFloor: above this, a record reinforces the existing
	// pattern instead of inserting a new one
	mergeSimilarityFloor = 0.98

	confidenceIncrement = 0.1
	confidenceCap       = 0.95
	initialConfidence   = 0.6
)

// Pattern is a stored signature with its learned weight
type Pattern struct {
	Signature      Signature `json:"signature"`
	Confidence     float64   `json:"confidence"`
	Occurrences    int       `json:"occurrences"`
	Classification string    `json:"classification"`
	FirstSeen      int64     `json:"firstSeen"`
	LastSeen       int64     `json:"lastSeen"`
}

// PatternStore is the bounded associative memory of prior event shapes.
// Capacity eviction keeps the highest-occurrence entries. Callers hold
// the engine mutex.
type PatternStore struct {
	patterns []*Pattern
	capacity int
}

// NewPatternStore creates a store with the given capacity
func NewPatternStore(capacity int) *PatternStore {
	return &PatternStore{capacity: capacity}
}

// Len returns the number of stored patterns
func (ps *PatternStore) Len() int { return len(ps.patterns) }

// Query returns the strongest threat evidence for sig: the maximum
// confidence × similarity over all threat-classified patterns whose
// similarity exceeds the floor, or 0 when none qualify.
func (ps *PatternStore) Query(sig Signature) float64 {
	best := 0.0
	for _, p := range ps.patterns {
		if p.Classification != ClassThreat {
			continue
		}
		sim := Similarity(sig, p.Signature)
		if sim <= querySimilarityFloor {
			continue
		}
		if score := p.Confidence * sim; score > best {
			best = score
		}
	}
	return best
}

// Record stores an outcome-labelled signature. A near-exact match
// reinforces the existing pattern; otherwise a new entry is inserted and
// the lowest-occurrence entries are evicted past capacity.
func (ps *PatternStore) Record(sig Signature, wasThreat bool, now time.Time) {
	class := ClassFalsePositive
	if wasThreat {
		class = ClassThreat
	}

	for _, p := range ps.patterns {
		if p.Classification != class {
			continue
		}
		if Similarity(sig, p.Signature) >= mergeSimilarityFloor {
			p.Occurrences++
			p.Confidence += confidenceIncrement
			if p.Confidence > confidenceCap {
				p.Confidence = confidenceCap
			}
			p.LastSeen = now.UnixMilli()
			return
		}
	}

	ps.patterns = append(ps.patterns, &Pattern{
		Signature:      sig,
		Confidence:     initialConfidence,
		Occurrences:    1,
		Classification: class,
		FirstSeen:      now.UnixMilli(),
		LastSeen:       now.UnixMilli(),
	})

	if len(ps.patterns) > ps.capacity {
		ps.evict()
	}
}

// evict trims back to capacity, dropping lowest-occurrence entries first.
// Ties break toward evicting the oldest.
func (ps *PatternStore) evict() {
	sort.Slice(ps.patterns, func(i, j int) bool {
		if ps.patterns[i].Occurrences != ps.patterns[j].Occurrences {
			return ps.patterns[i].Occurrences > ps.patterns[j].Occurrences
		}
		return ps.patterns[i].LastSeen > ps.patterns[j].LastSeen
	})
	for i := ps.capacity; i < len(ps.patterns); i++ {
		ps.patterns[i] = nil
	}
	ps.patterns = ps.patterns[:ps.capacity]
}

// Prune drops patterns not seen within the horizon, except entries with
// enough occurrences to be considered established.
func (ps *PatternStore) Prune(now time.Time, horizon time.Duration, minOccurrences int) int {
	cutoff := now.Add(-horizon).UnixMilli()
	kept := ps.patterns[:0]
	removed := 0
	for _, p := range ps.patterns {
		if p.LastSeen < cutoff && p.Occurrences < minOccurrences {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	for i := len(kept); i < len(ps.patterns); i++ {
		ps.patterns[i] = nil
	}
	ps.patterns = kept
	return removed
}

// export / restore are used by the persistence layer

func (ps *PatternStore) export() []*Pattern {
	out := make([]*Pattern, len(ps.patterns))
	copy(out, ps.patterns)
	return out
}

func (ps *PatternStore) restore(patterns []*Pattern) {
	ps.patterns = ps.patterns[:0]
	for _, p := range patterns {
		if p == nil {
			continue
		}
		if p.Classification != ClassThreat && p.Classification != ClassFalsePositive {
			continue
		}
		p.Confidence = clamp01(p.Confidence)
		if p.Occurrences < 1 {
			p.Occurrences = 1
		}
		ps.patterns = append(ps.patterns, p)
	}
	if len(ps.patterns) > ps.capacity {
		ps.evict()
	}
}

package logging

import "sync"

// ProgressSampler suppresses repetitive progress logs. Each key (typically a
// media item ID) emits once per bucket crossing, so concurrent jobs sharing a
// sampler do not throttle one another.
type ProgressSampler struct {
	mu         sync.Mutex
	bucketSize float64
	last       map[int]int
}

// NewProgressSampler constructs a sampler that emits when the percent crosses
// bucket boundaries (default 10%).
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 10
	}
	return &ProgressSampler{bucketSize: bucketSize, last: make(map[int]int)}
}

// ShouldLog reports whether a progress event for key at percent (0-100)
// should be logged. A nil sampler logs everything.
func (s *ProgressSampler) ShouldLog(key int, percent float64) bool {
	if s == nil {
		return true
	}
	if percent < 0 {
		return false
	}
	if percent > 100 {
		percent = 100
	}
	bucket := int(percent / s.bucketSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	last, seen := s.last[key]
	if seen && bucket <= last {
		return false
	}
	s.last[key] = bucket
	return true
}

// Forget drops state for key once its job finishes.
func (s *ProgressSampler) Forget(key int) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.last, key)
	s.mu.Unlock()
}

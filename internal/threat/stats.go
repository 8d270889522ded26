package threat

import "sync/atomic"

// Stats is a point-in-time copy of the detector counters.
type Stats struct {
	Enabled          bool              `json:"enabled"`
	TotalValidations uint64            `json:"total_validations"`
	BlockedAttempts  uint64            `json:"blocked_attempts"`
	DetectionMethods map[Method]uint64 `json:"detection_methods"`
	BlockRate        float64           `json:"block_rate"`
}

type stats struct {
	total   atomic.Uint64
	blocked atomic.Uint64
	// the map is filled once in newStats and only read afterwards
	methods map[Method]*atomic.Uint64
}

func newStats() *stats {
	s := &stats{methods: make(map[Method]*atomic.Uint64, len(Methods))}
	for _, m := range Methods {
		s.methods[m] = new(atomic.Uint64)
	}
	return s
}

func (s *stats) record(f *Finding) {
	if s == nil {
		return
	}
	s.total.Add(1)
	if f == nil {
		return
	}
	s.blocked.Add(1)
	if c, ok := s.methods[f.Method]; ok {
		c.Add(1)
	}
}

// Stats returns the counters. With statistics disabled only Enabled=false
// is reported.
func (d *Detector) Stats() Stats {
	s := d.stats
	if s == nil {
		return Stats{}
	}
	out := Stats{
		Enabled:          true,
		TotalValidations: s.total.Load(),
		BlockedAttempts:  s.blocked.Load(),
		DetectionMethods: make(map[Method]uint64, len(s.methods)),
	}
	for m, c := range s.methods {
		out.DetectionMethods[m] = c.Load()
	}
	if out.TotalValidations > 0 {
		out.BlockRate = float64(out.BlockedAttempts) / float64(out.TotalValidations) * 100
	}
	return out
}

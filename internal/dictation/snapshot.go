package dictation

import "github.com/loqalabs/totali/internal/grading"

// Snapshot is a read-only view of a Session, safe to hand to other
// goroutines.
type Snapshot struct {
	State      string          `json:"state"`
	Points     []float64       `json:"points"`
	Pending    string          `json:"pending,omitempty"`
	Total      float64         `json:"total"`
	Result     *grading.Result `json:"result,omitempty"`
	Scale      grading.Scale   `json:"scale"`
	Conversion grading.Scale   `json:"conversion,omitempty"`
}

// Snapshot captures the session. While idle the configured scales are
// reported; otherwise the scales fixed at Start.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		State:      s.state.String(),
		Points:     s.Points(),
		Pending:    s.pending,
		Total:      s.Total(),
		Scale:      s.scale,
		Conversion: s.conversion,
	}
	if snap.Points == nil {
		snap.Points = []float64{}
	}
	if s.state != StateIdle {
		snap.Scale, snap.Conversion = s.activeScale, s.activeTarget
	}
	if r, ok := s.Result(); ok {
		snap.Result = &r
	}
	return snap
}

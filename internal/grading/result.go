package grading

import "fmt"

// Spoken and displayed messages. The runtime speaks French only.
const (
	MsgNoPoints      = "Aucun point n'a été dicté."
	MsgNoPointsError = "Aucun point n'a été dicté avant 'OK'."
)

// Result is the total of a copy, optionally converted to a second scale.
type Result struct {
	Total     float64  `json:"total"`
	Scale     Scale    `json:"scale"`
	Converted *float64 `json:"converted,omitempty"`
	Target    Scale    `json:"target,omitempty"`
}

// Compute totals points against scale and converts to target when it is
// set and differs from scale.
func Compute(points []float64, scale, target Scale) Result {
	r := Result{Total: RoundTotal(Sum(points)), Scale: scale}
	if c, ok := Conversion(r.Total, scale, target); ok {
		r.Converted = &c
		r.Target = target
	}
	return r
}

// Announcement is the sentence spoken for r, e.g.
// "Total : 15 sur 15. Soit 20 sur 20."
func (r Result) Announcement() string {
	s := fmt.Sprintf("Total : %s sur %s.", FormatNumber(r.Total), FormatNumber(float64(r.Scale)))
	if r.Converted != nil {
		s += fmt.Sprintf(" Soit %s sur %s.", FormatNumber(*r.Converted), FormatNumber(float64(r.Target)))
	}
	return s
}

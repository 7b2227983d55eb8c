package probe

// Side identifies which half of the screen a sample landed in
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Verdict is the final left/right/tie classification of a session
type Verdict string

const (
	VerdictLeft  Verdict = "left"
	VerdictRight Verdict = "right"
	VerdictTie   Verdict = "tie"
)

// Tally counts how many samples landed on each half of the screen
type Tally struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// Record classifies a pointer position and increments the matching
// counter. A pointer exactly on the midline counts as right.
func (t *Tally) Record(x, screenWidth float64) Side {
	if x < screenWidth/2 {
		t.Left++
		return SideLeft
	}
	t.Right++
	return SideRight
}

// Verdict classifies the tally: strictly more left samples means left,
// strictly more right means right, anything else is a tie.
func (t Tally) Verdict() Verdict {
	switch {
	case t.Left > t.Right:
		return VerdictLeft
	case t.Right > t.Left:
		return VerdictRight
	default:
		return VerdictTie
	}
}

// Result pairs a verdict with the tally it was derived from
type Result struct {
	Verdict Verdict `json:"verdict"`
	Tally   Tally   `json:"tally"`
}

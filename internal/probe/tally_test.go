package probe

import "testing"

func TestTally_RecordLeftHalf(t *testing.T) {
	tally := Tally{}
	side := tally.Record(399.9, 800)

	if side != SideLeft {
		t.Errorf("expected left, got %s", side)
	}
	if tally.Left != 1 || tally.Right != 0 {
		t.Errorf("expected {1,0}, got {%d,%d}", tally.Left, tally.Right)
	}
}

func TestTally_RecordRightHalf(t *testing.T) {
	tally := Tally{}
	side := tally.Record(400.1, 800)

	if side != SideRight {
		t.Errorf("expected right, got %s", side)
	}
	if tally.Left != 0 || tally.Right != 1 {
		t.Errorf("expected {0,1}, got {%d,%d}", tally.Left, tally.Right)
	}
}

func TestTally_MidlineCountsRight(t *testing.T) {
	tally := Tally{}
	side := tally.Record(400, 800)

	if side != SideRight {
		t.Errorf("expected midline to count right, got %s", side)
	}
	if tally.Left != 0 || tally.Right != 1 {
		t.Errorf("expected {0,1}, got {%d,%d}", tally.Left, tally.Right)
	}
}

func TestTally_CountsAccumulate(t *testing.T) {
	tally := Tally{}
	for i := 0; i < 3; i++ {
		tally.Record(100, 800)
	}
	for i := 0; i < 2; i++ {
		tally.Record(700, 800)
	}

	if tally.Left != 3 || tally.Right != 2 {
		t.Errorf("expected {3,2}, got {%d,%d}", tally.Left, tally.Right)
	}
}

func TestTally_Verdict(t *testing.T) {
	tests := []struct {
		tally Tally
		want  Verdict
	}{
		{Tally{Left: 7, Right: 3}, VerdictLeft},
		{Tally{Left: 3, Right: 7}, VerdictRight},
		{Tally{Left: 5, Right: 5}, VerdictTie},
		{Tally{}, VerdictTie},
		{Tally{Left: 1}, VerdictLeft},
		{Tally{Right: 1}, VerdictRight},
	}

	for _, tc := range tests {
		got := tc.tally.Verdict()
		if got != tc.want {
			t.Errorf("Verdict(%+v) = %s, want %s", tc.tally, got, tc.want)
		}
	}
}

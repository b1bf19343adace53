package jukebox

import (
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/austinkregel/local-media/jukeboxd/internal/graph"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func uniformSong(n int, beatMs float64) *SongState {
	beats := make([]*graph.Beat, n)
	for i := range beats {
		beats[i] = &graph.Beat{Start: float64(i) * beatMs, Duration: beatMs}
	}
	return NewSongState(Track{ID: "test", Kind: KindMusic}, nil, graph.New(beats), DefaultSettings())
}

type seekRecorder struct {
	targets []int64
}

func (r *seekRecorder) seek(pos int64) {
	r.targets = append(r.targets, pos)
}

func TestDriverBranchScenario(t *testing.T) {
	song := uniformSong(10, 500)
	song.Graph.AddBranch(8, 2, 40)
	song.Settings.MaxBranchDistance = 50
	song.Settings.UseDynamicBranchDistance = false
	song.Graph.Refilter(song.Settings.GraphOptions())

	if song.Graph.LastBranchPoint != 8 {
		t.Fatalf("Expected last branch point 8, got %d", song.Graph.LastBranchPoint)
	}

	rec := &seekRecorder{}
	var progress []Progress
	d := NewDriver(song, rec.seek,
		WithMinBeatsBeforeBranching(0),
		WithRandom(func() float64 { return 0.99 }),
		WithProgress(func(p Progress) { progress = append(progress, p) }),
	)
	d.Start()

	for pos := int64(0); pos <= 4000; pos += 500 {
		d.Update(pos)
	}
	if len(rec.targets) != 0 {
		t.Fatalf("Expected no seeks before beat 8, got %v", rec.targets)
	}
	if d.CurrentBeat().Index != 7 {
		t.Fatalf("Expected to be on beat 7, got %d", d.CurrentBeat().Index)
	}

	d.Update(4120)
	if len(rec.targets) != 1 {
		t.Fatalf("Expected one seek, got %v", rec.targets)
	}
	if rec.targets[0] != 1120 {
		t.Errorf("Expected seek to 1120, got %d", rec.targets[0])
	}
	if d.State() != StateSeeking {
		t.Errorf("Expected seeking, got %s", d.State())
	}

	// Stale report from before the seek landed.
	d.Update(4200)
	if d.State() != StateSeeking {
		t.Errorf("Expected still seeking, got %s", d.State())
	}

	d.Update(1150)
	if d.State() != StateTracking {
		t.Errorf("Expected tracking, got %s", d.State())
	}
	if d.CurrentBeat().Index != 2 {
		t.Errorf("Expected beat 2, got %d", d.CurrentBeat().Index)
	}

	last := progress[len(progress)-1]
	if last.Beat != 2 || last.Branch == nil || last.Branch.Source != 8 {
		t.Errorf("Unexpected last progress: %+v", last)
	}
	if !song.Graph.Beats[2].IsPlaying || song.Graph.Beats[7].IsPlaying {
		t.Error("Expected only beat 2 to be playing")
	}
	if song.Graph.Beats[2].PlayCount != 2 {
		t.Errorf("Expected beat 2 played twice, got %d", song.Graph.Beats[2].PlayCount)
	}
}

func TestDriverIgnoresDuplicatePositions(t *testing.T) {
	song := uniformSong(4, 500)
	calls := 0
	d := NewDriver(song, func(int64) {}, WithProgress(func(Progress) { calls++ }))
	d.Start()

	d.Update(100)
	d.Update(100)
	d.Update(100)
	if calls != 1 {
		t.Errorf("Expected 1 transition, got %d", calls)
	}
	if song.BeatsPlayed != 1 {
		t.Errorf("Expected 1 beat played, got %d", song.BeatsPlayed)
	}
}

func TestDriverIdleIgnoresUpdates(t *testing.T) {
	song := uniformSong(4, 500)
	d := NewDriver(song, func(int64) {})

	d.Update(100)
	if d.CurrentBeat() != nil {
		t.Error("Expected idle driver to ignore positions")
	}
	if d.State() != StateIdle {
		t.Errorf("Expected idle, got %s", d.State())
	}
}

func TestDriverStopsAtEnd(t *testing.T) {
	song := uniformSong(3, 500)
	d := NewDriver(song, func(int64) {})
	d.Start()

	for _, pos := range []int64{100, 600, 1100, 1501} {
		d.Update(pos)
	}
	if d.State() != StateStopped {
		t.Errorf("Expected stopped, got %s", d.State())
	}

	d.Update(200)
	if d.CurrentBeat().Index != 2 {
		t.Errorf("Expected stopped driver to stay on beat 2, got %d", d.CurrentBeat().Index)
	}
}

func TestDriverRelocatesWhenOutOfSync(t *testing.T) {
	song := uniformSong(10, 500)
	rec := &seekRecorder{}
	d := NewDriver(song, rec.seek)
	d.Start()

	d.Update(100)
	d.Update(3700)
	if d.CurrentBeat().Index != 7 {
		t.Errorf("Expected relocation to beat 7, got %d", d.CurrentBeat().Index)
	}
	if len(rec.targets) != 0 {
		t.Errorf("Expected no seek on relocation, got %v", rec.targets)
	}

	d.Update(600)
	if d.CurrentBeat().Index != 1 {
		t.Errorf("Expected relocation back to beat 1, got %d", d.CurrentBeat().Index)
	}
}

func TestBranchChanceMonotonic(t *testing.T) {
	song := uniformSong(40, 500)
	for i := 1; i < 40; i++ {
		song.Graph.AddBranch(i, i-1, 10)
	}
	song.Graph.LastBranchPoint = 0

	rolls := []float64{0.99, 0.99, 0.99, 0.99, 0.99, 0.99, 0.99, 0.99, 0.0, 0.99, 0.99, 0.99}
	roll := 0
	d := NewDriver(song, func(int64) {},
		WithMinBeatsBeforeBranching(2),
		WithRandom(func() float64 {
			r := rolls[roll%len(rolls)]
			roll++
			return r
		}),
	)
	d.Start()

	s := song.Settings
	prev := song.BranchChance
	branched := false
	pos := int64(0)
	for step := 0; step < 30 && d.State() != StateStopped; step++ {
		switch {
		case d.CurrentBeat() == nil:
			pos = 10
		case d.State() == StateSeeking:
			pos = int64(d.CurrentBeat().Start) + 10
		default:
			pos = int64(d.CurrentBeat().End()) + 10
		}
		before := d.State()
		d.Update(pos)
		chance := song.BranchChance

		if chance > s.MaxRandomBranchChance+1e-12 {
			t.Fatalf("chance %.4f exceeds max", chance)
		}
		if chance < prev-1e-12 {
			if chance != s.MinRandomBranchChance || d.State() != StateSeeking || before == StateSeeking {
				t.Fatalf("chance dropped from %.4f to %.4f without a branch", prev, chance)
			}
			branched = true
		}
		prev = chance
	}
	if !branched {
		t.Error("Expected at least one branch")
	}
}

func TestBranchChanceClampsAtMax(t *testing.T) {
	song := uniformSong(200, 100)
	for i := 1; i < 200; i++ {
		song.Graph.AddBranch(i, 0, 10)
	}
	song.Graph.LastBranchPoint = 0

	d := NewDriver(song, func(int64) {}, WithRandom(func() float64 { return 1 }))
	d.Start()

	for pos := int64(0); pos < 19900; pos += 100 {
		d.Update(pos)
	}
	if song.BranchChance != song.Settings.MaxRandomBranchChance {
		t.Errorf("Expected chance clamped at %.3f, got %.4f", song.Settings.MaxRandomBranchChance, song.BranchChance)
	}
}

func TestMinBeatsBeforeBranching(t *testing.T) {
	song := uniformSong(20, 500)
	for i := 1; i < 20; i++ {
		song.Graph.AddBranch(i, i-1, 10)
	}
	song.Graph.LastBranchPoint = 0

	rec := &seekRecorder{}
	d := NewDriver(song, rec.seek, WithRandom(func() float64 { return 0 }))
	d.Start()

	// Beat 0, then five linear advances before the first branch is allowed.
	for i := 0; i <= DefaultMinBeatsBeforeBranching; i++ {
		d.Update(int64(i)*500 + 100)
	}
	if len(rec.targets) != 0 {
		t.Fatalf("Expected no branch within the first beats, got %v", rec.targets)
	}
	d.Update(int64(DefaultMinBeatsBeforeBranching+1)*500 + 100)
	if len(rec.targets) != 1 {
		t.Errorf("Expected a branch once allowed, got %v", rec.targets)
	}
}

func TestSeekConfirmationForward(t *testing.T) {
	song := uniformSong(20, 500)
	song.Graph.AddBranch(3, 15, 10)
	song.Graph.LastBranchPoint = 3

	rec := &seekRecorder{}
	d := NewDriver(song, rec.seek)
	d.Start()

	d.Update(1100)
	d.Update(1510)
	if len(rec.targets) != 1 || rec.targets[0] != 7510 {
		t.Fatalf("Expected forward seek to 7510, got %v", rec.targets)
	}

	d.Update(1600)
	if d.State() != StateSeeking {
		t.Errorf("Expected seeking before target, got %s", d.State())
	}
	d.Update(7520)
	if d.State() != StateTracking || d.CurrentBeat().Index != 15 {
		t.Errorf("Expected tracking at 15, got %s at %d", d.State(), d.CurrentBeat().Index)
	}
}

func TestSeekConfirmationBackward(t *testing.T) {
	song := uniformSong(20, 500)
	song.Graph.AddBranch(15, 3, 10)
	song.Graph.LastBranchPoint = 15

	rec := &seekRecorder{}
	d := NewDriver(song, rec.seek)
	d.Start()

	d.Update(7100)
	d.Update(7510)
	if len(rec.targets) != 1 || rec.targets[0] != 1510 {
		t.Fatalf("Expected backward seek to 1510, got %v", rec.targets)
	}

	// Positions from before the jump and anything past target+1000ms are
	// not the seek landing yet.
	d.Update(7600)
	if d.State() != StateSeeking {
		t.Errorf("Expected seeking on a stale position, got %s", d.State())
	}
	d.Update(1510 + 1001)
	if d.State() != StateSeeking {
		t.Errorf("Expected seeking at target+1001ms, got %s", d.State())
	}
	d.Update(1510 + 1000)
	if d.State() != StateTracking {
		t.Errorf("Expected tracking at target+1000ms, got %s", d.State())
	}
	if len(rec.targets) != 1 {
		t.Errorf("Expected no further seeks, got %v", rec.targets)
	}
}

func TestBouncing(t *testing.T) {
	song := uniformSong(10, 500)
	song.Graph.AddBranch(5, 1, 10)
	song.Graph.AddBranch(5, 2, 10)
	song.Graph.LastBranchPoint = 9

	rec := &seekRecorder{}
	d := NewDriver(song, rec.seek, WithRandom(func() float64 { return 1 }))
	d.Start()

	d.Update(2600)
	if d.CurrentBeat().Index != 5 {
		t.Fatalf("Expected beat 5, got %d", d.CurrentBeat().Index)
	}
	d.SetBouncing(true)
	if d.State() != StateBouncing {
		t.Fatalf("Expected bouncing, got %s", d.State())
	}

	// Leaving the seed goes to its first branch.
	d.Update(3010)
	if d.CurrentBeat().Index != 1 || rec.targets[0] != 510 {
		t.Fatalf("Expected jump to beat 1 at 510, got beat %d, seeks %v", d.CurrentBeat().Index, rec.targets)
	}
	d.Update(520)
	if d.State() != StateBouncing {
		t.Errorf("Expected bouncing after seek landed, got %s", d.State())
	}

	// Leaving the branch destination returns to the seed.
	d.Update(1010)
	if d.CurrentBeat().Index != 5 || rec.targets[1] != 2510 {
		t.Fatalf("Expected return to seed at 2510, got beat %d, seeks %v", d.CurrentBeat().Index, rec.targets)
	}
	d.Update(2520)

	// Then the next branch in rotation.
	d.Update(3010)
	if d.CurrentBeat().Index != 2 {
		t.Fatalf("Expected rotation to beat 2, got %d", d.CurrentBeat().Index)
	}
	d.Update(1020)

	d.SetBouncing(false)
	if d.State() != StateTracking {
		t.Errorf("Expected tracking after bouncing stops, got %s", d.State())
	}
	d.Update(1510)
	if d.CurrentBeat().Index != 5 {
		t.Errorf("Expected to resume from the seed, got %d", d.CurrentBeat().Index)
	}
	d.Update(2520)
	d.Update(3010)
	if d.CurrentBeat().Index != 6 {
		t.Errorf("Expected linear play after resuming, got %d", d.CurrentBeat().Index)
	}
}

func TestDriverStopClearsTransientState(t *testing.T) {
	song := uniformSong(10, 500)
	song.Graph.AddBranch(8, 2, 40)
	song.Graph.LastBranchPoint = 8

	d := NewDriver(song, func(int64) {})
	d.Start()
	d.Update(100)
	d.SetBouncing(true)
	d.Stop()

	if d.State() != StateStopped {
		t.Errorf("Expected stopped, got %s", d.State())
	}
	if len(song.Graph.Beats[8].Neighbours) != 1 {
		t.Error("Expected Stop to leave the graph alone")
	}
	d.SetBouncing(true)
	if d.State() != StateStopped {
		t.Errorf("Expected bouncing to be ignored after Stop, got %s", d.State())
	}
}

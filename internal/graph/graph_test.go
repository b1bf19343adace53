package graph

import (
	"math"
	"testing"

	"github.com/austinkregel/local-media/jukeboxd/internal/remix"
)

// uniformGraph returns n beats of beatMs milliseconds with no edges.
func uniformGraph(n int, beatMs float64) *SongGraph {
	beats := make([]*Beat, n)
	for i := range beats {
		beats[i] = &Beat{Start: float64(i) * beatMs, Duration: beatMs}
	}
	return New(beats)
}

// patternAnalysis builds a remixed analysis of n half-second beats, four to
// a bar, where beats period apart have identical features.
func patternAnalysis(t *testing.T, n, period int) *remix.Analysis {
	t.Helper()

	quanta := func(count int, length float64) []remix.Quantum {
		qs := make([]remix.Quantum, count)
		for i := range qs {
			qs[i] = remix.Quantum{Start: float64(i) * length, Duration: length, Confidence: 0.5}
		}
		return qs
	}

	segs := make([]remix.Segment, n)
	for i := range segs {
		p := i % period
		segs[i] = remix.Segment{
			Quantum:       remix.Quantum{Start: float64(i) * 0.5, Duration: 0.5, Confidence: 0.5},
			LoudnessStart: -20 + float64(p),
			LoudnessMax:   -10 + float64(p),
			Pitches:       make([]float64, 12),
			Timbre:        make([]float64, 12),
		}
		segs[i].Pitches[p%12] = 1
		segs[i].Timbre[0] = float64(p) * 3
	}

	a := &remix.Analysis{
		Sections: quanta(1, float64(n)*0.5),
		Bars:     quanta(n/4, 2),
		Beats:    quanta(n, 0.5),
		Tatums:   quanta(n*2, 0.25),
		Segments: segs,
	}
	if _, err := remix.Remix(a); err != nil {
		t.Fatalf("Remix failed: %v", err)
	}
	return a
}

func assertSafe(t *testing.T, g *SongGraph) {
	t.Helper()

	if g.LastBranchPoint < 0 || g.LastBranchPoint >= g.Len() {
		t.Fatalf("lastBranchPoint %d out of range", g.LastBranchPoint)
	}
	for _, b := range g.Beats {
		if len(b.Candidates) > MaxBranches {
			t.Errorf("beat %d has %d candidates", b.Index, len(b.Candidates))
		}
		seen := map[int]bool{}
		for _, e := range b.Neighbours {
			if e.Source != b.Index {
				t.Errorf("beat %d holds edge from %d", b.Index, e.Source)
			}
			if e.Destination == b.Index {
				t.Errorf("beat %d has a self edge", b.Index)
			}
			if seen[e.Destination] {
				t.Errorf("beat %d has duplicate destination %d", b.Index, e.Destination)
			}
			seen[e.Destination] = true
			if b.Index < g.LastBranchPoint && e.Destination >= g.LastBranchPoint {
				t.Errorf("beat %d branches to %d past last branch point %d",
					b.Index, e.Destination, g.LastBranchPoint)
			}
		}
	}
}

func TestGenerateFindsRepeats(t *testing.T) {
	a := patternAnalysis(t, 64, 8)

	g, err := Generate(a, DefaultOptions())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if g.Len() != 64 {
		t.Fatalf("Expected 64 beats, got %d", g.Len())
	}
	if g.Beats[3].Start != 1500 || g.Beats[3].Duration != 500 {
		t.Errorf("Expected beat 3 at 1500ms for 500ms, got %.1f/%.1f", g.Beats[3].Start, g.Beats[3].Duration)
	}

	// Beats a period apart are identical, so the best candidates cost nothing.
	for _, e := range g.Beats[20].Candidates {
		if e.Distance != 0 {
			t.Errorf("Expected zero-distance candidate from beat 20, got %.2f to %d", e.Distance, e.Destination)
		}
		if (e.Destination-20)%8 != 0 {
			t.Errorf("Expected candidate a period away, got %d", e.Destination)
		}
	}

	if g.BranchingBeats() == 0 {
		t.Error("Expected some branching beats")
	}
	if g.LongestReach <= 0 {
		t.Errorf("Expected positive longest reach, got %.2f", g.LongestReach)
	}
	if !g.Converged {
		t.Error("Expected reachability to converge")
	}
	assertSafe(t, g)
}

func TestGenerateRequiresRemix(t *testing.T) {
	a := &remix.Analysis{Beats: []remix.Quantum{{Start: 0, Duration: 1}}}
	if _, err := Generate(a, DefaultOptions()); err != ErrNotRemixed {
		t.Errorf("Expected ErrNotRemixed, got %v", err)
	}
}

func TestDynamicThreshold(t *testing.T) {
	g, err := Generate(patternAnalysis(t, 64, 8), DefaultOptions())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	// Identical repeats satisfy the first threshold tried.
	if g.ComputedMaxBranchDistance != 10 {
		t.Errorf("Expected computed threshold 10, got %.1f", g.ComputedMaxBranchDistance)
	}

	opts := DefaultOptions()
	opts.UseDynamicBranchDistance = false
	opts.MaxBranchDistance = 33
	g.Refilter(opts)
	if g.ComputedMaxBranchDistance != 33 {
		t.Errorf("Expected static threshold 33, got %.1f", g.ComputedMaxBranchDistance)
	}
}

func TestDynamicThresholdNeverReached(t *testing.T) {
	g := uniformGraph(12, 500)
	for i := 1; i < 12; i++ {
		e := &Edge{ID: len(g.edges), Source: i, Destination: i - 1, Distance: 90}
		g.edges = append(g.edges, e)
		g.Beats[i].Candidates = []*Edge{e}
	}

	g.Refilter(Options{MaxBranchDistance: 42, UseDynamicBranchDistance: true})
	if g.ComputedMaxBranchDistance != 45 {
		t.Errorf("Expected threshold to stop at 45, got %.1f", g.ComputedMaxBranchDistance)
	}
	if g.BranchingBeats() != 0 {
		t.Errorf("Expected no branches, got %d", g.BranchingBeats())
	}
}

func TestRefilterKeepsCandidates(t *testing.T) {
	g, err := Generate(patternAnalysis(t, 32, 4), DefaultOptions())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	edges := g.Edges()
	first := edges[0]

	opts := DefaultOptions()
	opts.JustBackwards = true
	g.Refilter(opts)

	if len(g.Edges()) != len(edges) || g.Edges()[0] != first {
		t.Error("Expected Refilter to reuse cached candidates")
	}
}

func TestJustBackwards(t *testing.T) {
	opts := DefaultOptions()
	opts.JustBackwards = true

	g, err := Generate(patternAnalysis(t, 64, 8), opts)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	for _, e := range g.Branches() {
		if e.Destination > e.Source {
			t.Errorf("Expected only backward branches, got %d -> %d", e.Source, e.Destination)
		}
	}
	assertSafe(t, g)
}

func TestJustLongBranches(t *testing.T) {
	opts := DefaultOptions()
	opts.JustLongBranches = true
	opts.AddLastEdge = false

	g, err := Generate(patternAnalysis(t, 64, 8), opts)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	for _, e := range g.Branches() {
		if d := e.Source - e.Destination; d > -13 && d < 13 {
			t.Errorf("Expected only long branches, got %d -> %d", e.Source, e.Destination)
		}
	}
}

func TestRemoveSequentialBranches(t *testing.T) {
	opts := DefaultOptions()
	opts.RemoveSequentialBranches = true

	g, err := Generate(patternAnalysis(t, 64, 8), opts)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	for i := 1; i < g.Len(); i++ {
		if i == g.LastBranchPoint {
			continue
		}
		prev := map[int]bool{}
		for _, e := range g.Beats[i-1].Neighbours {
			prev[e.Source-e.Destination] = true
		}
		for _, e := range g.Beats[i].Neighbours {
			if prev[e.Source-e.Destination] {
				t.Errorf("beat %d keeps jump %d also taken by beat %d", i, e.Source-e.Destination, i-1)
			}
		}
	}
	assertSafe(t, g)
}

func TestSequentialDedupManual(t *testing.T) {
	g := uniformGraph(10, 500)
	g.AddBranch(5, 1, 10)
	g.AddBranch(6, 2, 10)
	g.AddBranch(6, 0, 10)

	g.LastBranchPoint = 9
	g.filterOutSequentialBranches()

	if len(g.Beats[6].Neighbours) != 1 || g.Beats[6].Neighbours[0].Destination != 0 {
		t.Errorf("Expected only 6 -> 0 to survive, got %v", g.Beats[6].Neighbours)
	}
	if len(g.Beats[5].Neighbours) != 1 {
		t.Errorf("Expected 5 -> 1 to survive, got %v", g.Beats[5].Neighbours)
	}
}

func TestLastBranchPoint(t *testing.T) {
	g := uniformGraph(10, 500)
	g.AddBranch(8, 2, 40)

	g.Refilter(Options{MaxBranchDistance: 50, AddLastEdge: true})

	if g.LastBranchPoint != 8 {
		t.Errorf("Expected last branch point 8, got %d", g.LastBranchPoint)
	}
	if math.Abs(g.LongestReach-60) > 1e-9 {
		t.Errorf("Expected longest reach 60, got %.2f", g.LongestReach)
	}
	if g.Beats[3].Reach != 8 {
		t.Errorf("Expected beat 3 reach 8, got %d", g.Beats[3].Reach)
	}
	assertSafe(t, g)
}

func TestNoEdges(t *testing.T) {
	g := uniformGraph(16, 500)
	g.Refilter(DefaultOptions())

	if g.LastBranchPoint != 0 {
		t.Errorf("Expected last branch point 0, got %d", g.LastBranchPoint)
	}
	if g.LongestReach != 0 {
		t.Errorf("Expected longest reach 0, got %.2f", g.LongestReach)
	}
	for _, b := range g.Beats {
		if b.Reach != g.Len()-b.Index {
			t.Errorf("Expected beat %d reach %d, got %d", b.Index, g.Len()-b.Index, b.Reach)
		}
	}
}

func TestBestBackwardBranchInserted(t *testing.T) {
	g := uniformGraph(20, 500)
	g.AddBranch(4, 3, 5)
	g.AddBranch(17, 2, 60)

	g.Refilter(Options{MaxBranchDistance: 50, AddLastEdge: true})

	found := false
	for _, e := range g.Beats[17].Neighbours {
		if e.Destination == 2 {
			found = true
		}
	}
	if !found {
		t.Fatal("Expected 17 -> 2 to be inserted as the best backward branch")
	}
	if g.LastBranchPoint != 17 {
		t.Errorf("Expected last branch point 17, got %d", g.LastBranchPoint)
	}

	g.Refilter(Options{MaxBranchDistance: 50})
	if len(g.Beats[17].Neighbours) != 0 {
		t.Error("Expected no backward insert without AddLastEdge")
	}
}

func TestDeletedEdgesDropped(t *testing.T) {
	g := uniformGraph(10, 500)
	e := g.AddBranch(8, 2, 40)

	if !g.DeleteEdge(e.ID) {
		t.Fatal("DeleteEdge failed")
	}
	g.Refilter(Options{MaxBranchDistance: 50, AddLastEdge: true})

	if len(g.Branches()) != 0 {
		t.Errorf("Expected no live branches, got %d", len(g.Branches()))
	}
	if g.DeleteEdge(99) {
		t.Error("Expected DeleteEdge to reject unknown id")
	}
}

func TestReachabilityConvergesOnLongTracks(t *testing.T) {
	g := uniformGraph(3000, 400)
	for i := 100; i < 3000; i += 7 {
		g.AddBranch(i, i-100, 20)
	}

	g.Refilter(Options{MaxBranchDistance: 50})

	if !g.Converged {
		t.Fatal("Expected reachability to converge within the cap")
	}
	assertSafe(t, g)
}

func TestNextNeighbourRotates(t *testing.T) {
	g := uniformGraph(10, 500)
	g.AddBranch(5, 1, 10)
	g.AddBranch(5, 2, 11)
	g.AddBranch(5, 3, 12)

	var got []int
	for i := 0; i < 4; i++ {
		got = append(got, g.Beats[5].NextNeighbour().Destination)
	}
	want := []int{1, 2, 3, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected rotation %v, got %v", want, got)
		}
	}
	if g.Beats[0].NextNeighbour() != nil {
		t.Error("Expected nil from a beat without branches")
	}
}

func TestFindBeat(t *testing.T) {
	g := uniformGraph(4, 500)

	tests := []struct {
		pos  float64
		want int
	}{
		{0, 0},
		{250, 0},
		{500, 0},
		{501, 1},
		{1999, 3},
		{5000, 0},
	}
	for _, tt := range tests {
		if got := g.FindBeat(tt.pos).Index; got != tt.want {
			t.Errorf("FindBeat(%.0f): expected %d, got %d", tt.pos, tt.want, got)
		}
	}
}

func TestSegmentDistance(t *testing.T) {
	a := &remix.Segment{Pitches: make([]float64, 12), Timbre: make([]float64, 12)}
	b := &remix.Segment{Pitches: make([]float64, 12), Timbre: make([]float64, 12)}
	b.Pitches[0] = 1
	b.Timbre[1] = 3
	b.Timbre[2] = 4
	b.LoudnessMax = 2
	b.Duration = 0.01

	// 5 timbre + 10 pitch + 2 loudness + 1 duration
	if got := SegmentDistance(a, b); math.Abs(got-18) > 1e-9 {
		t.Errorf("Expected distance 18, got %.6f", got)
	}

	short := &remix.Segment{Timbre: []float64{3}}
	long := &remix.Segment{Timbre: []float64{0, 4}}
	if got := SegmentDistance(short, long); math.Abs(got-5) > 1e-9 {
		t.Errorf("Expected padded distance 5, got %.6f", got)
	}
}

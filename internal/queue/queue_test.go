package queue

import (
	"testing"

	"github.com/austinkregel/local-media/jukeboxd/internal/jukebox"
)

func TestNewManager(t *testing.T) {
	m := NewManager()

	if m == nil {
		t.Fatal("NewManager returned nil")
	}

	idx, size := m.Position()
	if idx != -1 {
		t.Errorf("Expected index -1, got %d", idx)
	}
	if size != 0 {
		t.Errorf("Expected size 0, got %d", size)
	}
}

func TestSet(t *testing.T) {
	m := NewManager()
	m.SetPaths([]string{"/path/1.mp3", "/path/2.mp3", "/path/3.mp3"})

	idx, size := m.Position()
	if idx != -1 {
		t.Errorf("Expected index -1 after Set, got %d", idx)
	}
	if size != 3 {
		t.Errorf("Expected size 3, got %d", size)
	}
}

func TestAppend(t *testing.T) {
	m := NewManager()

	m.SetPaths([]string{"/path/1.mp3"})
	m.AppendPaths([]string{"/path/2.mp3", "/path/3.mp3"})

	_, size := m.Position()
	if size != 3 {
		t.Errorf("Expected size 3, got %d", size)
	}
}

func TestNext(t *testing.T) {
	m := NewManager()
	m.SetPaths([]string{"/path/1.mp3", "/path/2.mp3", "/path/3.mp3"})

	for i, want := range []string{"/path/1.mp3", "/path/2.mp3", "/path/3.mp3"} {
		item, ok := m.Next()
		if !ok || item.Path != want {
			t.Errorf("Next %d: expected %s, got %s (ok=%v)", i, want, item.Path, ok)
		}
	}

	// End of queue
	if item, ok := m.Next(); ok {
		t.Errorf("Expected end of queue, got %s", item.Path)
	}
	idx, _ := m.Position()
	if idx != 2 {
		t.Errorf("Expected index to stay on the last item, got %d", idx)
	}
}

func TestPrev(t *testing.T) {
	m := NewManager()
	m.SetPaths([]string{"/path/1.mp3", "/path/2.mp3", "/path/3.mp3"})
	m.Next()
	m.Next()
	m.Next()

	item, _ := m.Prev()
	if item.Path != "/path/2.mp3" {
		t.Errorf("Expected /path/2.mp3, got %s", item.Path)
	}
	item, _ = m.Prev()
	if item.Path != "/path/1.mp3" {
		t.Errorf("Expected /path/1.mp3, got %s", item.Path)
	}
	if item, ok := m.Prev(); ok {
		t.Errorf("Expected nothing before the first item, got %s", item.Path)
	}
}

func TestCurrent(t *testing.T) {
	m := NewManager()
	m.SetPaths([]string{"/path/1.mp3", "/path/2.mp3"})

	if _, ok := m.Current(); ok {
		t.Error("Expected no current item before Next")
	}

	m.Next()
	item, ok := m.Current()
	if !ok || item.Path != "/path/1.mp3" {
		t.Errorf("Expected /path/1.mp3, got %s", item.Path)
	}
}

func TestJump(t *testing.T) {
	m := NewManager()
	m.SetPaths([]string{"/path/1.mp3", "/path/2.mp3", "/path/3.mp3"})

	item, ok := m.Jump(2)
	if !ok || item.Path != "/path/3.mp3" {
		t.Errorf("Expected jump to /path/3.mp3, got %s", item.Path)
	}
	if _, ok := m.Jump(5); ok {
		t.Error("Expected jump out of range to fail")
	}
	if _, ok := m.Jump(-1); ok {
		t.Error("Expected negative jump to fail")
	}
	idx, _ := m.Position()
	if idx != 2 {
		t.Errorf("Expected index 2, got %d", idx)
	}
}

func TestClear(t *testing.T) {
	m := NewManager()
	m.SetPaths([]string{"/path/1.mp3", "/path/2.mp3"})
	m.Next()

	m.Clear()

	idx, size := m.Position()
	if idx != -1 || size != 0 {
		t.Errorf("Expected empty queue, got index %d size %d", idx, size)
	}
}

func TestRepeatAll(t *testing.T) {
	m := NewManager()
	m.SetPaths([]string{"/path/1.mp3", "/path/2.mp3"})
	m.SetRepeat(RepeatAll)

	m.Next()
	m.Next()
	item, ok := m.Next()
	if !ok || item.Path != "/path/1.mp3" {
		t.Errorf("Expected wrap to /path/1.mp3, got %s", item.Path)
	}

	m.Jump(0)
	item, _ = m.Prev()
	if item.Path != "/path/2.mp3" {
		t.Errorf("Expected Prev to wrap to /path/2.mp3, got %s", item.Path)
	}
}

func TestRepeatOne(t *testing.T) {
	m := NewManager()
	m.SetPaths([]string{"/path/1.mp3", "/path/2.mp3"})
	m.Next()
	m.SetRepeat(RepeatOne)

	for i := 0; i < 3; i++ {
		item, _ := m.Next()
		if item.Path != "/path/1.mp3" {
			t.Errorf("Expected repeat of /path/1.mp3, got %s", item.Path)
		}
	}
}

func TestRepeatModeStrings(t *testing.T) {
	for _, mode := range []RepeatMode{RepeatOff, RepeatOne, RepeatAll} {
		parsed, err := ParseRepeatMode(mode.String())
		if err != nil || parsed != mode {
			t.Errorf("Expected %s to round trip, got %v (%v)", mode, parsed, err)
		}
	}
	if _, err := ParseRepeatMode("shuffle"); err == nil {
		t.Error("Expected error for unknown mode")
	}
}

func TestRemove(t *testing.T) {
	m := NewManager()
	m.SetPaths([]string{"/path/1.mp3", "/path/2.mp3", "/path/3.mp3"})
	m.Jump(1)

	// Removing before the current item shifts the index down.
	if !m.Remove(0) {
		t.Fatal("Remove failed")
	}
	item, _ := m.Current()
	if item.Path != "/path/2.mp3" {
		t.Errorf("Expected current to stay on /path/2.mp3, got %s", item.Path)
	}

	// Removing the current last item moves back.
	m.Jump(1)
	m.Remove(1)
	item, _ = m.Current()
	if item.Path != "/path/2.mp3" {
		t.Errorf("Expected /path/2.mp3, got %s", item.Path)
	}

	if m.Remove(10) {
		t.Error("Expected Remove out of range to fail")
	}
}

func TestInsert(t *testing.T) {
	m := NewManager()
	m.SetPaths([]string{"/path/1.mp3", "/path/3.mp3"})
	m.Jump(1)

	if !m.Insert(1, QueueItem{Path: "/path/2.mp3"}) {
		t.Fatal("Insert failed")
	}
	item, _ := m.Current()
	if item.Path != "/path/3.mp3" {
		t.Errorf("Expected current to stay on /path/3.mp3, got %s", item.Path)
	}
	items := m.GetItems()
	if items[1].Path != "/path/2.mp3" {
		t.Errorf("Expected inserted item at 1, got %s", items[1].Path)
	}
	if m.Insert(10, QueueItem{}) {
		t.Error("Expected Insert out of range to fail")
	}
}

func TestUpcoming(t *testing.T) {
	m := NewManager()
	m.SetPaths([]string{"/a", "/b", "/c", "/d"})

	got := m.Upcoming(2)
	if len(got) != 2 || got[0].Path != "/a" || got[1].Path != "/b" {
		t.Errorf("Expected /a and /b before playback, got %+v", got)
	}

	m.Jump(2)
	got = m.Upcoming(5)
	if len(got) != 1 || got[0].Path != "/d" {
		t.Errorf("Expected only /d, got %+v", got)
	}

	m.SetRepeat(RepeatAll)
	got = m.Upcoming(5)
	if len(got) != 3 || got[1].Path != "/a" || got[2].Path != "/b" {
		t.Errorf("Expected wrap without the current item, got %+v", got)
	}
}

func TestQueueItemTrack(t *testing.T) {
	item := QueueItem{
		Path:     "/music/song.flac",
		TrackID:  "abc",
		Metadata: &TrackMetadata{Title: "Song"},
	}
	tr := item.Track()
	if tr.ID != "abc" || tr.Path != "/music/song.flac" || tr.Title != "Song" {
		t.Errorf("Unexpected track: %+v", tr)
	}
	if tr.Kind != jukebox.KindMusic {
		t.Errorf("Expected default kind music, got %s", tr.Kind)
	}

	item.Kind = jukebox.KindEpisode
	if item.Track().Kind != jukebox.KindEpisode {
		t.Error("Expected episode kind to be kept")
	}
}

func TestOnChange(t *testing.T) {
	m := NewManager()
	calls := 0
	m.SetOnChange(func() { calls++ })

	m.SetPaths([]string{"/path/1.mp3"})
	m.Next()
	m.Next() // end of queue, no change
	m.SetRepeat(RepeatAll)
	m.Clear()

	if calls != 4 {
		t.Errorf("Expected 4 change notifications, got %d", calls)
	}
}

func paths(items []QueueItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Path
	}
	return out
}

func drain(m *Manager) []string {
	var played []string
	for {
		item, ok := m.Next()
		if !ok {
			return played
		}
		played = append(played, item.Path)
	}
}

func TestShuffleVisitsEveryItemOnce(t *testing.T) {
	m := NewManager()
	m.SetShuffle(true)
	m.SetPaths([]string{"/a", "/b", "/c", "/d", "/e"})

	played := drain(m)
	if len(played) != 5 {
		t.Fatalf("Expected 5 tracks, got %v", played)
	}
	seen := map[string]bool{}
	for _, p := range played {
		if seen[p] {
			t.Errorf("Expected each track once, %s repeated in %v", p, played)
		}
		seen[p] = true
	}

	items := paths(m.GetItems())
	if items[0] != "/a" || items[4] != "/e" {
		t.Errorf("Expected shuffle to leave item order alone, got %v", items)
	}
}

func TestShuffleKeepsCurrentTrack(t *testing.T) {
	m := NewManager()
	m.SetPaths([]string{"/a", "/b", "/c", "/d"})
	m.Jump(2)

	m.SetShuffle(true)
	if !m.GetShuffle() {
		t.Fatal("Expected shuffle on")
	}
	cur, ok := m.Current()
	if !ok || cur.Path != "/c" {
		t.Errorf("Expected /c to stay current, got %s", cur.Path)
	}
	if idx, _ := m.Position(); idx != 2 {
		t.Errorf("Expected position to report item index 2, got %d", idx)
	}

	// The rest of the pass plays the other three.
	rest := drain(m)
	if len(rest) != 3 {
		t.Errorf("Expected 3 remaining tracks, got %v", rest)
	}
	for _, p := range rest {
		if p == "/c" {
			t.Errorf("Expected current track not to replay, got %v", rest)
		}
	}

	last, _ := m.Current()
	m.SetShuffle(false)
	cur, _ = m.Current()
	if cur.Path != last.Path {
		t.Errorf("Expected %s to stay current after unshuffle, got %s", last.Path, cur.Path)
	}
	if idx, _ := m.Position(); m.GetItems()[idx].Path != last.Path {
		t.Errorf("Expected position %d to point at %s", idx, last.Path)
	}
}

func TestShuffleAppendAndRemove(t *testing.T) {
	m := NewManager()
	m.SetPaths([]string{"/a", "/b", "/c"})
	m.SetShuffle(true)
	first, _ := m.Next()

	m.AppendPaths([]string{"/d", "/e"})
	if !m.Insert(0, QueueItem{Path: "/z"}) {
		t.Fatal("Insert failed")
	}
	cur, _ := m.Current()
	if cur.Path != first.Path {
		t.Errorf("Expected %s to stay current, got %s", first.Path, cur.Path)
	}

	upcoming := paths(m.Upcoming(10))
	if len(upcoming) != 5 {
		t.Fatalf("Expected 5 upcoming tracks, got %v", upcoming)
	}
	want := map[string]bool{"/a": true, "/b": true, "/c": true, "/d": true, "/e": true, "/z": true}
	delete(want, first.Path)
	for _, p := range upcoming {
		if !want[p] {
			t.Errorf("Unexpected upcoming track %s in %v", p, upcoming)
		}
		delete(want, p)
	}

	// Remove an upcoming item by its item index.
	items := paths(m.GetItems())
	target := upcoming[0]
	for i, p := range items {
		if p == target {
			m.Remove(i)
		}
	}
	for _, p := range paths(m.Upcoming(10)) {
		if p == target {
			t.Errorf("Expected %s removed from play order", target)
		}
	}
	if cur, _ := m.Current(); cur.Path != first.Path {
		t.Errorf("Expected %s to stay current after remove, got %s", first.Path, cur.Path)
	}
}

func TestMove(t *testing.T) {
	m := NewManager()
	m.SetPaths([]string{"/a", "/b", "/c", "/d"})
	m.Jump(1)

	if !m.Move(0, 3) {
		t.Fatal("Move failed")
	}
	got := paths(m.GetItems())
	want := []string{"/b", "/c", "/d", "/a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, got)
		}
	}
	if cur, _ := m.Current(); cur.Path != "/b" {
		t.Errorf("Expected /b to stay current, got %s", cur.Path)
	}
	if idx, _ := m.Position(); idx != 0 {
		t.Errorf("Expected index 0, got %d", idx)
	}

	m.Move(3, 0)
	got = paths(m.GetItems())
	if got[0] != "/a" || got[1] != "/b" {
		t.Errorf("Expected /a moved back to the front, got %v", got)
	}
	if next, _ := m.Next(); next.Path != "/c" {
		t.Errorf("Expected /c next, got %s", next.Path)
	}

	if m.Move(0, 4) || m.Move(-1, 0) {
		t.Error("Expected out of range moves to fail")
	}
}

func TestMoveWhileShuffled(t *testing.T) {
	m := NewManager()
	m.SetPaths([]string{"/a", "/b", "/c", "/d"})
	m.SetShuffle(true)
	m.Next()
	before, _ := m.Current()
	upcoming := paths(m.Upcoming(10))

	m.Move(0, 3)
	m.Move(2, 1)

	if cur, _ := m.Current(); cur.Path != before.Path {
		t.Errorf("Expected %s to stay current, got %s", before.Path, cur.Path)
	}
	after := paths(m.Upcoming(10))
	for i := range upcoming {
		if after[i] != upcoming[i] {
			t.Fatalf("Expected play order %v unchanged by moves, got %v", upcoming, after)
		}
	}
}

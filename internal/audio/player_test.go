package audio

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/austinkregel/local-media/jukeboxd/internal/jukebox"
	"github.com/austinkregel/local-media/jukeboxd/internal/media"
)

type fakeOutput struct {
	mu      sync.Mutex
	paused  bool
	stops   int
	volume  float64
	written int
}

func (o *fakeOutput) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.written += len(p)
	return len(p), nil
}
func (o *fakeOutput) Close() error    { return nil }
func (o *fakeOutput) SampleRate() int { return 44100 }
func (o *fakeOutput) Channels() int   { return 2 }
func (o *fakeOutput) Pause() {
	o.mu.Lock()
	o.paused = true
	o.mu.Unlock()
}
func (o *fakeOutput) Resume() {
	o.mu.Lock()
	o.paused = false
	o.mu.Unlock()
}
func (o *fakeOutput) Stop() {
	o.mu.Lock()
	o.paused = false
	o.stops++
	o.mu.Unlock()
}
func (o *fakeOutput) SetVolume(v float64) {
	o.mu.Lock()
	o.volume = v
	o.mu.Unlock()
}

// fakeDecoder blocks until cancelled unless finish is set, in which case
// it returns as soon as decoding starts.
type fakeDecoder struct {
	mu       sync.Mutex
	duration time.Duration
	finish   bool
	starts   []int64
}

func (d *fakeDecoder) Decode(ctx context.Context, path string, output Output, startMs int64) error {
	d.mu.Lock()
	d.starts = append(d.starts, startMs)
	finish := d.finish
	d.mu.Unlock()

	output.Write(make([]byte, 16))
	if finish {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (d *fakeDecoder) Duration(string) (time.Duration, error) { return d.duration, nil }

func (d *fakeDecoder) Metadata(path string) (*FileMetadata, error) {
	return &FileMetadata{Title: "Tagged", Artist: "Someone", Duration: d.duration}, nil
}

func (d *fakeDecoder) Close() error { return nil }

func (d *fakeDecoder) startPositions() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.starts...)
}

type fakeSession struct {
	media.NoOpSession
	mu     sync.Mutex
	seeked []time.Duration
}

func (s *fakeSession) NotifySeeked(pos time.Duration) error {
	s.mu.Lock()
	s.seeked = append(s.seeked, pos)
	s.mu.Unlock()
	return nil
}

func newTestPlayer(t *testing.T, dec *fakeDecoder) (*Player, *fakeOutput, *fakeSession) {
	t.Helper()
	out := &fakeOutput{}
	sess := &fakeSession{}
	p := newPlayer(sess, out, dec, 5*time.Millisecond)
	t.Cleanup(func() { p.Close() })
	return p, out, sess
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestPlayReportsTrackAndProgress(t *testing.T) {
	dec := &fakeDecoder{duration: time.Minute}
	p, _, _ := newTestPlayer(t, dec)

	var mu sync.Mutex
	var tracks []jukebox.Track
	var positions []int64
	p.SubscribeTrackChange(func(tr jukebox.Track) {
		mu.Lock()
		tracks = append(tracks, tr)
		mu.Unlock()
	})
	unsub := p.SubscribeProgress(func(pos int64) {
		mu.Lock()
		positions = append(positions, pos)
		mu.Unlock()
	})

	md := &TrackMetadata{TrackID: "abc", Kind: "music", Title: "Song"}
	if err := p.Play(context.Background(), "/music/song.flac", md); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	tr, ok := p.CurrentTrack()
	if !ok || tr.ID != "abc" || tr.Kind != jukebox.KindMusic || tr.Path != "/music/song.flac" {
		t.Errorf("Unexpected current track %+v (ok=%v)", tr, ok)
	}

	waitFor(t, "progress", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(positions) >= 3
	})
	mu.Lock()
	if len(tracks) != 1 || tracks[0].ID != "abc" {
		t.Errorf("Expected one track change for abc, got %+v", tracks)
	}
	for i := 1; i < len(positions); i++ {
		if positions[i] < positions[i-1] {
			t.Errorf("Expected non-decreasing positions, got %v", positions)
			break
		}
	}
	mu.Unlock()

	unsub()
	mu.Lock()
	n := len(positions)
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	if len(positions) != n {
		t.Errorf("Expected no progress after unsubscribe, got %d more", len(positions)-n)
	}
	mu.Unlock()
}

func TestSeekRestartsDecoderWithoutTrackChange(t *testing.T) {
	dec := &fakeDecoder{duration: time.Minute}
	p, _, sess := newTestPlayer(t, dec)

	changes := 0
	p.SubscribeTrackChange(func(jukebox.Track) { changes++ })

	var mu sync.Mutex
	var positions []int64
	p.SubscribeProgress(func(pos int64) {
		mu.Lock()
		positions = append(positions, pos)
		mu.Unlock()
	})

	if err := p.Play(context.Background(), "/music/song.flac", &TrackMetadata{TrackID: "abc"}); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if err := p.Seek(30000); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}

	if changes != 1 {
		t.Errorf("Expected seek not to change track, got %d changes", changes)
	}
	if p.Position() < 30000 {
		t.Errorf("Expected position at or past 30000, got %d", p.Position())
	}
	if starts := dec.startPositions(); len(starts) != 2 || starts[1] != 30000 {
		t.Errorf("Expected decoder restarted at 30000, got %v", starts)
	}
	sess.mu.Lock()
	if len(sess.seeked) != 1 || sess.seeked[0] != 30*time.Second {
		t.Errorf("Expected Seeked(30s), got %v", sess.seeked)
	}
	sess.mu.Unlock()

	waitFor(t, "progress after seek", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(positions) > 1 && positions[len(positions)-1] > 30000
	})
	tr, _ := p.CurrentTrack()
	if tr.ID != "abc" {
		t.Errorf("Expected track identity to survive a seek, got %+v", tr)
	}
}

func TestSeekClampsAndRequiresTrack(t *testing.T) {
	dec := &fakeDecoder{duration: 10 * time.Second}
	p, _, _ := newTestPlayer(t, dec)

	if err := p.Seek(1000); err != ErrNotPlaying {
		t.Errorf("Expected ErrNotPlaying, got %v", err)
	}

	p.Play(context.Background(), "/music/a.mp3", nil)
	p.Seek(-50)
	if starts := dec.startPositions(); starts[len(starts)-1] != 0 {
		t.Errorf("Expected negative seek clamped to 0, got %v", starts)
	}
	p.Seek(99999)
	if starts := dec.startPositions(); starts[len(starts)-1] != 10000 {
		t.Errorf("Expected seek clamped to duration, got %v", starts)
	}
}

func TestSeekWhilePausedStaysPaused(t *testing.T) {
	dec := &fakeDecoder{duration: time.Minute}
	p, out, _ := newTestPlayer(t, dec)

	p.Play(context.Background(), "/music/a.mp3", &TrackMetadata{Duration: 60000})
	p.Pause()
	p.Seek(5000)

	if st := p.Status(); st.State != StatePaused || st.Position != 5000 {
		t.Errorf("Expected paused at 5000, got %s at %d", st.State, st.Position)
	}
	out.mu.Lock()
	paused := out.paused
	out.mu.Unlock()
	if !paused {
		t.Error("Expected output paused after seeking while paused")
	}

	time.Sleep(30 * time.Millisecond)
	if pos := p.Position(); pos != 5000 {
		t.Errorf("Expected the clock to hold while paused, got %d", pos)
	}

	p.Resume()
	waitFor(t, "clock to advance", func() bool { return p.Position() > 5000 })
}

func TestTrackEndCallback(t *testing.T) {
	dec := &fakeDecoder{duration: 40 * time.Millisecond, finish: true}
	p, _, _ := newTestPlayer(t, dec)

	ended := make(chan string, 1)
	p.SetOnTrackEnd(func(path string) { ended <- path })

	p.Play(context.Background(), "/music/short.mp3", &TrackMetadata{Duration: 40})
	select {
	case path := <-ended:
		if path != "/music/short.mp3" {
			t.Errorf("Expected end of short.mp3, got %s", path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the track to end")
	}
	if _, ok := p.CurrentTrack(); ok {
		t.Error("Expected no current track after the end")
	}
}

func TestStopIsNotTrackEnd(t *testing.T) {
	dec := &fakeDecoder{duration: time.Minute}
	p, _, _ := newTestPlayer(t, dec)

	ended := make(chan string, 1)
	p.SetOnTrackEnd(func(path string) { ended <- path })

	p.Play(context.Background(), "/music/a.mp3", nil)
	p.Stop()
	select {
	case <-ended:
		t.Error("Expected manual stop not to fire the track end callback")
	case <-time.After(50 * time.Millisecond):
	}
	if st := p.Status(); st.State != StateStopped {
		t.Errorf("Expected stopped, got %s", st.State)
	}
}

func TestMetadataExtractionKeepsIdentity(t *testing.T) {
	dec := &fakeDecoder{duration: time.Minute}
	p, _, _ := newTestPlayer(t, dec)

	p.Play(context.Background(), "/music/a.mp3", &TrackMetadata{TrackID: "xyz"})
	waitFor(t, "metadata", func() bool {
		st := p.Status()
		return st.Metadata != nil && st.Metadata.Title == "Tagged"
	})
	tr, _ := p.CurrentTrack()
	if tr.ID != "xyz" || tr.Title != "Tagged" {
		t.Errorf("Expected tagged title with original id, got %+v", tr)
	}
}

func TestOnCommand(t *testing.T) {
	dec := &fakeDecoder{duration: time.Minute}
	p, out, _ := newTestPlayer(t, dec)

	next := 0
	p.SetOnNext(func() { next++ })
	var loop media.LoopStatus
	p.SetOnLoop(func(s media.LoopStatus) { loop = s })
	shuffle := false
	p.SetOnShuffle(func(enabled bool) { shuffle = enabled })

	p.Play(context.Background(), "/music/a.mp3", &TrackMetadata{Title: "A"})
	p.OnCommand(media.CmdPlayPause, nil)
	if p.Status().State != StatePaused {
		t.Errorf("Expected PlayPause to pause, got %s", p.Status().State)
	}
	p.OnCommand(media.CmdPlay, nil)
	if p.Status().State != StatePlaying {
		t.Errorf("Expected Play to resume, got %s", p.Status().State)
	}
	p.OnCommand(media.CmdNext, nil)
	if next != 1 {
		t.Errorf("Expected next callback, got %d", next)
	}
	p.OnCommand(media.CmdSetLoopStatus, media.LoopTrack)
	if loop != media.LoopTrack {
		t.Errorf("Expected loop Track, got %q", loop)
	}
	p.OnCommand(media.CmdSetShuffle, true)
	if !shuffle {
		t.Error("Expected shuffle callback with true")
	}
	p.OnCommand(media.CmdSeek, 2*time.Second)
	if starts := dec.startPositions(); starts[len(starts)-1] != 2000 {
		t.Errorf("Expected OS seek to 2000ms, got %v", starts)
	}

	if err := p.SetVolume(0.4); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.volume != 0.4 {
		t.Errorf("Expected output volume 0.4, got %f", out.volume)
	}
	if err := p.SetVolume(2); err == nil {
		t.Error("Expected error for volume above 1")
	}
}

func TestFindAlbumArt(t *testing.T) {
	artist := filepath.Join(t.TempDir(), "Artist")
	album := filepath.Join(artist, "Album")
	if err := os.MkdirAll(album, 0o755); err != nil {
		t.Fatal(err)
	}
	track := filepath.Join(album, "01.flac")

	if got := FindAlbumArt(track); got != "" {
		t.Errorf("Expected no art, got %s", got)
	}
	writeFile(t, filepath.Join(artist, "folder.png"))
	if got := FindAlbumArt(track); got != filepath.Join(artist, "folder.png") {
		t.Errorf("Expected artist folder art, got %s", got)
	}
	writeFile(t, filepath.Join(album, "cover.jpg"))
	if got := FindAlbumArt(track); got != filepath.Join(album, "cover.jpg") {
		t.Errorf("Expected album cover, got %s", got)
	}
	if got := FindAlbumArt(""); got != "" {
		t.Errorf("Expected empty path to find nothing, got %s", got)
	}
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("img"), 0o644); err != nil {
		t.Fatal(err)
	}
}

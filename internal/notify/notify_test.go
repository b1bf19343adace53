package notify

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu   sync.Mutex
	sent []string
}

func (r *recorder) send(title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, title+": "+message)
	return nil
}

func newTestDesktop(r *recorder, clock *time.Time) *Desktop {
	d := NewDesktop("")
	d.send = r.send
	d.now = func() time.Time { return *clock }
	return d
}

func TestShowSuppressesRepeats(t *testing.T) {
	r := &recorder{}
	clock := time.Unix(1000, 0)
	d := newTestDesktop(r, &clock)

	d.Show("Jukebox is not available for podcasts")
	d.Show("Jukebox is not available for podcasts")
	d.Show("Could not load the analysis")
	d.Show("Jukebox is not available for podcasts")
	clock = clock.Add(repeatWindow)
	d.Show("Jukebox is not available for podcasts")
	d.Wait()

	if len(r.sent) != 4 {
		t.Fatalf("Expected 4 notifications, got %d: %v", len(r.sent), r.sent)
	}
	if r.sent[0] != "Jukebox: Jukebox is not available for podcasts" {
		t.Errorf("Unexpected first notification %q", r.sent[0])
	}
}

func TestShowDoesNotBlockOnFailure(t *testing.T) {
	d := NewDesktop("Test")
	block := make(chan struct{})
	d.send = func(string, string) error {
		<-block
		return errors.New("no notification daemon")
	}

	done := make(chan struct{})
	go func() {
		d.Show("hello")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected Show to return while delivery is pending")
	}
	close(block)
	d.Wait()
}

func TestEscaping(t *testing.T) {
	if got := appleScriptString(`say "hi" \o/`); got != `"say \"hi\" \\o/"` {
		t.Errorf("Unexpected AppleScript string %s", got)
	}
	if got := powerShellXML(`Rock & Roll's <best>`); got != `Rock &amp; Roll''s &lt;best&gt;` {
		t.Errorf("Unexpected PowerShell XML %s", got)
	}
}

// Package notify shows desktop notifications for jukebox events.
package notify

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultTitle heads every notification.
const DefaultTitle = "Jukebox"

// repeatWindow suppresses identical messages shown in quick succession.
const repeatWindow = 10 * time.Second

// Desktop sends notifications through the platform's notification tool.
// Show never blocks; delivery happens on its own goroutine.
type Desktop struct {
	title string
	send  func(title, message string) error
	now   func() time.Time
	log   zerolog.Logger

	mu       sync.Mutex
	lastMsg  string
	lastShow time.Time
	wg       sync.WaitGroup
}

// NewDesktop creates a notifier for the current platform.
func NewDesktop(title string) *Desktop {
	if title == "" {
		title = DefaultTitle
	}
	return &Desktop{
		title: title,
		send:  platformSend,
		now:   time.Now,
		log:   log.With().Str("component", "notify").Logger(),
	}
}

// Show displays message unless it repeats the previous one.
func (d *Desktop) Show(message string) {
	d.mu.Lock()
	now := d.now()
	if message == d.lastMsg && now.Sub(d.lastShow) < repeatWindow {
		d.mu.Unlock()
		return
	}
	d.lastMsg = message
	d.lastShow = now
	d.mu.Unlock()

	d.log.Info().Str("message", message).Msg("notification")

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.send(d.title, message); err != nil {
			d.log.Warn().Err(err).Msg("failed to show notification")
		}
	}()
}

// Wait blocks until notifications in flight have been handed off.
func (d *Desktop) Wait() {
	d.wg.Wait()
}

// Package analysis locates audio analyses for tracks: sidecar files next to
// local audio, a remote analysis service, and an on-disk cache in front of
// the service.
package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/austinkregel/local-media/jukeboxd/internal/jukebox"
	"github.com/austinkregel/local-media/jukeboxd/internal/remix"
)

// ErrNotFound is returned by a provider that has nothing for the track.
// Chain moves on to the next provider.
var ErrNotFound = errors.New("analysis not found")

// Chain asks each provider in turn; the first hit wins.
type Chain struct {
	providers []jukebox.AnalysisProvider
}

var (
	_ jukebox.AnalysisProvider     = (*Chain)(nil)
	_ jukebox.LocalAnalysisChecker = (*Chain)(nil)
)

// NewChain builds a chain, skipping nil providers.
func NewChain(providers ...jukebox.AnalysisProvider) *Chain {
	c := &Chain{}
	for _, p := range providers {
		if p != nil {
			c.providers = append(c.providers, p)
		}
	}
	return c
}

// Fetch returns the first analysis found. Errors other than ErrNotFound stop
// the search.
func (c *Chain) Fetch(ctx context.Context, track jukebox.Track) (*remix.Analysis, error) {
	for _, p := range c.providers {
		a, err := p.Fetch(ctx, track)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	return nil, fmt.Errorf("%w: %w", jukebox.ErrNoAnalysis, ErrNotFound)
}

// HasLocalAnalysis reports whether any provider can serve a track without a
// catalog id.
func (c *Chain) HasLocalAnalysis(track jukebox.Track) bool {
	for _, p := range c.providers {
		if checker, ok := p.(jukebox.LocalAnalysisChecker); ok && checker.HasLocalAnalysis(track) {
			return true
		}
	}
	return false
}

package analysis

import (
	"context"
	"fmt"
	"os"

	"github.com/austinkregel/local-media/jukeboxd/internal/jukebox"
	"github.com/austinkregel/local-media/jukeboxd/internal/remix"
)

// DefaultSidecarSuffix names the analysis stored next to an audio file:
// song.flac -> song.flac.analysis.json.
const DefaultSidecarSuffix = ".analysis.json"

// Sidecar reads analyses saved beside the audio files.
type Sidecar struct {
	suffix string
}

func NewSidecar(suffix string) *Sidecar {
	if suffix == "" {
		suffix = DefaultSidecarSuffix
	}
	return &Sidecar{suffix: suffix}
}

func (s *Sidecar) path(track jukebox.Track) string {
	if track.Path == "" {
		return ""
	}
	return track.Path + s.suffix
}

func (s *Sidecar) Fetch(ctx context.Context, track jukebox.Track) (*remix.Analysis, error) {
	p := s.path(track)
	if p == "" {
		return nil, ErrNotFound
	}
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open sidecar: %w", err)
	}
	defer f.Close()

	a, err := remix.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return a, nil
}

func (s *Sidecar) HasLocalAnalysis(track jukebox.Track) bool {
	p := s.path(track)
	if p == "" {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

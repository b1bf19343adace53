package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// FileMetadata is what ffprobe knows about a file.
type FileMetadata struct {
	Title    string
	Artist   string
	Album    string
	Duration time.Duration
}

// FFmpegDecoder decodes with ffmpeg and probes with ffprobe.
type FFmpegDecoder struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegDecoder locates ffmpeg and ffprobe on PATH.
func NewFFmpegDecoder() (*FFmpegDecoder, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	return &FFmpegDecoder{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}, nil
}

// decodeArgs builds an ffmpeg invocation producing raw s16le at the
// output's rate and channel count, starting startMs into the file.
func decodeArgs(path string, startMs int64, sampleRate, channels int) []string {
	var args []string
	if startMs > 0 {
		// -ss before -i seeks the demuxer instead of decoding up to the offset.
		args = append(args, "-ss", strconv.FormatFloat(float64(startMs)/1000, 'f', 3, 64))
	}
	return append(args,
		"-nostdin",
		"-v", "error",
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(sampleRate),
		"-",
	)
}

// Decode streams PCM from startMs to the end of the file into output. It
// returns ctx.Err() when cancelled.
func (d *FFmpegDecoder) Decode(ctx context.Context, path string, output Output, startMs int64) error {
	cmd := exec.CommandContext(ctx, d.ffmpegPath, decodeArgs(path, startMs, output.SampleRate(), output.Channels())...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	log.Debug().
		Str("component", "decoder").
		Str("path", path).
		Int64("startMs", startMs).
		Int("pid", cmd.Process.Pid).
		Msg("ffmpeg started")

	_, copyErr := io.CopyBuffer(output, stdout, make([]byte, 4096))
	if copyErr != nil {
		cmd.Process.Kill()
	}
	waitErr := cmd.Wait()

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case copyErr != nil:
		return fmt.Errorf("failed to write to output: %w", copyErr)
	case waitErr != nil:
		return fmt.Errorf("ffmpeg failed: %w: %s", waitErr, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Duration probes the container duration.
func (d *FFmpegDecoder) Duration(path string) (time.Duration, error) {
	out, err := exec.Command(d.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseSeconds(strings.TrimSpace(string(out)))
}

// Metadata reads title, artist and album tags. The title falls back to the
// file name.
func (d *FFmpegDecoder) Metadata(path string) (*FileMetadata, error) {
	out, err := exec.Command(d.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	).Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbe(path, out)
}

func parseProbe(path string, data []byte) (*FileMetadata, error) {
	var probe struct {
		Format struct {
			Duration string            `json:"duration"`
			Tags     map[string]string `json:"tags"`
		} `json:"format"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	meta := &FileMetadata{}
	var albumArtist string
	for key, value := range probe.Format.Tags {
		switch strings.ToLower(key) {
		case "title":
			meta.Title = value
		case "artist":
			meta.Artist = value
		case "album":
			meta.Album = value
		case "album_artist":
			albumArtist = value
		}
	}
	if meta.Artist == "" {
		meta.Artist = albumArtist
	}
	if probe.Format.Duration != "" {
		if dur, err := parseSeconds(probe.Format.Duration); err == nil {
			meta.Duration = dur
		}
	}
	if meta.Title == "" {
		base := filepath.Base(path)
		meta.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return meta, nil
}

func parseSeconds(s string) (time.Duration, error) {
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", s, err)
	}
	return time.Duration(sec * float64(time.Second)), nil
}

func (d *FFmpegDecoder) Close() error {
	return nil
}

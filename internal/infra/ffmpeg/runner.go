// Package ffmpeg wraps the ffmpeg binary for duration probing and demo cuts.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds a single ffmpeg invocation.
const DefaultTimeout = 5 * time.Minute

// watermarkFade is the length of the fade-out applied at the end of a
// watermarked demo.
const watermarkFade = 2

var (
	// ErrUnavailable is returned when no ffmpeg executable can be found.
	ErrUnavailable = errors.New("ffmpeg not available")
	// ErrNoDuration is returned when the probe output has no Duration line.
	ErrNoDuration = errors.New("ffmpeg: duration not found")
	// ErrEmptyOutput is returned when a cut produced no file or an empty one.
	ErrEmptyOutput = errors.New("ffmpeg: empty output")
)

var durationRe = regexp.MustCompile(`Duration: (\d+):(\d+):(\d+(?:\.\d+)?)`)

// Runner runs ffmpeg. The configured path may name the binary itself or a
// directory containing it.
type Runner struct {
	path    string
	timeout time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRunner creates a runner for the binary at path ("ffmpeg" when empty).
func NewRunner(path string, opts ...Option) *Runner {
	if path == "" {
		path = "ffmpeg"
	}
	r := &Runner{path: path, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Available reports whether the ffmpeg binary can be resolved.
func (r *Runner) Available() bool {
	_, err := r.binary()
	return err == nil
}

func (r *Runner) binary() (string, error) {
	path := r.path
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, "ffmpeg")
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resolved, nil
}

// Probe returns the duration ffmpeg reports for src.
func (r *Runner) Probe(ctx context.Context, src string) (time.Duration, error) {
	bin, err := r.binary()
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// ffmpeg exits non-zero when given no output file; the banner on
	// stderr still carries the duration.
	output, _ := exec.CommandContext(ctx, bin, "-hide_banner", "-i", src).CombinedOutput()
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	total, err := ParseDuration(string(output))
	if err != nil {
		return 0, err
	}
	log.Debug().Str("src", src).Dur("total", total).Msg("ffmpeg probe complete")
	return total, nil
}

// ParseDuration extracts the first "Duration: HH:MM:SS.ff" from ffmpeg output.
func ParseDuration(output string) (time.Duration, error) {
	m := durationRe.FindStringSubmatch(output)
	if m == nil {
		return 0, ErrNoDuration
	}
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	seconds, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, fmt.Errorf("ffmpeg: bad duration %q: %w", m[0], err)
	}
	total := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(math.Round(seconds*float64(time.Second)))
	return total, nil
}

// TargetSeconds is floor(total * percent / 100) in whole seconds.
func TargetSeconds(total time.Duration, percent int) int {
	return int(math.Floor(total.Seconds() * float64(percent) / 100))
}

// CutArgs builds the argument list for cutting src to seconds. With a
// watermark the second input is looped under the track at reduced volume
// and the mix fades out over the final seconds.
func CutArgs(src, dst string, seconds int, watermark string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", src}
	if watermark != "" {
		fadeStart := max(seconds-watermarkFade, 0)
		filter := fmt.Sprintf(
			"[1:a]aloop=loop=-1:size=2e+09,volume=0.3[wm];"+
				"[0:a][wm]amix=inputs=2:duration=first:dropout_transition=0,"+
				"afade=t=out:st=%d:d=%d[out]",
			fadeStart, watermarkFade)
		args = append(args, "-i", watermark, "-filter_complex", filter, "-map", "[out]")
	} else {
		args = append(args, "-map", "0:a", "-vn")
	}
	return append(args, "-t", strconv.Itoa(seconds), dst)
}

// Cut writes the first seconds of src to dst. A missing or empty dst after
// the run is reported as ErrEmptyOutput.
func (r *Runner) Cut(ctx context.Context, src, dst string, seconds int, watermark string) error {
	bin, err := r.binary()
	if err != nil {
		return err
	}
	if seconds <= 0 {
		return fmt.Errorf("ffmpeg: cut length must be positive, got %d", seconds)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := CutArgs(src, dst, seconds, watermark)
	start := time.Now()
	output, err := exec.CommandContext(ctx, bin, args...).CombinedOutput()
	if err != nil {
		log.Error().
			Err(err).
			Str("src", src).
			Str("output", strings.TrimSpace(string(output))).
			Msg("ffmpeg cut failed")
		return fmt.Errorf("ffmpeg cut: %w", err)
	}

	info, err := os.Stat(dst)
	if err != nil || info.Size() == 0 {
		return ErrEmptyOutput
	}

	log.Debug().
		Str("src", src).
		Int("seconds", seconds).
		Bool("watermark", watermark != "").
		Dur("took", time.Since(start)).
		Msg("ffmpeg cut complete")
	return nil
}

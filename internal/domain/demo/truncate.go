package demo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/bandfront-demo-service/internal/infra/ffmpeg"
	"github.com/edumarques81/bandfront-demo-service/internal/infra/mp3cut"
)

// Outcome is how a demo was produced.
type Outcome int

const (
	// OutcomeNone: no truncation was requested, the full file is served.
	OutcomeNone Outcome = iota
	OutcomeFFmpeg
	OutcomeCutter
	// OutcomeRaw: the cutter failed and the file was byte-truncated.
	OutcomeRaw
	// OutcomeDegraded: truncation was requested but the full file is served.
	OutcomeDegraded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeFFmpeg:
		return "ffmpeg"
	case OutcomeCutter:
		return "cutter"
	case OutcomeRaw:
		return "raw"
	case OutcomeDegraded:
		return "degraded"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// TruncationErrorKind classifies what went wrong during truncation.
type TruncationErrorKind int

const (
	FfmpegUnavailable TruncationErrorKind = iota + 1
	CutterFailed
	RawFallbackUsed
)

func (k TruncationErrorKind) String() string {
	switch k {
	case FfmpegUnavailable:
		return "ffmpeg_unavailable"
	case CutterFailed:
		return "cutter_failed"
	case RawFallbackUsed:
		return "raw_fallback_used"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// TruncationError carries the kind and cause of a truncation problem.
type TruncationError struct {
	Kind TruncationErrorKind
	Err  error
}

func (e *TruncationError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *TruncationError) Unwrap() error { return e.Err }

// TruncationResult reports how a demo was produced. Err is set whenever a
// preferred route could not be used, even if a fallback succeeded.
type TruncationResult struct {
	Outcome Outcome
	Err     *TruncationError
	// Seconds is the ffmpeg cut length, Bytes the size of the final file.
	Seconds int
	Bytes   int64
}

// Truncated reports whether the served file is shorter than the source.
func (r TruncationResult) Truncated() bool {
	switch r.Outcome {
	case OutcomeFFmpeg, OutcomeCutter, OutcomeRaw:
		return true
	}
	return false
}

// FFmpeg is the subset of the ffmpeg runner the truncator uses.
type FFmpeg interface {
	Available() bool
	Probe(ctx context.Context, src string) (time.Duration, error)
	Cut(ctx context.Context, src, dst string, seconds int, watermark string) error
}

// Cutter cuts MP3 files by percentage.
type Cutter interface {
	CutPercent(src, dst string, percent int) (*mp3cut.Result, error)
}

// RawTruncator shortens a file in place to percent of its size.
type RawTruncator func(path string, percent int) (int64, error)

// TruncateRequest describes one truncation.
type TruncateRequest struct {
	ProductID int64
	// Src is the full staging copy; it is consumed. Dst receives the demo.
	Src     string
	Dst     string
	Percent int
	// Cut is false when the full file is to be served.
	Cut bool
}

// Truncator turns a staging copy into the cached file, preferring ffmpeg,
// then the MP3 cutter, then a raw byte truncate.
type Truncator struct {
	ffmpeg     FFmpeg
	watermark  string
	cutter     Cutter
	raw        RawTruncator
	ffmpegTime func(productID int64, seconds int) int
}

// TruncatorConfig wires a Truncator. FFmpeg is nil when ffmpeg is disabled;
// Raw defaults to mp3cut.RawTruncate.
type TruncatorConfig struct {
	FFmpeg     FFmpeg
	Watermark  string
	Cutter     Cutter
	Raw        RawTruncator
	FFmpegTime func(productID int64, seconds int) int
}

// NewTruncator creates a truncator.
func NewTruncator(cfg TruncatorConfig) *Truncator {
	if cfg.Raw == nil {
		cfg.Raw = mp3cut.RawTruncate
	}
	return &Truncator{
		ffmpeg:     cfg.FFmpeg,
		watermark:  cfg.Watermark,
		cutter:     cfg.Cutter,
		raw:        cfg.Raw,
		ffmpegTime: cfg.FFmpegTime,
	}
}

// Truncate produces req.Dst from req.Src. It fails only when the staging
// copy cannot be moved into place; every truncation problem degrades to a
// longer file and is reported in the result.
func (t *Truncator) Truncate(ctx context.Context, req TruncateRequest) (TruncationResult, error) {
	var res TruncationResult
	if !req.Cut || req.Percent <= 0 || req.Percent >= 100 {
		res.Outcome = OutcomeNone
		return t.finish(req, res, true)
	}

	if t.ffmpeg != nil {
		if t.ffmpeg.Available() {
			res = t.viaFFmpeg(ctx, req)
			return t.finish(req, res, res.Outcome != OutcomeFFmpeg)
		}
		res.Err = &TruncationError{Kind: FfmpegUnavailable}
		log.Warn().Msg("ffmpeg enabled but not available, using the MP3 cutter")
	}

	res = t.viaCutter(req, res.Err)
	return t.finish(req, res, res.Outcome != OutcomeCutter)
}

// viaFFmpeg cuts with ffmpeg. Any failure leaves the staging copy uncut.
func (t *Truncator) viaFFmpeg(ctx context.Context, req TruncateRequest) TruncationResult {
	var seconds int
	total, err := t.ffmpeg.Probe(ctx, req.Src)
	if err == nil {
		seconds = ffmpeg.TargetSeconds(total, req.Percent)
	}
	if err == nil && t.ffmpegTime != nil {
		seconds = t.ffmpegTime(req.ProductID, seconds)
	}
	if err == nil && seconds <= 0 {
		err = fmt.Errorf("demo length %ds too short", seconds)
	}
	if err == nil {
		tmp := filepath.Join(filepath.Dir(req.Dst), ".ff-"+uuid.NewString()+filepath.Ext(req.Dst))
		if err = t.ffmpeg.Cut(ctx, req.Src, tmp, seconds, t.watermark); err == nil {
			if err = os.Rename(tmp, req.Dst); err == nil {
				return TruncationResult{Outcome: OutcomeFFmpeg, Seconds: seconds}
			}
		}
		os.Remove(tmp)
	}

	log.Warn().Err(err).Str("src", req.Src).Msg("ffmpeg truncation failed, serving the full file")
	return TruncationResult{
		Outcome: OutcomeDegraded,
		Err:     &TruncationError{Kind: FfmpegUnavailable, Err: err},
		Seconds: seconds,
	}
}

// viaCutter runs the MP3 cutter and falls back to a raw truncate of the
// staging copy.
func (t *Truncator) viaCutter(req TruncateRequest, prior *TruncationError) TruncationResult {
	cutErr := t.safeCut(req)
	if cutErr == nil {
		return TruncationResult{Outcome: OutcomeCutter, Err: prior}
	}

	log.Warn().Err(cutErr).Str("src", req.Src).Msg("MP3 cutter failed, truncating raw bytes")
	if _, err := t.raw(req.Src, req.Percent); err != nil {
		log.Error().Err(err).Str("src", req.Src).Msg("Raw truncate failed, serving the full file")
		return TruncationResult{
			Outcome: OutcomeDegraded,
			Err:     &TruncationError{Kind: CutterFailed, Err: errors.Join(cutErr, err)},
		}
	}
	return TruncationResult{
		Outcome: OutcomeRaw,
		Err:     &TruncationError{Kind: RawFallbackUsed, Err: cutErr},
	}
}

// safeCut runs the cutter, turning a panic into an error.
func (t *Truncator) safeCut(req TruncateRequest) (err error) {
	if t.cutter == nil {
		return errors.New("no cutter configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cutter panic: %v", r)
		}
	}()
	_, err = t.cutter.CutPercent(req.Src, req.Dst, req.Percent)
	return err
}

// finish moves the staging copy onto Dst when it is still the file to
// serve, or removes it when Dst was written from it.
func (t *Truncator) finish(req TruncateRequest, res TruncationResult, keepStaging bool) (TruncationResult, error) {
	if keepStaging {
		if err := os.Rename(req.Src, req.Dst); err != nil {
			os.Remove(req.Src)
			return res, fmt.Errorf("move staging copy into place: %w", err)
		}
	} else if err := os.Remove(req.Src); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("path", req.Src).Msg("Failed to remove staging copy")
	}

	if info, err := os.Stat(req.Dst); err == nil {
		res.Bytes = info.Size()
	}
	truncationsTotal.WithLabelValues(res.Outcome.String()).Inc()
	return res, nil
}

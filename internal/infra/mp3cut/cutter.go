// Package mp3cut shortens MP3 files without an external encoder.
//
// CutPercent keeps whole MPEG audio frames from the start of the stream until
// the requested share of the file size is reached, carrying the leading ID3v2
// tag over to the output. RawTruncate is the last resort for inputs the frame
// walker cannot parse: most decoders tolerate a truncated final frame.
package mp3cut

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/bogem/id3v2/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tcolgate/mp3"
)

// ErrNotMP3 is returned when no MPEG audio frame could be decoded.
var ErrNotMP3 = errors.New("mp3cut: no MPEG audio frames found")

// Result describes a finished cut.
type Result struct {
	Frames   int
	Bytes    int64
	Duration time.Duration
}

// Cutter performs frame-aligned cuts. Comment, when set, is stamped into
// the ID3v2 tag of the output, creating one for untagged sources.
type Cutter struct {
	Comment string
}

// NewCutter creates a cutter that stamps comment into cut files.
func NewCutter(comment string) *Cutter {
	return &Cutter{Comment: comment}
}

// CutPercent writes the first percent of src to dst. The output holds at
// least one frame and never exceeds round(size*percent/100) bytes by more
// than that single frame. dst is replaced atomically.
func (c *Cutter) CutPercent(src, dst string, percent int) (*Result, error) {
	if percent <= 0 || percent > 100 {
		return nil, fmt.Errorf("mp3cut: percent out of range: %d", percent)
	}

	in, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return nil, err
	}
	target := int64(math.Round(float64(info.Size()) * float64(percent) / 100))

	tagSize, err := id3v2Size(in)
	if err != nil {
		return nil, err
	}

	tmp := filepath.Join(filepath.Dir(dst), ".cut-"+uuid.NewString())
	out, err := os.Create(tmp)
	if err != nil {
		return nil, err
	}
	cleanup := func() {
		out.Close()
		os.Remove(tmp)
	}

	w := bufio.NewWriter(out)
	written, err := c.writeTag(w, in, tagSize)
	if err != nil {
		cleanup()
		return nil, err
	}

	if _, err := in.Seek(tagSize, io.SeekStart); err != nil {
		cleanup()
		return nil, err
	}

	res, err := copyFrames(w, bufio.NewReader(in), written, target)
	if err != nil {
		cleanup()
		return nil, err
	}
	res.Bytes += written

	if err := w.Flush(); err != nil {
		cleanup()
		return nil, err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return nil, err
	}

	log.Debug().
		Str("src", src).
		Int("percent", percent).
		Int("frames", res.Frames).
		Int64("bytes", res.Bytes).
		Dur("duration", res.Duration).
		Msg("MP3 cut complete")

	return res, nil
}

// copyFrames copies frames while the output stays within target bytes.
func copyFrames(w io.Writer, r io.Reader, written, target int64) (*Result, error) {
	dec := mp3.NewDecoder(r)
	res := &Result{}

	var (
		frame   mp3.Frame
		skipped int
		buf     bytes.Buffer
	)
	for {
		if err := dec.Decode(&frame, &skipped); err != nil {
			if res.Frames > 0 {
				// EOF, or trailing data such as an ID3v1 tag.
				break
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, ErrNotMP3
			}
			return nil, fmt.Errorf("%w: %v", ErrNotMP3, err)
		}

		buf.Reset()
		if _, err := io.Copy(&buf, frame.Reader()); err != nil {
			return nil, err
		}
		size := int64(buf.Len())
		if res.Frames > 0 && written+res.Bytes+size > target {
			break
		}
		if _, err := w.Write(buf.Bytes()); err != nil {
			return nil, err
		}
		res.Bytes += size
		res.Duration += frame.Duration()
		res.Frames++
	}
	return res, nil
}

// writeTag copies the leading ID3v2 tag of in (tagSize bytes) to w. With a
// comment configured the tag is re-encoded with the comment added, and an
// untagged source gets a new tag holding just the comment; a tag the parser
// rejects is copied verbatim.
func (c *Cutter) writeTag(w io.Writer, in io.ReaderAt, tagSize int64) (int64, error) {
	if tagSize == 0 {
		if c.Comment == "" {
			return 0, nil
		}
		tag := id3v2.NewEmptyTag()
		c.stamp(tag)
		return tag.WriteTo(w)
	}
	section := io.NewSectionReader(in, 0, tagSize)

	if c.Comment != "" {
		tag, err := id3v2.ParseReader(section, id3v2.Options{Parse: true})
		if err == nil {
			c.stamp(tag)
			return tag.WriteTo(w)
		}
		log.Debug().Err(err).Msg("ID3v2 tag not parseable, copying verbatim")
		if _, err := section.Seek(0, io.SeekStart); err != nil {
			return 0, err
		}
	}

	return io.Copy(w, section)
}

func (c *Cutter) stamp(tag *id3v2.Tag) {
	tag.AddCommentFrame(id3v2.CommentFrame{
		Encoding:    id3v2.EncodingUTF8,
		Language:    "eng",
		Description: "bandfront",
		Text:        c.Comment,
	})
}

// id3v2Size returns the byte length of a leading ID3v2 tag, or 0.
func id3v2Size(r io.ReaderAt) (int64, error) {
	header := make([]byte, 10)
	n, err := r.ReadAt(header, 0)
	if n < len(header) {
		if err == nil || errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, err
	}
	if string(header[:3]) != "ID3" {
		return 0, nil
	}
	size := int64(header[6]&0x7f)<<21 | int64(header[7]&0x7f)<<14 |
		int64(header[8]&0x7f)<<7 | int64(header[9]&0x7f)
	size += 10
	if header[5]&0x10 != 0 { // footer present
		size += 10
	}
	return size, nil
}

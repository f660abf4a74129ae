package audio_test

import (
	"testing"

	"github.com/edumarques81/bandfront-demo-service/internal/audio"
)

func TestSniffMIME(t *testing.T) {
	t.Run("html error page sniffs as text", func(t *testing.T) {
		path := writeFile(t, "demo.mp3", []byte("<!DOCTYPE html><html><body>502 Bad Gateway</body></html>"))
		mime, err := audio.SniffMIME(path)
		if err != nil {
			t.Fatalf("SniffMIME failed: %v", err)
		}
		if !audio.IsTextMIME(mime) {
			t.Errorf("mime = %q, want text/*", mime)
		}
	})

	t.Run("charset parameter stripped", func(t *testing.T) {
		path := writeFile(t, "demo.mp3", []byte("plain words only"))
		mime, err := audio.SniffMIME(path)
		if err != nil {
			t.Fatalf("SniffMIME failed: %v", err)
		}
		if mime != "text/plain" {
			t.Errorf("mime = %q, want text/plain", mime)
		}
	})

	t.Run("mp3 frames are not text", func(t *testing.T) {
		path := writeFile(t, "demo.mp3", append(mp3Frame(), mp3Frame()...))
		mime, err := audio.SniffMIME(path)
		if err != nil {
			t.Fatalf("SniffMIME failed: %v", err)
		}
		if audio.IsTextMIME(mime) {
			t.Errorf("mime = %q, should not be text", mime)
		}
	})
}

func TestContentType(t *testing.T) {
	t.Run("unknown binary falls back to audio/mpeg", func(t *testing.T) {
		path := writeFile(t, "blob", []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05})
		if got := audio.ContentType(path); got != audio.DefaultContentType {
			t.Errorf("ContentType = %q, want %q", got, audio.DefaultContentType)
		}
	})

	t.Run("missing file falls back to audio/mpeg", func(t *testing.T) {
		if got := audio.ContentType("/nonexistent/file.mp3"); got != audio.DefaultContentType {
			t.Errorf("ContentType = %q, want %q", got, audio.DefaultContentType)
		}
	})
}

func TestKindFromMIME(t *testing.T) {
	tests := []struct {
		mime string
		want audio.Kind
		ok   bool
	}{
		{"audio/mpeg", audio.KindMP3, true},
		{"audio/wav", audio.KindWAV, true},
		{"audio/ogg", audio.KindOGG, true},
		{"audio/x-m4a", audio.KindMP4, true},
		{"text/html", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			got, ok := audio.KindFromMIME(tt.mime)
			if got != tt.want || ok != tt.ok {
				t.Errorf("KindFromMIME(%q) = (%q, %v), want (%q, %v)", tt.mime, got, ok, tt.want, tt.ok)
			}
		})
	}
}

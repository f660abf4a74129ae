package audio_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/edumarques81/bandfront-demo-service/internal/audio"
)

// mp3Frame is a silent MPEG-1 Layer III frame: 128 kbps, 44.1 kHz, 417 bytes.
func mp3Frame() []byte {
	frame := make([]byte, 417)
	copy(frame, []byte{0xFF, 0xFB, 0x90, 0x00})
	return frame
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestKindFromExtension(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   audio.Kind
		wantOK bool
	}{
		{"mp3", "song.mp3", audio.KindMP3, true},
		{"upper case", "SONG.MP3", audio.KindMP3, true},
		{"ogg", "song.ogg", audio.KindOGG, true},
		{"oga", "song.oga", audio.KindOGA, true},
		{"wav", "song.wav", audio.KindWAV, true},
		{"wma", "song.wma", audio.KindWMA, true},
		{"mp4", "song.mp4", audio.KindMP4, true},
		{"m4a maps to mp4", "song.m4a", audio.KindMP4, true},
		{"m3u is hls", "list.m3u", audio.KindHLS, true},
		{"m3u8 is hls", "list.m3u8", audio.KindHLS, true},
		{"flac unsupported", "song.flac", "", false},
		{"no extension", "song", "", false},
		{"extension not at end", "song.mp3.txt", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := audio.KindFromExtension(tt.input)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("KindFromExtension(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestClassify_URLIgnoresQuery(t *testing.T) {
	c := audio.NewClassifier(false)

	kind, ok := c.Classify("https://shop.example.com/files/track.mp3?token=abc#t=10", "")
	if !ok || kind != audio.KindMP3 {
		t.Errorf("Classify = (%q, %v), want (mp3, true)", kind, ok)
	}
}

func TestClassify_DefaultExtensionFlag(t *testing.T) {
	source := "https://cdn.example.com/stream?id=42"

	t.Run("flag enabled classifies as mp3", func(t *testing.T) {
		kind, ok := audio.NewClassifier(true).Classify(source, "")
		if !ok || kind != audio.KindMP3 {
			t.Errorf("Classify = (%q, %v), want (mp3, true)", kind, ok)
		}
	})

	t.Run("flag disabled excludes source", func(t *testing.T) {
		kind, ok := audio.NewClassifier(false).Classify(source, "")
		if ok {
			t.Errorf("Classify = (%q, %v), want unsupported", kind, ok)
		}
	})
}

func TestClassify_CloudDriveUsesDisplayName(t *testing.T) {
	c := audio.NewClassifier(false)
	source := "https://drive.google.com/uc?export=download&id=1AbC"

	kind, ok := c.Classify(source, "Track 01.ogg")
	if !ok || kind != audio.KindOGG {
		t.Errorf("Classify = (%q, %v), want (ogg, true)", kind, ok)
	}

	if _, ok := c.Classify(source, "cover.jpg"); ok {
		t.Error("cloud source with non-audio name should be unsupported")
	}
}

func TestClassify_SniffsLocalFileWithoutExtension(t *testing.T) {
	data := append([]byte{}, mp3Frame()...)
	data = append(data, mp3Frame()...)
	path := writeFile(t, "upload-1234", data)

	kind, ok := audio.NewClassifier(false).Classify(path, "")
	if !ok || kind != audio.KindMP3 {
		t.Errorf("Classify = (%q, %v), want (mp3, true)", kind, ok)
	}
}

func TestClassify_LocalTextFileIsNotAudio(t *testing.T) {
	path := writeFile(t, "readme", []byte("just some text\n"))

	if kind, ok := audio.NewClassifier(false).Classify(path, ""); ok {
		t.Errorf("Classify = (%q, %v), want unsupported", kind, ok)
	}
}

func TestIsPlaylist(t *testing.T) {
	if !audio.IsPlaylist("https://radio.example.com/live.m3u8?x=1") {
		t.Error("m3u8 URL should be a playlist")
	}
	if audio.IsPlaylist("https://radio.example.com/live.mp3") {
		t.Error("mp3 URL should not be a playlist")
	}
}

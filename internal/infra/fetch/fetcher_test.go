package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFetch_Remote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != DefaultUserAgent {
			t.Errorf("User-Agent = %q, want %q", r.Header.Get("User-Agent"), DefaultUserAgent)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3-audio-bytes"))
	}))
	defer server.Close()

	dst := filepath.Join(t.TempDir(), "bfp", "o_abc.mp3")
	n, err := NewFetcher().Fetch(context.Background(), server.URL+"/song.mp3", dst)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if n != int64(len("ID3-audio-bytes")) {
		t.Errorf("Fetch() = %d bytes", n)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "ID3-audio-bytes" {
		t.Errorf("content = %q", data)
	}
}

func TestFetch_CustomClientAndUserAgent(t *testing.T) {
	var gotUA string
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("audio"))
	}))
	defer server.Close()

	// The TLS test server is only trusted by its own client.
	f := NewFetcher(WithHTTPClient(server.Client()), WithUserAgent("Bandfront/test"))
	dst := filepath.Join(t.TempDir(), "o_tls.mp3")
	if _, err := f.Fetch(context.Background(), server.URL+"/song.mp3", dst); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if gotUA != "Bandfront/test" {
		t.Errorf("User-Agent = %q, want Bandfront/test", gotUA)
	}
}

func TestFetch_RemoteFailureLeavesNothing(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"server error", http.StatusInternalServerError},
		{"not found", http.StatusNotFound},
		{"forbidden", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte("<html>error</html>"))
			}))
			defer server.Close()

			dir := t.TempDir()
			dst := filepath.Join(dir, "o_abc.mp3")
			_, err := NewFetcher().Fetch(context.Background(), server.URL+"/song.mp3", dst)
			if !errors.Is(err, ErrSourceUnreachable) {
				t.Fatalf("Fetch() error = %v, want ErrSourceUnreachable", err)
			}
			entries, _ := os.ReadDir(dir)
			if len(entries) != 0 {
				t.Errorf("directory holds %d entries after failed fetch", len(entries))
			}
		})
	}
}

func TestFetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	f := NewFetcher(WithTimeout(50 * time.Millisecond))
	_, err := f.Fetch(context.Background(), server.URL+"/slow.mp3", filepath.Join(t.TempDir(), "x.mp3"))
	if !errors.Is(err, ErrSourceUnreachable) {
		t.Errorf("Fetch() error = %v, want ErrSourceUnreachable", err)
	}
}

func TestFetch_Unsupported(t *testing.T) {
	_, err := NewFetcher().Fetch(context.Background(), "ftp://example.com/a.mp3", filepath.Join(t.TempDir(), "x.mp3"))
	if !errors.Is(err, ErrUnsupportedSource) {
		t.Errorf("Fetch() error = %v, want ErrUnsupportedSource", err)
	}
}

func TestFetch_LocalUpload(t *testing.T) {
	uploads := t.TempDir()
	src := filepath.Join(uploads, "2024", "05", "song.mp3")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src, []byte("local-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	// A remote fetch of this URL would fail: nothing listens there.
	f := NewFetcher(WithUploads("http://127.0.0.1:1/wp-content/uploads", uploads))
	dst := filepath.Join(t.TempDir(), "o_x.mp3")
	if _, err := f.Fetch(context.Background(), "http://127.0.0.1:1/wp-content/uploads/2024/05/song.mp3?ver=2", dst); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	data, _ := os.ReadFile(dst)
	if string(data) != "local-bytes" {
		t.Errorf("content = %q", data)
	}
}

func TestResolveLocal(t *testing.T) {
	root := t.TempDir()
	uploads := filepath.Join(root, "wp-content", "uploads")
	if err := os.MkdirAll(uploads, 0o755); err != nil {
		t.Fatal(err)
	}
	song := filepath.Join(uploads, "my song.mp3")
	theme := filepath.Join(root, "audio.mp3")
	for _, p := range []string{song, theme} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	f := NewFetcher(
		WithSiteRoot("https://shop.example", root),
		WithUploads("https://shop.example/wp-content/uploads", uploads),
	)

	tests := []struct {
		name   string
		source string
		want   string
		wantOK bool
	}{
		{"file url", "file://" + theme, theme, true},
		{"absolute path", theme, theme, true},
		{"upload url escaped", "https://shop.example/wp-content/uploads/my%20song.mp3", song, true},
		{"site url", "https://shop.example/audio.mp3", theme, true},
		{"missing file", "https://shop.example/missing.mp3", "", false},
		{"traversal", "https://shop.example/wp-content/uploads/../../../etc/passwd", "", false},
		{"other host", "https://cdn.example/audio.mp3", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := f.ResolveLocal(tt.source)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ResolveLocal(%q) = %q, %v, want %q, %v", tt.source, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestResolveLocal_Hook(t *testing.T) {
	local := filepath.Join(t.TempDir(), "mirror.mp3")
	if err := os.WriteFile(local, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := NewFetcher(WithIsLocalHook(func(source, path string, ok bool) (string, bool) {
		if source == "https://cdn.example/song.mp3" {
			return local, true
		}
		return path, ok
	}))

	if got, ok := f.ResolveLocal("https://cdn.example/song.mp3"); !ok || got != local {
		t.Errorf("ResolveLocal() = %q, %v, want %q, true", got, ok, local)
	}
	if _, ok := f.ResolveLocal("https://cdn.example/other.mp3"); ok {
		t.Error("ResolveLocal() = true for a remote source the hook does not map")
	}
}

func TestIsRemote(t *testing.T) {
	tests := map[string]bool{
		"https://example.com/a.mp3": true,
		"http://example.com/a.mp3":  true,
		"/var/www/a.mp3":            false,
		"file:///a.mp3":             false,
		"https://":                  false,
	}
	for source, want := range tests {
		if got := IsRemote(source); got != want {
			t.Errorf("IsRemote(%q) = %v, want %v", source, got, want)
		}
	}
}

package httpapi

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/bandfront-demo-service/internal/audio"
	"github.com/edumarques81/bandfront-demo-service/internal/domain/demo"
)

// Query parameter prefixes of the play endpoint. wcmp- links predate the
// rename and are still embedded in old pages.
var playParamPrefixes = []string{"bfp-", "wcmp-"}

const notFoundPage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Not Found</title></head>
<body>
<h1>Not Found</h1>
<p>The requested audio file could not be served. The most common causes are:</p>
<ul>
<li>The server ran out of memory while generating the demo file.</li>
<li>Generating the demo file exceeded the maximum execution time.</li>
<li>The server has no permission to write to the uploads directory.</li>
</ul>
</body>
</html>
`

func writeNotFoundPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusNotFound)
	io.WriteString(w, notFoundPage)
}

func playParam(q url.Values, name string) string {
	for _, prefix := range playParamPrefixes {
		if v := q.Get(prefix + name); v != "" {
			return v
		}
	}
	return ""
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if playParam(q, "action") != "play" {
		writeNotFoundPage(w, r)
		return
	}
	productID, err := strconv.ParseInt(playParam(q, "product"), 10, 64)
	if err != nil || productID <= 0 {
		writeNotFoundPage(w, r)
		return
	}

	d, err := s.demos.Play(r.Context(), demo.PlayRequest{
		ProductID: productID,
		FileIndex: playParam(q, "file"),
		Email:     s.requester(r),
	})
	if err != nil {
		if !errors.Is(err, demo.ErrNotFound) {
			log.Warn().Err(err).Int64("product", productID).Msg("Play failed")
		}
		writeNotFoundPage(w, r)
		return
	}

	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	if d.Redirect {
		http.Redirect(w, r, d.URL, http.StatusFound)
		return
	}
	serveAudio(w, r, d.Path, d.FileName)
}

// handleDemoFile serves direct demo URLs. Directories, dotfiles and staging
// copies are never served.
func (s *Server) handleDemoFile(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(path.Clean("/"+chi.URLParam(r, "*")), "/")
	for _, seg := range strings.Split(rel, "/") {
		if !demo.Servable(seg) {
			writeNotFoundPage(w, r)
			return
		}
	}
	p := filepath.Join(s.demoDir, filepath.FromSlash(rel))
	serveAudio(w, r, p, filepath.Base(p))
}

// serveAudio streams an audio file. WAV files are copied whole without
// range support; everything else supports range requests.
func serveAudio(w http.ResponseWriter, r *http.Request, filePath, name string) {
	f, err := os.Open(filePath)
	if err != nil {
		writeNotFoundPage(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeNotFoundPage(w, r)
		return
	}

	w.Header().Set("Content-Type", audio.ContentType(filePath))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": name}))

	if strings.EqualFold(filepath.Ext(filePath), ".wav") {
		w.Header().Set("Accept-Ranges", "none")
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			if _, err := io.Copy(w, f); err != nil {
				log.Debug().Err(err).Str("path", filePath).Msg("Audio stream interrupted")
			}
		}
		return
	}

	http.ServeContent(w, r, name, info.ModTime(), f)
}

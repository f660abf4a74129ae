// Package demo generates, caches and serves demo versions of product audio.
package demo

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/edumarques81/bandfront-demo-service/internal/audio"
)

const (
	cacheDirName     = "bfp"
	purchasedDirName = "purchased"
	stagingPrefix    = "o_"
	htaccessName     = ".htaccess"
	htaccessBody     = "Options -Indexes\n"
)

// DemoFileName is md5(source) plus the audio extension of the source path,
// or ".mp3" when the source has none.
func DemoFileName(source string) string {
	sum := md5.Sum([]byte(source))
	return hex.EncodeToString(sum[:]) + "." + demoExtension(source)
}

func demoExtension(source string) string {
	p := source
	if u, err := url.Parse(source); err == nil && u.Path != "" {
		p = u.Path
	}
	if kind, ok := audio.KindFromExtension(p); ok && kind != audio.KindHLS {
		return string(kind)
	}
	return string(audio.KindMP3)
}

// Layout maps sources onto cache paths under {uploadDir}/bfp and onto the
// public URLs those paths are served at.
type Layout struct {
	uploadDir string
	publicURL string
}

// NewLayout creates a layout rooted at uploadDir, which is published at
// publicURL.
func NewLayout(uploadDir, publicURL string) *Layout {
	return &Layout{
		uploadDir: filepath.Clean(uploadDir),
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}
}

// Dir is the anonymous demo directory.
func (l *Layout) Dir() string {
	return filepath.Join(l.uploadDir, cacheDirName)
}

// PurchasedDir holds purchaser-specific files.
func (l *Layout) PurchasedDir() string {
	return filepath.Join(l.Dir(), purchasedDirName)
}

// Path is the cache path of source for purchaser, or the anonymous demo
// path when purchaser is empty.
func (l *Layout) Path(source, purchaser string) string {
	name := DemoFileName(source)
	if purchaser == "" {
		return filepath.Join(l.Dir(), name)
	}
	return filepath.Join(l.PurchasedDir(), purchaser+"_"+name)
}

// StagingPath is where the full source is fetched before it becomes path.
func (l *Layout) StagingPath(path string) string {
	dir, name := filepath.Split(path)
	return filepath.Join(dir, stagingPrefix+name)
}

// Servable reports whether a cache file name may be served directly.
// Dotfiles and staging copies are not.
func Servable(name string) bool {
	return name != "" && !strings.HasPrefix(name, ".") && !strings.HasPrefix(name, stagingPrefix)
}

// URL is the public URL of a cache path.
func (l *Layout) URL(path string) string {
	rel, err := filepath.Rel(l.uploadDir, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	return l.publicURL + "/" + filepath.ToSlash(rel)
}

// Ensure creates both cache directories, each with an .htaccess that
// disables directory listings.
func (l *Layout) Ensure() error {
	for _, dir := range []string{l.Dir(), l.PurchasedDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
		htaccess := filepath.Join(dir, htaccessName)
		if _, err := os.Stat(htaccess); errors.Is(err, os.ErrNotExist) {
			if err := os.WriteFile(htaccess, []byte(htaccessBody), 0o644); err != nil {
				return fmt.Errorf("seed %s: %w", htaccess, err)
			}
		}
	}
	return nil
}

// clear removes every cached file, keeping the directories and their
// .htaccess files. It returns the number of files removed.
func (l *Layout) clear() (int, error) {
	removed := 0
	var errs []error
	for _, dir := range []string{l.PurchasedDir(), l.Dir()} {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, e := range entries {
			if e.IsDir() || e.Name() == htaccessName {
				continue
			}
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
				continue
			}
			removed++
		}
	}
	return removed, errors.Join(errs...)
}

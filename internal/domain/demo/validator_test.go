package demo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, data []byte) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, data, 0o644))
		return p
	}

	v := NewValidator(nil, 8, time.Minute)

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"missing", filepath.Join(dir, "missing.mp3"), false},
		{"empty", write("empty.mp3", nil), false},
		{"text", write("text.mp3", []byte("File not found.\n")), false},
		{"html", write("html.mp3", []byte("<html><head></head><body>nope</body></html>")), false},
		{"mp3", write("ok.mp3", mp3Bytes(3)), true},
		{"binary noise", write("noise.mp3", []byte{0x00, 0x01, 0xFE, 0x7F, 0x00, 0x10}), true},
		{"directory", dir, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.Valid(tt.path))
		})
	}
}

func TestValidator_LedgerSize(t *testing.T) {
	f := newFixture(t)
	v := NewValidator(f.ledger, 8, time.Minute)

	path := filepath.Join(t.TempDir(), "demo.mp3")
	require.NoError(t, os.WriteFile(path, mp3Bytes(4), 0o644))
	require.NoError(t, f.ledger.Put(&Record{Path: path, SourceURL: "s", ProductID: 1, Size: 4 * frameSize}))
	assert.True(t, v.Valid(path))

	require.NoError(t, f.ledger.Put(&Record{Path: path, SourceURL: "s", ProductID: 1, Size: 2 * frameSize}))
	// The memoised verdict still holds for an unchanged file.
	assert.True(t, v.Valid(path))
	v.Forget(path)
	assert.False(t, v.Valid(path))
}

func TestValidator_MemoFollowsFileChanges(t *testing.T) {
	v := NewValidator(nil, 8, time.Minute)
	path := filepath.Join(t.TempDir(), "demo.mp3")

	require.NoError(t, os.WriteFile(path, mp3Bytes(2), 0o644))
	assert.True(t, v.Valid(path))

	// Different size invalidates the memo even without Forget.
	require.NoError(t, os.WriteFile(path, []byte("<html>oops</html> and some more text"), 0o644))
	assert.False(t, v.Valid(path))

	v.Reset()
	require.NoError(t, os.WriteFile(path, mp3Bytes(2), 0o644))
	assert.True(t, v.Valid(path))
}

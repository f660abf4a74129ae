package mp3cut

import (
	"fmt"
	"os"
)

// RawTruncate shrinks path in place to size*percent/100 bytes and returns
// the new size. It does not respect frame boundaries.
func RawTruncate(path string, percent int) (int64, error) {
	if percent <= 0 || percent > 100 {
		return 0, fmt.Errorf("mp3cut: percent out of range: %d", percent)
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	size := info.Size() * int64(percent) / 100
	if err := os.Truncate(path, size); err != nil {
		return 0, err
	}
	return size, nil
}

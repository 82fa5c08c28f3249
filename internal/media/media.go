// Package media resolves metadata for user-selected source clips.
package media

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
)

// ErrNoDuration is returned when the probe succeeds but reports no usable duration.
var ErrNoDuration = errors.New("media has no duration")

// Extractor yields the duration of a clip in whole seconds.
type Extractor interface {
	Duration(ctx context.Context, path string) (int, error)
}

// SupportedExtensions lists the containers the conversion service accepts.
var SupportedExtensions = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
	".gif":  true,
}

// IsSupported reports whether filename carries an accepted extension.
func IsSupported(filename string) bool {
	return SupportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Package imgext centralizes the supported-image-extension and
// hidden-file rules shared by the Reference Store and the Snapshot Engine,
// so the two components can never drift apart on what counts as a photo.
package imgext

import (
	"path/filepath"
	"strings"
)

var supported = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// IsSupported reports whether name has a recognized image extension,
// case-insensitively.
func IsSupported(name string) bool {
	return supported[strings.ToLower(filepath.Ext(name))]
}

// IsHidden reports whether name is a system-hidden file the scanners must
// exclude: dotfiles, and the Windows/macOS housekeeping files explicitly
// called out explicitly.
func IsHidden(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	switch name {
	case "Thumbs.db", "desktop.ini":
		return true
	}
	return false
}

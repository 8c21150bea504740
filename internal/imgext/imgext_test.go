package imgext

import "testing"

func TestIsSupported(t *testing.T) {
	cases := map[string]bool{
		"photo.jpg":  true,
		"photo.JPEG": true,
		"photo.png":  true,
		"photo.webp": true,
		"notes.txt":  false,
		"noext":      false,
	}
	for name, want := range cases {
		if got := IsSupported(name); got != want {
			t.Errorf("IsSupported(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestIsHidden(t *testing.T) {
	cases := map[string]bool{
		".DS_Store":   true,
		".hidden.jpg": true,
		"Thumbs.db":   true,
		"desktop.ini": true,
		"photo.jpg":   false,
	}
	for name, want := range cases {
		if got := IsHidden(name); got != want {
			t.Errorf("IsHidden(%q) = %v, want %v", name, got, want)
		}
	}
}

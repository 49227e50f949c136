// Package clipboard copies candidate SQL to the system clipboard.
package clipboard

import (
	"errors"
	"strings"

	cb "github.com/atotto/clipboard"
)

var ErrUnsupported = errors.New("no clipboard utility found (install xclip, xsel or wl-clipboard)")

// Available reports whether a clipboard backend was found.
func Available() bool {
	return !cb.Unsupported
}

func Read() (string, error) {
	if cb.Unsupported {
		return "", ErrUnsupported
	}
	return cb.ReadAll()
}

// Copy writes text, with surrounding whitespace trimmed.
func Copy(text string) error {
	if cb.Unsupported {
		return ErrUnsupported
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("nothing to copy")
	}
	return cb.WriteAll(text)
}

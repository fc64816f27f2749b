package compose

import (
	"fmt"
	"strings"
)

// Mode selects the composition strategy.
type Mode int

const (
	// ModePanorama aligns and blends overlapping frames.
	ModePanorama Mode = iota
	// ModeMosaic tiles frames into a square grid.
	ModeMosaic
)

// Modes lists every supported mode.
func Modes() []Mode {
	return []Mode{ModePanorama, ModeMosaic}
}

// String returns the lowercase mode name.
func (m Mode) String() string {
	switch m {
	case ModePanorama:
		return "panorama"
	case ModeMosaic:
		return "mosaic"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts "panorama" or "mosaic" (case-insensitive, with an
// optional " mode" suffix).
func ParseMode(s string) (Mode, error) {
	name := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), " mode")
	switch name {
	case "panorama", "pano":
		return ModePanorama, nil
	case "mosaic", "grid":
		return ModeMosaic, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

package vision

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/Proton-105/protrader-agent/pkg/config"
)

// DefaultsFromConfig overlays the vision section on DefaultDefaults.
// Zero values keep the stock tuning.
func DefaultsFromConfig(cfg config.VisionConfig) (Defaults, error) {
	d := DefaultDefaults()

	if cfg.DefaultThreshold > 0 {
		d.Threshold = cfg.DefaultThreshold
	}
	if cfg.AlphaThreshold > 0 {
		d.AlphaThreshold = cfg.AlphaThreshold
	}
	if cfg.NMSThreshold > 0 {
		d.IoU = cfg.NMSThreshold
	}
	if cfg.MaxResults > 0 {
		d.MaxResults = cfg.MaxResults
	}
	if cfg.AlphaMin > 0 {
		d.AlphaMin = uint8(min(cfg.AlphaMin, 255))
	}
	if cfg.AlphaBackground != "" {
		bg, err := ParseHexColor(cfg.AlphaBackground)
		if err != nil {
			return Defaults{}, err
		}
		d.Background = bg
	}

	return d, nil
}

// ParseHexColor parses #RRGGBB into an opaque color.
func ParseHexColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q: want #RRGGBB", s)
	}

	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}

	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

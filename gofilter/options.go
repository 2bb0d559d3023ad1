package gofilter

import (
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xaionaro-go/avtranscode/types"
)

// splitOptions splits "a=1:b='x:y':c=\:" on the unescaped colons,
// removing the quotes and the escapes.
func splitOptions(args string) []string {
	if args == "" {
		return nil
	}
	var (
		result []string
		cur    strings.Builder
		quoted bool
	)
	for i := 0; i < len(args); i++ {
		c := args[i]
		switch {
		case c == '\\' && !quoted && i+1 < len(args):
			i++
			cur.WriteByte(args[i])
		case c == '\'':
			quoted = !quoted
		case c == ':' && !quoted:
			result = append(result, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(result, cur.String())
}

type options map[string]string

// parseOptions parses the arguments of a filter. Positional values are
// assigned to names in order; named values must use one of names.
func parseOptions(args string, names ...string) (options, error) {
	opts := options{}
	for idx, token := range splitOptions(args) {
		key, value, ok := strings.Cut(token, "=")
		if !ok {
			if idx >= len(names) {
				return nil, fmt.Errorf("too many positional options in '%s': %w", args, types.ErrInvalidArgument)
			}
			key, value = names[idx], token
		}
		found := false
		for _, name := range names {
			if name == key {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("option '%s' not found: %w", key, types.ErrInvalidArgument)
		}
		opts[key] = value
	}
	return opts, nil
}

// lookup returns the value of the first set option among the aliases.
func (o options) lookup(aliases ...string) (string, bool) {
	for _, name := range aliases {
		if v, ok := o[name]; ok {
			return v, true
		}
	}
	return "", false
}

func (o options) int(def int, aliases ...string) (int, error) {
	s, ok := o.lookup(aliases...)
	if !ok {
		return def, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid value '%s' of option '%s': %w", s, aliases[0], types.ErrInvalidArgument)
	}
	return v, nil
}

func (o options) float(def float64, aliases ...string) (float64, error) {
	s, ok := o.lookup(aliases...)
	if !ok {
		return def, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value '%s' of option '%s': %w", s, aliases[0], types.ErrInvalidArgument)
	}
	return v, nil
}

// duration returns the value in microseconds, or def if unset.
func (o options) duration(def int64, aliases ...string) (int64, error) {
	s, ok := o.lookup(aliases...)
	if !ok {
		return def, nil
	}
	v, err := parseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value '%s' of option '%s': %w", s, aliases[0], err)
	}
	return v, nil
}

func (o options) list(aliases ...string) []string {
	s, ok := o.lookup(aliases...)
	if !ok || s == "" {
		return nil
	}
	return strings.Split(s, "|")
}

// parseDuration parses "1.5" (seconds), "[-]HH:MM:SS[.frac]" and the
// suffixed forms "1500000us", "1500ms" and "1.5s". It returns microseconds.
func parseDuration(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ":") {
		neg := strings.HasPrefix(s, "-")
		parts := strings.Split(strings.TrimPrefix(s, "-"), ":")
		var seconds float64
		for _, part := range parts {
			v, err := strconv.ParseFloat(part, 64)
			if err != nil || v < 0 {
				return 0, fmt.Errorf("invalid duration '%s': %w", s, types.ErrInvalidArgument)
			}
			seconds = seconds*60 + v
		}
		if neg {
			seconds = -seconds
		}
		return int64(math.Round(seconds * types.TimeBase)), nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(math.Round(v * types.TimeBase)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration '%s': %w", s, types.ErrInvalidArgument)
	}
	return d.Microseconds(), nil
}

// parseSize parses "WxH" or one of the common abbreviations.
func parseSize(s string) (int, int, error) {
	switch s {
	case "qcif":
		return 176, 144, nil
	case "cif":
		return 352, 288, nil
	case "vga":
		return 640, 480, nil
	case "pal":
		return 720, 576, nil
	case "ntsc":
		return 720, 480, nil
	case "hd720":
		return 1280, 720, nil
	case "hd1080":
		return 1920, 1080, nil
	}
	ws, hs, ok := strings.Cut(s, "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size '%s': %w", s, types.ErrInvalidArgument)
	}
	w, errW := strconv.Atoi(ws)
	h, errH := strconv.Atoi(hs)
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("invalid size '%s': %w", s, types.ErrInvalidArgument)
	}
	return w, h, nil
}

var colorNames = map[string]color.RGBA{
	"black":   {A: 255},
	"white":   {R: 255, G: 255, B: 255, A: 255},
	"red":     {R: 255, A: 255},
	"green":   {G: 128, A: 255},
	"lime":    {G: 255, A: 255},
	"blue":    {B: 255, A: 255},
	"yellow":  {R: 255, G: 255, A: 255},
	"cyan":    {G: 255, B: 255, A: 255},
	"magenta": {R: 255, B: 255, A: 255},
	"gray":    {R: 128, G: 128, B: 128, A: 255},
}

// parseColor parses a color name, "0xRRGGBB[AA]" or "#RRGGBB[AA]",
// optionally followed by "@alpha" (0..1).
func parseColor(s string) (color.RGBA, error) {
	s, alpha, hasAlpha := strings.Cut(strings.TrimSpace(s), "@")
	c, ok := colorNames[strings.ToLower(s)]
	if !ok {
		hex := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "#")
		if len(hex) != 6 && len(hex) != 8 {
			return color.RGBA{}, fmt.Errorf("invalid color '%s': %w", s, types.ErrInvalidArgument)
		}
		v, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return color.RGBA{}, fmt.Errorf("invalid color '%s': %w", s, types.ErrInvalidArgument)
		}
		if len(hex) == 6 {
			v = v<<8 | 0xff
		}
		c = color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}
	}
	if hasAlpha {
		a, err := strconv.ParseFloat(alpha, 64)
		if err != nil || a < 0 || a > 1 {
			return color.RGBA{}, fmt.Errorf("invalid alpha '%s': %w", alpha, types.ErrInvalidArgument)
		}
		c.A = uint8(math.Round(a * 255))
	}
	// color.RGBA is alpha-premultiplied
	c.R = uint8(uint32(c.R) * uint32(c.A) / 255)
	c.G = uint8(uint32(c.G) * uint32(c.A) / 255)
	c.B = uint8(uint32(c.B) * uint32(c.A) / 255)
	return c, nil
}

package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/xaionaro-go/avtranscode/types"
	"github.com/xaionaro-go/secret"
	"gopkg.in/yaml.v3"
)

// Duration accepts both the "[-][HH:]MM:SS[.m...]" / "S[.m...]" syntax
// of the command line tools and time.ParseDuration strings ("1m30s").
type Duration time.Duration

func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration: %w", types.ErrInvalidArgument)
	}

	neg := false
	body := s
	if strings.HasPrefix(body, "-") {
		neg = true
		body = body[1:]
	}

	var d time.Duration
	switch {
	case strings.Contains(body, ":"):
		parts := strings.Split(body, ":")
		if len(parts) > 3 {
			return 0, fmt.Errorf("invalid duration %q: too many fields", s)
		}
		secs, err := strconv.ParseFloat(parts[len(parts)-1], 64)
		if err != nil || secs < 0 || secs >= 60 {
			return 0, fmt.Errorf("invalid duration %q: bad seconds", s)
		}
		total := secs
		mult := 60.0
		for i := len(parts) - 2; i >= 0; i-- {
			v, err := strconv.ParseUint(parts[i], 10, 32)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q: %w", s, err)
			}
			if i == len(parts)-2 && len(parts) == 3 && v >= 60 {
				return 0, fmt.Errorf("invalid duration %q: bad minutes", s)
			}
			total += float64(v) * mult
			mult *= 60
		}
		d = time.Duration(math.Round(total * float64(time.Second)))
	default:
		if secs, err := strconv.ParseFloat(body, 64); err == nil {
			d = time.Duration(math.Round(secs * float64(time.Second)))
			break
		}
		var err error
		d, err = time.ParseDuration(body)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
	}
	if neg {
		d = -d
	}
	return Duration(d), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// TimeBaseQ returns the duration in types.TimeBaseQ ticks.
func (d Duration) TimeBaseQ() int64 {
	return types.RescaleQ(time.Duration(d).Microseconds(), types.MicrosecondQ, types.TimeBaseQ)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// OptionalDuration is a Duration that may be absent.
type OptionalDuration struct {
	Duration
	IsSet bool
}

func (d *OptionalDuration) UnmarshalYAML(node *yaml.Node) error {
	if err := d.Duration.UnmarshalYAML(node); err != nil {
		return err
	}
	d.IsSet = true
	return nil
}

// TimeBaseQOr returns the duration in types.TimeBaseQ ticks, or def
// if it is not set.
func (d OptionalDuration) TimeBaseQOr(def int64) int64 {
	if !d.IsSet {
		return def
	}
	return d.Duration.TimeBaseQ()
}

// ByteSize is a size in bytes written the humanized way ("64KiB", "1 MB").
type ByteSize uint64

func (s ByteSize) String() string {
	return humanize.IBytes(uint64(s))
}

func (s ByteSize) MarshalYAML() (any, error) {
	return s.String(), nil
}

func (s *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	v, err := humanize.ParseBytes(node.Value)
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", node.Value, err)
	}
	*s = ByteSize(v)
	return nil
}

// Secret is a string that is never printed, e.g. an input URL with
// credentials in it.
type Secret struct {
	value secret.String
}

func NewSecret(s string) Secret {
	return Secret{value: secret.New(s)}
}

func (s Secret) Get() string {
	return s.value.Get()
}

// SecretString returns the value for the APIs accepting secret.String.
func (s Secret) SecretString() secret.String {
	return s.value
}

func (s Secret) IsEmpty() bool {
	return s.value.Get() == ""
}

func (s Secret) String() string {
	return "<HIDDEN>"
}

func (s Secret) MarshalYAML() (any, error) {
	return s.String(), nil
}

func (s *Secret) UnmarshalYAML(node *yaml.Node) error {
	var v string
	if err := node.Decode(&v); err != nil {
		return err
	}
	*s = NewSecret(v)
	return nil
}

// StreamSpecifier selects streams of the inputs: "FILE[:TYPE][:INDEX]",
// e.g. "0", "0:v", "1:a:0" or "0:2".
type StreamSpecifier struct {
	InputIndex int
	MediaType  types.MediaType
	// Index is the stream index (among the streams of MediaType if it
	// is set); -1 selects every matching stream.
	Index int
}

func ParseStreamSpecifier(s string) (StreamSpecifier, error) {
	spec := StreamSpecifier{MediaType: types.MediaTypeUnknown, Index: -1}
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) > 3 {
		return spec, fmt.Errorf("invalid stream specifier %q", s)
	}
	v, err := strconv.Atoi(parts[0])
	if err != nil || v < 0 {
		return spec, fmt.Errorf("invalid input index in stream specifier %q", s)
	}
	spec.InputIndex = v
	parts = parts[1:]
	if len(parts) > 0 {
		if idx, err := strconv.Atoi(parts[0]); err == nil {
			if len(parts) > 1 {
				return spec, fmt.Errorf("invalid stream specifier %q: an index is the last field", s)
			}
			spec.Index = idx
			return spec, nil
		}
		mt, err := types.ParseMediaType(parts[0])
		if err != nil {
			return spec, fmt.Errorf("invalid stream specifier %q: %w", s, err)
		}
		spec.MediaType = mt
		parts = parts[1:]
	}
	if len(parts) > 0 {
		idx, err := strconv.Atoi(parts[0])
		if err != nil || idx < 0 {
			return spec, fmt.Errorf("invalid stream index in stream specifier %q", s)
		}
		spec.Index = idx
	}
	return spec, nil
}

// Matches reports if the stream number streamIdx of the input, of the
// given media type, is selected. typeIdx is the index of the stream
// among the streams of the same media type.
func (s StreamSpecifier) Matches(inputIdx, streamIdx int, mediaType types.MediaType, typeIdx int) bool {
	if inputIdx != s.InputIndex {
		return false
	}
	if s.MediaType == types.MediaTypeUnknown {
		return s.Index < 0 || s.Index == streamIdx
	}
	if mediaType != s.MediaType {
		return false
	}
	return s.Index < 0 || s.Index == typeIdx
}

func (s StreamSpecifier) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d", s.InputIndex)
	if s.MediaType != types.MediaTypeUnknown {
		fmt.Fprintf(&b, ":%s", s.MediaType.Letter())
	}
	if s.Index >= 0 {
		fmt.Fprintf(&b, ":%d", s.Index)
	}
	return b.String()
}

func (s StreamSpecifier) MarshalYAML() (any, error) {
	return s.String(), nil
}

func (s *StreamSpecifier) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseStreamSpecifier(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

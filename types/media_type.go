// media_type.go defines the MediaType enum and its methods.

package types

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

type MediaType int

const (
	MediaTypeUnknown    = MediaType(-0x1)
	MediaTypeVideo      = MediaType(0x0)
	MediaTypeAudio      = MediaType(0x1)
	MediaTypeData       = MediaType(0x2)
	MediaTypeSubtitle   = MediaType(0x3)
	MediaTypeAttachment = MediaType(0x4)
)

func (t MediaType) String() string {
	switch t {
	case MediaTypeAttachment:
		return "attachment"
	case MediaTypeAudio:
		return "audio"
	case MediaTypeData:
		return "data"
	case MediaTypeSubtitle:
		return "subtitle"
	case MediaTypeVideo:
		return "video"
	case MediaTypeUnknown:
		return "unknown"
	default:
		return "MediaType(" + fmt.Sprintf("%d", int(t)) + ")"
	}
}

// Letter returns the stream specifier letter ("v", "a", ...).
func (t MediaType) Letter() string {
	switch t {
	case MediaTypeVideo:
		return "v"
	case MediaTypeAudio:
		return "a"
	case MediaTypeSubtitle:
		return "s"
	case MediaTypeData:
		return "d"
	case MediaTypeAttachment:
		return "t"
	default:
		return "u"
	}
}

func ParseMediaType(s string) (MediaType, error) {
	switch strings.ToLower(s) {
	case "v", "video":
		return MediaTypeVideo, nil
	case "a", "audio":
		return MediaTypeAudio, nil
	case "s", "subtitle":
		return MediaTypeSubtitle, nil
	case "d", "data":
		return MediaTypeData, nil
	case "t", "attachment":
		return MediaTypeAttachment, nil
	}
	return MediaTypeUnknown, fmt.Errorf("unknown media type '%s'", s)
}

func (t MediaType) MarshalYAML() (any, error) {
	return t.String(), nil
}

func (t *MediaType) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseMediaType(node.Value)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

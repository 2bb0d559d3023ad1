package gofilter

import (
	"sort"

	"github.com/xaionaro-go/avtranscode/types"
)

type filterDef struct {
	// meta filters never touch the frame data.
	meta bool
	new  func(args string) (filterImpl, error)
}

var registry = map[string]filterDef{
	"null":      {meta: true, new: newPassthrough(types.MediaTypeVideo)},
	"anull":     {meta: true, new: newPassthrough(types.MediaTypeAudio)},
	"copy":      {new: newPassthrough(types.MediaTypeVideo)},
	"acopy":     {new: newPassthrough(types.MediaTypeAudio)},
	"split":     {meta: true, new: newSplit(types.MediaTypeVideo)},
	"asplit":    {meta: true, new: newSplit(types.MediaTypeAudio)},
	"setpts":    {meta: true, new: newSetPTS(types.MediaTypeVideo)},
	"asetpts":   {meta: true, new: newSetPTS(types.MediaTypeAudio)},
	"trim":      {meta: true, new: newTrim(types.MediaTypeVideo)},
	"atrim":     {meta: true, new: newTrim(types.MediaTypeAudio)},
	"format":    {new: newPixelFormat},
	"aformat":   {new: newSampleFormat},
	"scale":     {new: newScale},
	"hflip":     {new: newFlip(true)},
	"vflip":     {new: newFlip(false)},
	"transpose": {new: newTranspose},
	"rotate":    {new: newRotate},
	"boxblur":   {new: newBoxBlur},
	"gblur":     {new: newGaussianBlur},
	"eq":        {new: newEq},
	"negate":    {new: newNegate},
	"overlay":   {new: newOverlay},
	"color":     {new: newColorSource},
	"sine":      {new: newSineSource},
	"apad":      {new: newAPad},
}

// FilterNames returns the names of the available filters.
func FilterNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

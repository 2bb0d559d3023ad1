// buffersrc.go provides the buffersrc calls go-astiav does not wrap.

package libav

/*
#cgo pkg-config: libavfilter
#include <libavfilter/buffersrc.h>
*/
import "C"

import (
	"unsafe"

	"github.com/asticode/go-astiav"
)

// cPointer returns the C struct wrapped by an astiav object: every
// astiav wrapper keeps that pointer as its first field.
func cPointer[T any](obj *T) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(obj))
}

// buffersrcClose ends the input of the buffersrc at pts (in the time
// base of the source).
func buffersrcClose(ctx *astiav.BuffersrcFilterContext, pts int64) error {
	fc := (*C.AVFilterContext)(cPointer(ctx.FilterContext()))
	ret := C.av_buffersrc_close(fc, C.int64_t(pts), C.AV_BUFFERSRC_FLAG_PUSH)
	if ret < 0 {
		return astiav.Error(ret)
	}
	return nil
}

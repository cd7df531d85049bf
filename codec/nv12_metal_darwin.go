//go:build darwin

package codec

/*
#cgo LDFLAGS: -framework Metal -framework Foundation
#include <stdlib.h>

void *metalCreateDevice(void);
void *metalCompileNV12Kernel(void *device);
int metalConvertNV12ToRGB24(void *device, void *pipeline, int width, int height, int pitch,
                             const unsigned char *y, const unsigned char *uv, unsigned char *rgbOut);
void metalReleaseDevice(void *device);
void metalReleasePipeline(void *pipeline);
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// metalNV12Converter runs the BT.601 NV12->RGB24 kernel on the default
// Metal device, falling back to CPU (via the adapter's error path) if no
// device is available.
type metalNV12Converter struct {
	device   unsafe.Pointer
	pipeline unsafe.Pointer
}

func newMetalNV12Converter() (*metalNV12Converter, error) {
	device := C.metalCreateDevice()
	if device == nil {
		return nil, fmt.Errorf("metal: no MTLDevice available")
	}
	pipeline := C.metalCompileNV12Kernel(device)
	if pipeline == nil {
		C.metalReleaseDevice(device)
		return nil, fmt.Errorf("metal: failed to compile NV12 conversion kernel")
	}
	return &metalNV12Converter{device: device, pipeline: pipeline}, nil
}

func (m *metalNV12Converter) ConvertNV12ToRGB24(width, height, pitch int, y, uv []byte) ([]byte, error) {
	out := make([]byte, width*height*3)
	rc := C.metalConvertNV12ToRGB24(
		m.device, m.pipeline,
		C.int(width), C.int(height), C.int(pitch),
		(*C.uchar)(unsafe.Pointer(&y[0])),
		(*C.uchar)(unsafe.Pointer(&uv[0])),
		(*C.uchar)(unsafe.Pointer(&out[0])),
	)
	if rc != 0 {
		return nil, fmt.Errorf("metal: kernel dispatch failed: code %d", int(rc))
	}
	return out, nil
}

func (m *metalNV12Converter) Close() {
	if m.pipeline != nil {
		C.metalReleasePipeline(m.pipeline)
		m.pipeline = nil
	}
	if m.device != nil {
		C.metalReleaseDevice(m.device)
		m.device = nil
	}
}

func platformGPUKernelName() string { return "metal" }

// newPlatformGPUConverter is the darwin constructor newBackendTransformAdapter
// callers use when binding to VideoToolbox.
func newPlatformGPUConverter() gpuConverter {
	conv, err := newMetalNV12Converter()
	if err != nil {
		return nil
	}
	return conv
}

//go:build darwin

package codec

/*
#cgo LDFLAGS: -framework VideoToolbox -framework CoreMedia -framework CoreVideo -framework CoreFoundation
#include <VideoToolbox/VideoToolbox.h>
#include <CoreMedia/CoreMedia.h>
#include <CoreVideo/CoreVideo.h>
#include <stdlib.h>

extern void goEncoderOutputCallback(void *refcon, void *sourceRefcon, OSStatus status,
                                     VTEncodeInfoFlags flags, CMSampleBufferRef sampleBuffer);

static void encoderOutputCallbackTrampoline(void *outputCallbackRefCon,
                                             void *sourceFrameRefCon,
                                             OSStatus status,
                                             VTEncodeInfoFlags infoFlags,
                                             CMSampleBufferRef sampleBuffer) {
    goEncoderOutputCallback(outputCallbackRefCon, sourceFrameRefCon, status, infoFlags, sampleBuffer);
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"
)

func init() {
	registerEncodeBackend(VideoToolbox, func() hardwareEncoderDriver { return &videotoolboxEncoder{} })
}

var (
	vtEncoderRegistryMu sync.Mutex
	vtEncoderRegistry   = map[uintptr]*videotoolboxEncoder{}
	vtEncoderNextToken  uintptr
)

func vtEncoderRegister(e *videotoolboxEncoder) unsafe.Pointer {
	vtEncoderRegistryMu.Lock()
	defer vtEncoderRegistryMu.Unlock()
	vtEncoderNextToken++
	token := vtEncoderNextToken
	vtEncoderRegistry[token] = e
	return unsafe.Pointer(token) //nolint:govet
}

func vtEncoderUnregister(token unsafe.Pointer) {
	vtEncoderRegistryMu.Lock()
	defer vtEncoderRegistryMu.Unlock()
	delete(vtEncoderRegistry, uintptr(token))
}

func vtEncoderLookup(token unsafe.Pointer) *videotoolboxEncoder {
	vtEncoderRegistryMu.Lock()
	defer vtEncoderRegistryMu.Unlock()
	return vtEncoderRegistry[uintptr(token)]
}

// pendingOutput is one completed compressed frame waiting to be drained
// by ReadOutput; the callback fires on VideoToolbox's own queue so the
// sample bytes are copied out immediately rather than held across
// threads.
type pendingOutput struct {
	bytes      []byte
	isKeyframe bool
}

//export goEncoderOutputCallback
func goEncoderOutputCallback(refcon unsafe.Pointer, _ unsafe.Pointer, status C.OSStatus, _ C.VTEncodeInfoFlags, sampleBuffer C.CMSampleBufferRef) {
	e := vtEncoderLookup(refcon)
	if e == nil {
		return
	}
	if status != 0 || sampleBuffer == 0 {
		return
	}

	isKey := true
	if attachments := C.CMSampleBufferGetSampleAttachmentsArray(sampleBuffer, 0); attachments != 0 {
		if C.CFArrayGetCount(C.CFArrayRef(attachments)) > 0 {
			dict := C.CFDictionaryRef(C.CFArrayGetValueAtIndex(C.CFArrayRef(attachments), 0))
			if C.CFDictionaryContainsKey(dict, unsafe.Pointer(C.kCMSampleAttachmentKey_NotSync)) != 0 {
				isKey = false
			}
		}
	}

	avcc := extractAVCCFromSampleBuffer(sampleBuffer)

	e.mu.Lock()
	e.pending = append(e.pending, pendingOutput{bytes: avcc, isKeyframe: isKey})
	e.mu.Unlock()
}

// extractAVCCFromSampleBuffer copies the length-prefixed AVCC/HVCC payload
// straight out of the sample buffer's data block, which is already in
// that framing already.
func extractAVCCFromSampleBuffer(sampleBuffer C.CMSampleBufferRef) []byte {
	blockBuf := C.CMSampleBufferGetDataBuffer(sampleBuffer)
	if blockBuf == 0 {
		return nil
	}
	length := C.CMBlockBufferGetDataLength(blockBuf)
	out := make([]byte, int(length))
	if length == 0 {
		return out
	}
	status := C.CMBlockBufferCopyDataBytes(blockBuf, 0, length, unsafe.Pointer(&out[0]))
	if status != 0 {
		return nil
	}
	return out
}

// videotoolboxEncoder implements hardwareEncoderDriver against Apple's
// VideoToolbox asynchronous compression session API.
type videotoolboxEncoder struct {
	mu      sync.Mutex
	codec   Codec
	dims    Dimensions
	session C.VTCompressionSessionRef
	token   unsafe.Pointer
	pending []pendingOutput

	forceNextKey bool
}

func (v *videotoolboxEncoder) QueryCapability(codec Codec) CapabilityReport {
	if codec != H264 && codec != HEVC {
		return CapabilityReport{}
	}
	return CapabilityReport{EncodeSupported: true, HardwareAcceleration: true}
}

func (v *videotoolboxEncoder) CreateSession(codec Codec, dims Dimensions, fps int, _ bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.codec = codec
	v.dims = dims
	v.token = vtEncoderRegister(v)

	encoderSpec := C.CFDictionaryCreateMutable(C.kCFAllocatorDefault, 0, &C.kCFTypeDictionaryKeyCallBacks, &C.kCFTypeDictionaryValueCallBacks)
	defer C.CFRelease(C.CFTypeRef(encoderSpec))
	boolTrue := C.kCFBooleanTrue
	C.CFDictionarySetValue(encoderSpec, unsafe.Pointer(C.kVTVideoEncoderSpecification_EnableHardwareAcceleratedVideoEncoder), unsafe.Pointer(boolTrue))

	var session C.VTCompressionSessionRef
	status := C.VTCompressionSessionCreate(
		C.kCFAllocatorDefault,
		C.int32_t(dims.Width),
		C.int32_t(dims.Height),
		vtCodecType(codec),
		C.CFDictionaryRef(encoderSpec),
		nil,
		nil,
		C.VTCompressionOutputCallback(C.encoderOutputCallbackTrampoline),
		v.token,
		&session,
	)
	if status != 0 {
		vtEncoderUnregister(v.token)
		return fmt.Errorf("VTCompressionSessionCreate: status %d", int(status))
	}
	v.session = session
	_ = fps
	return nil
}

func (v *videotoolboxEncoder) Configure(realTime bool, expectedFrameRate int, maxKeyframeInterval int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session == 0 {
		return fmt.Errorf("videotoolbox: compression session not created")
	}

	setBoolProp(v.session, C.kVTCompressionPropertyKey_RealTime, realTime)
	setIntProp(v.session, C.kVTCompressionPropertyKey_ExpectedFrameRate, expectedFrameRate)
	setIntProp(v.session, C.kVTCompressionPropertyKey_MaxKeyFrameInterval, maxKeyframeInterval)
	setBoolProp(v.session, C.kVTCompressionPropertyKey_AllowFrameReordering, false)
	return nil
}

func setBoolProp(session C.VTCompressionSessionRef, key C.CFStringRef, v bool) {
	val := C.kCFBooleanFalse
	if v {
		val = C.kCFBooleanTrue
	}
	C.VTSessionSetProperty(C.VTSessionRef(session), key, C.CFTypeRef(val))
}

func setIntProp(session C.VTCompressionSessionRef, key C.CFStringRef, v int) {
	cv := C.int32_t(v)
	num := C.CFNumberCreate(C.kCFAllocatorDefault, C.kCFNumberSInt32Type, unsafe.Pointer(&cv))
	defer C.CFRelease(C.CFTypeRef(num))
	C.VTSessionSetProperty(C.VTSessionRef(session), key, C.CFTypeRef(num))
}

func (v *videotoolboxEncoder) SubmitFrame(argb []byte, pts Timestamp90k, forceKeyframe bool) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session == 0 {
		return false, fmt.Errorf("videotoolbox: compression session not created")
	}

	pixelBuffer, err := v.newPixelBufferFromARGB(argb)
	if err != nil {
		return false, err
	}
	defer C.CVPixelBufferRelease(pixelBuffer)

	if v.forceNextKey {
		forceKeyframe = true
		v.forceNextKey = false
	}

	frameProps := C.CFDictionaryRef(0)
	if forceKeyframe {
		d := C.CFDictionaryCreateMutable(C.kCFAllocatorDefault, 0, &C.kCFTypeDictionaryKeyCallBacks, &C.kCFTypeDictionaryValueCallBacks)
		C.CFDictionarySetValue(d, unsafe.Pointer(C.kVTEncodeFrameOptionKey_ForceKeyFrame), unsafe.Pointer(C.kCFBooleanTrue))
		frameProps = C.CFDictionaryRef(d)
		defer C.CFRelease(C.CFTypeRef(d))
	}

	before := len(v.pending)
	status := C.VTCompressionSessionEncodeFrame(
		v.session,
		pixelBuffer,
		C.CMTimeMake(C.int64_t(pts), 90000),
		C.kCMTimeInvalid,
		frameProps,
		nil,
		nil,
	)
	if status != 0 {
		return false, fmt.Errorf("VTCompressionSessionEncodeFrame: status %d", int(status))
	}
	return len(v.pending) > before, nil
}

func (v *videotoolboxEncoder) newPixelBufferFromARGB(argb []byte) (C.CVPixelBufferRef, error) {
	var pixelBuffer C.CVPixelBufferRef
	status := C.CVPixelBufferCreate(
		C.kCFAllocatorDefault,
		C.size_t(v.dims.Width),
		C.size_t(v.dims.Height),
		C.kCVPixelFormatType_32BGRA,
		nil,
		&pixelBuffer,
	)
	if status != 0 {
		return 0, fmt.Errorf("CVPixelBufferCreate: status %d", int(status))
	}

	C.CVPixelBufferLockBaseAddress(pixelBuffer, 0)
	defer C.CVPixelBufferUnlockBaseAddress(pixelBuffer, 0)

	base := C.CVPixelBufferGetBaseAddress(pixelBuffer)
	bytesPerRow := int(C.CVPixelBufferGetBytesPerRow(pixelBuffer))
	rowBytes := v.dims.Width * 4
	dst := unsafe.Slice((*byte)(base), bytesPerRow*v.dims.Height)
	for row := 0; row < v.dims.Height; row++ {
		srcOff := row * rowBytes
		dstOff := row * bytesPerRow
		copy(dst[dstOff:dstOff+rowBytes], argb[srcOff:srcOff+rowBytes])
	}
	return pixelBuffer, nil
}

func (v *videotoolboxEncoder) ReadOutput() ([]byte, bool, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.pending) == 0 {
		return nil, false, false, nil
	}
	out := v.pending[0]
	v.pending = v.pending[1:]
	return out.bytes, out.isKeyframe, true, nil
}

func (v *videotoolboxEncoder) SignalEndOfStream() (bool, error) {
	v.mu.Lock()
	session := v.session
	before := len(v.pending)
	v.mu.Unlock()
	if session == 0 {
		return false, nil
	}
	status := C.VTCompressionSessionCompleteFrames(session, C.kCMTimeInvalid)
	if status != 0 {
		return false, fmt.Errorf("VTCompressionSessionCompleteFrames: status %d", int(status))
	}
	v.mu.Lock()
	produced := len(v.pending) > before
	v.mu.Unlock()
	return produced, nil
}

func (v *videotoolboxEncoder) RequestSessionSwitch(req SessionSwitchRequest) error {
	if req.VideoToolbox == nil {
		return unsupportedConfig("encoder.request_session_switch", "videotoolbox requires a VideoToolboxSessionSwitch payload")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session == 0 {
		return fmt.Errorf("videotoolbox: compression session not created")
	}
	if req.VideoToolbox.ForceKeyframeOnActivate {
		v.forceNextKey = true
	}
	return nil
}

func (v *videotoolboxEncoder) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session != 0 {
		C.VTCompressionSessionInvalidate(v.session)
		C.CFRelease(C.CFTypeRef(v.session))
		v.session = 0
	}
	if v.token != nil {
		vtEncoderUnregister(v.token)
		v.token = nil
	}
	return nil
}

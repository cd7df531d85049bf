//go:build darwin

package codec

/*
#cgo LDFLAGS: -framework VideoToolbox -framework CoreMedia -framework CoreVideo -framework CoreFoundation
#include <VideoToolbox/VideoToolbox.h>
#include <CoreMedia/CoreMedia.h>
#include <CoreVideo/CoreVideo.h>
#include <stdlib.h>

extern void goDecoderOutputCallback(void *refcon, void *sourceRefcon, OSStatus status,
                                     VTDecodeInfoFlags flags, CVImageBufferRef imageBuffer,
                                     CMTime pts, CMTime duration);

static void decoderOutputCallbackTrampoline(void *decompressionOutputRefCon,
                                             void *sourceFrameRefCon,
                                             OSStatus status,
                                             VTDecodeInfoFlags infoFlags,
                                             CVImageBufferRef imageBuffer,
                                             CMTime presentationTimeStamp,
                                             CMTime presentationDuration) {
    goDecoderOutputCallback(decompressionOutputRefCon, sourceFrameRefCon, status, infoFlags,
                             imageBuffer, presentationTimeStamp, presentationDuration);
}

static VTDecompressionOutputCallbackRecord makeDecoderCallbackRecord(void *refcon) {
    VTDecompressionOutputCallbackRecord rec;
    rec.decompressionOutputCallback = decoderOutputCallbackTrampoline;
    rec.decompressionOutputRefCon = refcon;
    return rec;
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"
)

func init() {
	registerDecodeBackend(VideoToolbox, func() hardwareDecoderDriver { return &videotoolboxDecoder{} })
}

// vtDecoderRegistry maps an opaque refcon token to the live decoder
// instance so the cgo trampoline (which only carries a void* refcon) can
// reach back into Go state without passing a Go pointer across the cgo
// boundary, per Go's cgo pointer-passing rules.
var (
	vtDecoderRegistryMu sync.Mutex
	vtDecoderRegistry   = map[uintptr]*videotoolboxDecoder{}
	vtDecoderNextToken  uintptr
)

func vtDecoderRegister(d *videotoolboxDecoder) unsafe.Pointer {
	vtDecoderRegistryMu.Lock()
	defer vtDecoderRegistryMu.Unlock()
	vtDecoderNextToken++
	token := vtDecoderNextToken
	vtDecoderRegistry[token] = d
	return unsafe.Pointer(token) //nolint:govet // token, not a real pointer; never dereferenced on the Go side.
}

func vtDecoderUnregister(token unsafe.Pointer) {
	vtDecoderRegistryMu.Lock()
	defer vtDecoderRegistryMu.Unlock()
	delete(vtDecoderRegistry, uintptr(token))
}

func vtDecoderLookup(token unsafe.Pointer) *videotoolboxDecoder {
	vtDecoderRegistryMu.Lock()
	defer vtDecoderRegistryMu.Unlock()
	return vtDecoderRegistry[uintptr(token)]
}

//export goDecoderOutputCallback
func goDecoderOutputCallback(refcon unsafe.Pointer, _ unsafe.Pointer, status C.OSStatus, _ C.VTDecodeInfoFlags, imageBuffer C.CVImageBufferRef, _ C.CMTime, _ C.CMTime) {
	d := vtDecoderLookup(refcon)
	if d == nil || d.state == nil {
		return
	}
	if status != 0 || imageBuffer == 0 {
		return
	}

	width := int(C.CVPixelBufferGetWidth(imageBuffer))
	height := int(C.CVPixelBufferGetHeight(imageBuffer))
	fourcc := C.CVPixelBufferGetPixelFormatType(imageBuffer)
	pf := PixelFormatUnknown
	if fourcc == C.kCVPixelFormatType_420YpCbCr8BiPlanarVideoRange || fourcc == C.kCVPixelFormatType_420YpCbCr8BiPlanarFullRange {
		pf = PixelFormatNV12
	}
	d.state.onFrame(Dimensions{Width: width, Height: height}, pf, ColorMetadata{})
}

// videotoolboxDecoder implements hardwareDecoderDriver against Apple's
// VideoToolbox asynchronous decompression session API.
type videotoolboxDecoder struct {
	mu      sync.Mutex
	codec   Codec
	session C.VTDecompressionSessionRef
	formatD C.CMVideoFormatDescriptionRef
	token   unsafe.Pointer
	state   *decoderOutputState
}

func (v *videotoolboxDecoder) QueryCapability(codec Codec) CapabilityReport {
	if codec != H264 && codec != HEVC {
		return CapabilityReport{}
	}
	return CapabilityReport{DecodeSupported: true, HardwareAcceleration: true}
}

func vtCodecType(c Codec) C.CMVideoCodecType {
	if c == HEVC {
		return C.kCMVideoCodecType_HEVC
	}
	return C.kCMVideoCodecType_H264
}

// buildParameterSetPointers stages each parameter set NAL (SPS/PPS or
// VPS/SPS/PPS) into C memory as required by
// CMVideoFormatDescriptionCreateFromH264ParameterSets /
// ...HEVCParameterSets, which the caller must keep alive for the
// duration of the call.
func buildParameterSetPointers(sets [][]byte) (ptrs []unsafe.Pointer, sizes []C.size_t, free func()) {
	ptrs = make([]unsafe.Pointer, len(sets))
	sizes = make([]C.size_t, len(sets))
	for i, s := range sets {
		buf := C.CBytes(s)
		ptrs[i] = buf
		sizes[i] = C.size_t(len(s))
	}
	return ptrs, sizes, func() {
		for _, p := range ptrs {
			C.free(p)
		}
	}
}

func (v *videotoolboxDecoder) CreateSession(codec Codec, paramSets [][]byte, _ bool, state *decoderOutputState) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.codec = codec
	v.state = state

	ptrs, sizes, free := buildParameterSetPointers(paramSets)
	defer free()

	var formatDesc C.CMVideoFormatDescriptionRef
	var status C.OSStatus
	if codec == HEVC {
		status = C.CMVideoFormatDescriptionCreateFromHEVCParameterSets(
			C.kCFAllocatorDefault,
			C.size_t(len(ptrs)),
			(*unsafe.Pointer)(unsafe.Pointer(&ptrs[0])),
			(*C.size_t)(unsafe.Pointer(&sizes[0])),
			4,
			nil,
			&formatDesc,
		)
	} else {
		status = C.CMVideoFormatDescriptionCreateFromH264ParameterSets(
			C.kCFAllocatorDefault,
			C.size_t(len(ptrs)),
			(*unsafe.Pointer)(unsafe.Pointer(&ptrs[0])),
			(*C.size_t)(unsafe.Pointer(&sizes[0])),
			4,
			&formatDesc,
		)
	}
	if status != 0 {
		return fmt.Errorf("CMVideoFormatDescriptionCreateFrom%sParameterSets: status %d", codec, int(status))
	}
	v.formatD = formatDesc

	v.token = vtDecoderRegister(v)
	cbRecord := C.makeDecoderCallbackRecord(v.token)

	var destAttrs C.CFMutableDictionaryRef = C.CFDictionaryCreateMutable(C.kCFAllocatorDefault, 0, &C.kCFTypeDictionaryKeyCallBacks, &C.kCFTypeDictionaryValueCallBacks)
	defer C.CFRelease(C.CFTypeRef(destAttrs))

	var session C.VTDecompressionSessionRef
	status = C.VTDecompressionSessionCreate(
		C.kCFAllocatorDefault,
		formatDesc,
		nil,
		C.CFDictionaryRef(destAttrs),
		&cbRecord,
		&session,
	)
	if status != 0 {
		vtDecoderUnregister(v.token)
		return fmt.Errorf("VTDecompressionSessionCreate: status %d", int(status))
	}
	v.session = session
	return nil
}

func (v *videotoolboxDecoder) SampleLayout() SampleLayout {
	if v.codec == HEVC {
		return LayoutHvcc
	}
	return LayoutAvcc
}

func (v *videotoolboxDecoder) SubmitSample(sample []byte, pts Timestamp90k) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.session == 0 {
		return fmt.Errorf("videotoolbox: decompression session not created")
	}

	blockBytes := C.CBytes(sample)
	defer C.free(blockBytes)

	var blockBuf C.CMBlockBufferRef
	status := C.CMBlockBufferCreateWithMemoryBlock(
		C.kCFAllocatorDefault,
		blockBytes,
		C.size_t(len(sample)),
		C.kCFAllocatorNull,
		nil,
		0,
		C.size_t(len(sample)),
		0,
		&blockBuf,
	)
	if status != 0 {
		return fmt.Errorf("CMBlockBufferCreateWithMemoryBlock: status %d", int(status))
	}
	defer C.CFRelease(C.CFTypeRef(blockBuf))

	timing := C.CMSampleTimingInfo{
		duration:              C.CMTimeMake(1, 90000),
		presentationTimeStamp: C.CMTimeMake(C.int64_t(pts), 90000),
		decodeTimeStamp:       C.kCMTimeInvalid,
	}
	sampleSize := C.size_t(len(sample))

	var sampleBuf C.CMSampleBufferRef
	status = C.CMSampleBufferCreateReady(
		C.kCFAllocatorDefault,
		blockBuf,
		v.formatD,
		1,
		1,
		&timing,
		1,
		&sampleSize,
		&sampleBuf,
	)
	if status != 0 {
		return fmt.Errorf("CMSampleBufferCreateReady: status %d", int(status))
	}
	defer C.CFRelease(C.CFTypeRef(sampleBuf))

	var flagsOut C.VTDecodeInfoFlags
	status = C.VTDecompressionSessionDecodeFrame(
		v.session,
		sampleBuf,
		C.kVTDecodeFrame_EnableAsynchronousDecompression|C.kVTDecodeFrame_1xRealTimePlayback,
		nil,
		&flagsOut,
	)
	if status != 0 {
		return fmt.Errorf("VTDecompressionSessionDecodeFrame: status %d", int(status))
	}
	return nil
}

func (v *videotoolboxDecoder) Flush() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session == 0 {
		return nil
	}
	status := C.VTDecompressionSessionWaitForAsynchronousFrames(v.session)
	if status != 0 {
		return fmt.Errorf("VTDecompressionSessionWaitForAsynchronousFrames: status %d", int(status))
	}
	return nil
}

func (v *videotoolboxDecoder) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session != 0 {
		C.VTDecompressionSessionInvalidate(v.session)
		C.CFRelease(C.CFTypeRef(v.session))
		v.session = 0
	}
	if v.formatD != 0 {
		C.CFRelease(C.CFTypeRef(v.formatD))
		v.formatD = 0
	}
	if v.token != nil {
		vtDecoderUnregister(v.token)
		v.token = nil
	}
	return nil
}

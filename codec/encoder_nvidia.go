//go:build !darwin

package codec

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

func init() {
	registerEncodeBackend(Nvidia, func() hardwareEncoderDriver { return &nvidiaEncoder{} })
}

const nvencAPIVersion = 12 | (2 << 24) // NVENCAPI_VERSION: major in the low bits, minor at bit 24

// nvEncodeAPIFunctionList mirrors the entry points of
// NV_ENCODE_API_FUNCTION_LIST this driver calls. NvEncodeAPICreateInstance
// fills every field that's present in the struct it's handed, in the
// order nvEncodeAPI.h declares them; unused later fields are omitted here
// since purego only needs the ones we read.
type nvEncodeAPIFunctionList struct {
	Version                   uint32
	_                         uint32
	OpenEncodeSessionEx       uintptr
	GetEncodeGUIDCount        uintptr
	GetEncodeProfileGUIDCount uintptr
	GetEncodeProfileGUIDs     uintptr
	GetEncodeGUIDs            uintptr
	GetInputFormatCount       uintptr
	GetInputFormats           uintptr
	GetEncodeCaps             uintptr
	GetEncodePresetCount      uintptr
	GetEncodePresetGUIDs      uintptr
	GetEncodePresetConfig     uintptr
	InitializeEncoder         uintptr
	CreateInputBuffer         uintptr
	DestroyInputBuffer        uintptr
	CreateBitstreamBuffer     uintptr
	DestroyBitstreamBuffer    uintptr
	EncodePicture             uintptr
	LockBitstream             uintptr
	UnlockBitstream           uintptr
	LockInputBuffer           uintptr
	UnlockInputBuffer         uintptr
	GetEncodeStats            uintptr
	GetSequenceParams         uintptr
	RegisterAsyncEvent        uintptr
	UnregisterAsyncEvent      uintptr
	MapInputResource          uintptr
	UnmapInputResource        uintptr
	DestroyEncoder            uintptr
	InvalidateRefFrames       uintptr
	OpenEncodeSession         uintptr
	RegisterResource          uintptr
	UnregisterResource        uintptr
	ReconfigureEncoder        uintptr
}

type nvencAPI struct {
	createInstance func(params unsafe.Pointer) int32
	maxVersion     func(ver *uint32) int32
}

var (
	nvencAPIOnce sync.Once
	nvencAPIInst *nvencAPI
	nvencAPIErr  error
)

func loadNvenc() (*nvencAPI, error) {
	nvencAPIOnce.Do(func() {
		handle, err := nvencLib.ensure(nvencLibraryNames())
		if err != nil {
			nvencAPIErr = err
			return
		}
		api := &nvencAPI{}
		if regErr := registerFunc(handle, &api.createInstance, "NvEncodeAPICreateInstance"); regErr != nil {
			nvencAPIErr = fmt.Errorf("nvenc: %w", regErr)
			return
		}
		if regErr := registerFunc(handle, &api.maxVersion, "NvEncodeAPIGetMaxSupportedVersion"); regErr != nil {
			nvencAPIErr = fmt.Errorf("nvenc: %w", regErr)
			return
		}
		nvencAPIInst = api
	})
	return nvencAPIInst, nvencAPIErr
}

// guid128 is NVENC's GUID wire type (16 bytes), used for codec and preset
// selectors.
type guid128 [16]byte

var (
	nvEncCodecH264GUID = guid128{0x66, 0x98, 0xB7, 0x6, 0x4, 0x64, 0x42, 0x46, 0xBD, 0xAA, 0x10, 0x51, 0xA8, 0x30, 0x86, 0x64}
	nvEncCodecHEVCGUID = guid128{0x79, 0x0C, 0xDC, 0x88, 0x45, 0x22, 0x4d, 0x7b, 0x9d, 0x77, 0x89, 0xb7, 0x6, 0x57, 0x33, 0x43}
	nvEncPresetP4GUID  = guid128{0xae, 0xd0, 0xae, 0x1, 0x22, 0xc4, 0x45, 0x54, 0xa3, 0x70, 0x49, 0x2b, 0x9, 0x8c, 0x4f, 0x50}
)

type nvEncOpenEncodeSessionExParams struct {
	Version    uint32
	DeviceType uint32
	Device     unsafe.Pointer
	Reserved   unsafe.Pointer
	APIVersion uint32
}

type nvEncConfig struct {
	Version     uint32
	ProfileGUID guid128
	GOPLength   uint32
	RateControl uint32
	AvgBitrate  uint32
}

type nvEncInitializeParams struct {
	Version      uint32
	EncodeGUID   guid128
	PresetGUID   guid128
	EncodeWidth  uint32
	EncodeHeight uint32
	DarWidth     uint32
	DarHeight    uint32
	FrameRateNum uint32
	FrameRateDen uint32
	EnablePTD    uint32
	EncodeConfig *nvEncConfig
}

type nvEncCreateInputBuffer struct {
	Version     uint32
	Width       uint32
	Height      uint32
	BufferFmt   uint32
	InputBuffer unsafe.Pointer
}

type nvEncCreateBitstreamBuffer struct {
	Version         uint32
	BitstreamBuffer unsafe.Pointer
}

type nvEncPicParams struct {
	Version         uint32
	InputWidth      uint32
	InputHeight     uint32
	InputPitch      uint32
	EncodePicFlags  uint32
	InputTimeStamp  uint64
	InputBuffer     unsafe.Pointer
	OutputBitstream unsafe.Pointer
	BufferFmt       uint32
	PictureStruct   uint32
}

type nvEncLockBitstream struct {
	Version              uint32
	OutputBitstream      unsafe.Pointer
	BitstreamBufferPtr   unsafe.Pointer
	BitstreamSizeInBytes uint32
	PictureType          uint32
}

// NVENC status codes this driver's retry loops observe.
const (
	nvencSuccess          = 0
	nvencErrEncoderBusy   = 17
	nvencErrNeedMoreInput = 23
	nvencErrLockBusy      = 21
)

// nvidiaEncoder implements hardwareEncoderDriver against NVENC's
// synchronous (EnablePTD) single-session encode API.
type nvidiaEncoder struct {
	mu       sync.Mutex
	cuda     *cudaContext
	fnList   *nvEncodeAPIFunctionList
	encoder  unsafe.Pointer
	codec    Codec
	dims     Dimensions
	inputBuf unsafe.Pointer
	bitBuf   unsafe.Pointer
	cfg      nvEncConfig
}

func (n *nvidiaEncoder) QueryCapability(codec Codec) CapabilityReport {
	if codec != H264 && codec != HEVC {
		return CapabilityReport{}
	}
	if _, err := loadNvenc(); err != nil {
		return CapabilityReport{}
	}
	ctx, err := newCUDAContext()
	if err != nil {
		return CapabilityReport{}
	}
	ctx.Close()
	return CapabilityReport{EncodeSupported: true, HardwareAcceleration: true}
}

func (n *nvidiaEncoder) CreateSession(codec Codec, dims Dimensions, fps int, _ bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	api, err := loadNvenc()
	if err != nil {
		return err
	}
	cudaCtx, err := newCUDAContext()
	if err != nil {
		return err
	}

	fnList := &nvEncodeAPIFunctionList{Version: 2}
	if rc := api.createInstance(unsafe.Pointer(fnList)); rc != nvencSuccess {
		return fmt.Errorf("NvEncodeAPICreateInstance failed: code %d", rc)
	}

	sessionParams := nvEncOpenEncodeSessionExParams{
		Version:    7,
		DeviceType: 2, // NV_ENC_DEVICE_TYPE_CUDA
		Device:     unsafe.Pointer(cudaCtx.ctx),
		APIVersion: nvencAPIVersion,
	}
	var encoder unsafe.Pointer
	if rc, _, _ := purego.SyscallN(fnList.OpenEncodeSessionEx, uintptr(unsafe.Pointer(&sessionParams)), uintptr(unsafe.Pointer(&encoder))); int32(rc) != nvencSuccess {
		return fmt.Errorf("NvEncOpenEncodeSessionEx failed: code %d", rc)
	}

	n.cuda = cudaCtx
	n.fnList = fnList
	n.encoder = encoder
	n.codec = codec
	n.dims = dims
	n.cfg = nvEncConfig{Version: 7, GOPLength: uint32(2 * fps), RateControl: 0, AvgBitrate: 6_000_000}
	if codec == HEVC {
		n.cfg.ProfileGUID = nvEncCodecHEVCGUID
	}
	return nil
}

func (n *nvidiaEncoder) Configure(_ bool, expectedFrameRate int, maxKeyframeInterval int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.encoder == nil {
		return fmt.Errorf("nvidia: encode session not created")
	}
	n.cfg.GOPLength = uint32(maxKeyframeInterval)

	encodeGUID := nvEncCodecH264GUID
	if n.codec == HEVC {
		encodeGUID = nvEncCodecHEVCGUID
	}

	initParams := nvEncInitializeParams{
		Version:      7,
		EncodeGUID:   encodeGUID,
		PresetGUID:   nvEncPresetP4GUID,
		EncodeWidth:  uint32(n.dims.Width),
		EncodeHeight: uint32(n.dims.Height),
		DarWidth:     uint32(n.dims.Width),
		DarHeight:    uint32(n.dims.Height),
		FrameRateNum: uint32(expectedFrameRate),
		FrameRateDen: 1,
		EnablePTD:    1,
		EncodeConfig: &n.cfg,
	}
	if rc, _, _ := purego.SyscallN(n.fnList.InitializeEncoder, uintptr(n.encoder), uintptr(unsafe.Pointer(&initParams))); int32(rc) != nvencSuccess {
		return fmt.Errorf("NvEncInitializeEncoder failed: code %d", rc)
	}

	inBuf := nvEncCreateInputBuffer{Version: 5, Width: uint32(n.dims.Width), Height: uint32(n.dims.Height), BufferFmt: 0x20 /* ARGB */}
	if rc, _, _ := purego.SyscallN(n.fnList.CreateInputBuffer, uintptr(n.encoder), uintptr(unsafe.Pointer(&inBuf))); int32(rc) != nvencSuccess {
		return fmt.Errorf("NvEncCreateInputBuffer failed: code %d", rc)
	}
	n.inputBuf = inBuf.InputBuffer

	bitBuf := nvEncCreateBitstreamBuffer{Version: 2}
	if rc, _, _ := purego.SyscallN(n.fnList.CreateBitstreamBuffer, uintptr(n.encoder), uintptr(unsafe.Pointer(&bitBuf))); int32(rc) != nvencSuccess {
		return fmt.Errorf("NvEncCreateBitstreamBuffer failed: code %d", rc)
	}
	n.bitBuf = bitBuf.BitstreamBuffer
	return nil
}

func nvencErrFromCode(rc int32) error {
	switch rc {
	case nvencErrEncoderBusy:
		return encoderBusy{}
	case nvencErrNeedMoreInput:
		return encoderNeedMoreInput{}
	case nvencErrLockBusy:
		return encoderLockBusy{}
	default:
		return fmt.Errorf("nvenc status %d", rc)
	}
}

func (n *nvidiaEncoder) SubmitFrame(argb []byte, pts Timestamp90k, forceKeyframe bool) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.encoder == nil {
		return false, fmt.Errorf("nvidia: encode session not created")
	}

	lockIn := struct {
		Version     uint32
		InputBuffer unsafe.Pointer
		BufferData  unsafe.Pointer
		Pitch       uint32
	}{Version: 1, InputBuffer: n.inputBuf}
	if rc, _, _ := purego.SyscallN(n.fnList.LockInputBuffer, uintptr(n.encoder), uintptr(unsafe.Pointer(&lockIn))); int32(rc) != nvencSuccess {
		return false, nvencErrFromCode(int32(rc))
	}
	rowBytes := n.dims.Width * 4
	dst := unsafe.Slice((*byte)(lockIn.BufferData), rowBytes*n.dims.Height)
	for row := 0; row < n.dims.Height; row++ {
		off := row * rowBytes
		pitchOff := row * int(lockIn.Pitch)
		copy(dst[pitchOff:pitchOff+rowBytes], argb[off:off+rowBytes])
	}
	purego.SyscallN(n.fnList.UnlockInputBuffer, uintptr(n.encoder), uintptr(n.inputBuf))

	flags := uint32(0)
	if forceKeyframe {
		flags = 1 // NV_ENC_PIC_FLAG_FORCEIDR
	}
	pic := nvEncPicParams{
		Version:         5,
		InputWidth:      uint32(n.dims.Width),
		InputHeight:     uint32(n.dims.Height),
		InputPitch:      lockIn.Pitch,
		EncodePicFlags:  flags,
		InputTimeStamp:  uint64(pts),
		InputBuffer:     n.inputBuf,
		OutputBitstream: n.bitBuf,
		BufferFmt:       0x20,
	}
	rc, _, _ := purego.SyscallN(n.fnList.EncodePicture, uintptr(n.encoder), uintptr(unsafe.Pointer(&pic)))
	if int32(rc) == nvencSuccess {
		return true, nil
	}
	if int32(rc) == nvencErrNeedMoreInput {
		return false, encoderNeedMoreInput{}
	}
	return false, nvencErrFromCode(int32(rc))
}

func (n *nvidiaEncoder) ReadOutput() ([]byte, bool, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.encoder == nil || n.bitBuf == nil {
		return nil, false, false, nil
	}

	lock := nvEncLockBitstream{Version: 3, OutputBitstream: n.bitBuf}
	rc, _, _ := purego.SyscallN(n.fnList.LockBitstream, uintptr(n.encoder), uintptr(unsafe.Pointer(&lock)))
	if int32(rc) == nvencErrLockBusy {
		return nil, false, false, encoderLockBusy{}
	}
	if int32(rc) != nvencSuccess {
		return nil, false, false, fmt.Errorf("NvEncLockBitstream status %d", rc)
	}
	defer purego.SyscallN(n.fnList.UnlockBitstream, uintptr(n.encoder), uintptr(n.bitBuf))

	if lock.BitstreamSizeInBytes == 0 {
		return nil, false, false, nil
	}
	out := make([]byte, lock.BitstreamSizeInBytes)
	src := unsafe.Slice((*byte)(lock.BitstreamBufferPtr), lock.BitstreamSizeInBytes)
	copy(out, src)
	isKey := lock.PictureType == 1 // NV_ENC_PIC_TYPE_IDR
	return out, isKey, true, nil
}

func (n *nvidiaEncoder) SignalEndOfStream() (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.encoder == nil {
		return false, nil
	}
	pic := nvEncPicParams{Version: 5, EncodePicFlags: 2 /* NV_ENC_PIC_FLAG_EOS */}
	rc, _, _ := purego.SyscallN(n.fnList.EncodePicture, uintptr(n.encoder), uintptr(unsafe.Pointer(&pic)))
	if int32(rc) != nvencSuccess {
		return false, nvencErrFromCode(int32(rc))
	}
	return true, nil
}

func (n *nvidiaEncoder) RequestSessionSwitch(req SessionSwitchRequest) error {
	if req.Nvidia == nil {
		return unsupportedConfig("encoder.request_session_switch", "nvidia requires an NvidiaSessionSwitch payload")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.encoder == nil {
		return fmt.Errorf("nvidia: encode session not created")
	}
	if req.Nvidia.GOPLength != nil {
		n.cfg.GOPLength = uint32(*req.Nvidia.GOPLength)
	}
	return nil
}

func (n *nvidiaEncoder) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fnList != nil && n.encoder != nil {
		if n.bitBuf != nil {
			purego.SyscallN(n.fnList.DestroyBitstreamBuffer, uintptr(n.encoder), uintptr(n.bitBuf))
			n.bitBuf = nil
		}
		if n.inputBuf != nil {
			purego.SyscallN(n.fnList.DestroyInputBuffer, uintptr(n.encoder), uintptr(n.inputBuf))
			n.inputBuf = nil
		}
		purego.SyscallN(n.fnList.DestroyEncoder, uintptr(n.encoder))
		n.encoder = nil
	}
	if n.cuda != nil {
		n.cuda.Close()
	}
	return nil
}

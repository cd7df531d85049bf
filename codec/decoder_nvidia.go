//go:build !darwin

package codec

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

func init() {
	registerDecodeBackend(Nvidia, func() hardwareDecoderDriver { return &nvidiaDecoder{} })
}

// cuvidAPI is the NVDEC entry-point subset decoderEngine's driver
// contract needs: parser creation/feed, decoder creation, and the
// asynchronous sequence/decode/display callback triple.
type cuvidAPI struct {
	cuvidCreateVideoParser  func(parser *uintptr, params *cuvidParserParams) int32
	cuvidParseVideoData     func(parser uintptr, packet *cuvidSourceDataPacket) int32
	cuvidDestroyVideoParser func(parser uintptr) int32

	cuvidCreateDecoder   func(decoder *uintptr, info *cuvidDecodeCreateInfo) int32
	cuvidDecodePicture   func(decoder uintptr, params *cuvidPicParams) int32
	cuvidMapVideoFrame   func(decoder uintptr, picIdx int32, devPtr *uintptr, pitch *uint32, proc *cuvidProcParams) int32
	cuvidUnmapVideoFrame func(decoder uintptr, devPtr uintptr) int32
	cuvidDestroyDecoder  func(decoder uintptr) int32
}

var (
	cuvidAPIOnce sync.Once
	cuvidAPIInst *cuvidAPI
	cuvidAPIErr  error
)

func loadCuvid() (*cuvidAPI, error) {
	cuvidAPIOnce.Do(func() {
		handle, err := nvcuvidLib.ensure(nvcuvidLibraryNames())
		if err != nil {
			cuvidAPIErr = err
			return
		}
		api := &cuvidAPI{}
		for name, fptr := range map[string]any{
			"cuvidCreateVideoParser":  &api.cuvidCreateVideoParser,
			"cuvidParseVideoData":     &api.cuvidParseVideoData,
			"cuvidDestroyVideoParser": &api.cuvidDestroyVideoParser,
			"cuvidCreateDecoder":      &api.cuvidCreateDecoder,
			"cuvidDecodePicture":      &api.cuvidDecodePicture,
			"cuvidMapVideoFrame":      &api.cuvidMapVideoFrame,
			"cuvidUnmapVideoFrame":    &api.cuvidUnmapVideoFrame,
			"cuvidDestroyDecoder":     &api.cuvidDestroyDecoder,
		} {
			if regErr := registerFunc(handle, fptr, name); regErr != nil {
				cuvidAPIErr = fmt.Errorf("nvcuvid: %w", regErr)
				return
			}
		}
		cuvidAPIInst = api
	})
	return cuvidAPIInst, cuvidAPIErr
}

// cudaVideoCodec mirrors the subset of cudaVideoCodec_enum this façade
// drives.
type cudaVideoCodec int32

const (
	cudaVideoCodecH264 cudaVideoCodec = 4
	cudaVideoCodecHEVC cudaVideoCodec = 8
)

// The CUVID* structs below carry the fields cuvidCreateVideoParser,
// cuvidParseVideoData and cuvidCreateDecoder actually read in this
// driver; padding matches nvcuvid.h's layout for the fields used here.
type cuvidSourceDataPacket struct {
	Flags     uint32
	PayloadSz uint32
	Payload   *byte
	Timestamp int64
}

type cuvidParserDispInfo struct {
	PicIdx           int32
	ProgressiveFrame int32
	TopFieldFirst    int32
	RepeatFirstField int32
	Timestamp        int64
}

type cuvidParserParams struct {
	CodecType            cudaVideoCodec
	MaxNumDecodeSurfaces uint32
	ClockRate            uint32
	ErrorThreshold       uint32
	MaxDisplayDelay      uint32
	extraDataLen         uint32
	userData             unsafe.Pointer
	sequenceCallback     uintptr
	decodeCallback       uintptr
	displayCallback      uintptr
}

type cuvidDecodeCreateInfo struct {
	Width             uint32
	Height            uint32
	NumDecodeSurfaces uint32
	CodecType         cudaVideoCodec
	ChromaFormat      uint32
	OutputFormat      uint32
	MaxWidth          uint32
	MaxHeight         uint32
	TargetWidth       uint32
	TargetHeight      uint32
}

type cuvidPicParams struct {
	PicWidthInMbs    int32
	FrameHeightInMbs int32
	CurrPicIdx       int32
	FieldPicFlag     int32
	Bottom           int32
	SecondField      int32
	BitstreamData    *byte
	BitstreamDataLen uint32
}

type cuvidProcParams struct {
	Progressive   int32
	SecondField   int32
	TopFieldFirst int32
	unpaired      int32
}

// cuvidEOFormat carries the fields of CUVIDEOFORMAT read in
// nvidiaSequenceCallback: codec, coded size and min decode-surface count,
// reported once the parser observes the stream's first parameter sets.
type cuvidEOFormat struct {
	CodecType            cudaVideoCodec
	ChromaFormat         uint32
	CodedWidth           uint32
	CodedHeight          uint32
	DisplayWidth         uint32
	DisplayHeight        uint32
	MinNumDecodeSurfaces uint32
}

// nvidiaDecoderCallbackRegistry maps an opaque token (cgo/purego
// callbacks only receive a void* user-data pointer) back to the owning
// driver instance, the same indirection used on the VideoToolbox side.
var (
	nvDecRegistryMu sync.Mutex
	nvDecRegistry   = map[uintptr]*nvidiaDecoder{}
	nvDecNextToken  uintptr
)

func nvDecRegister(d *nvidiaDecoder) uintptr {
	nvDecRegistryMu.Lock()
	defer nvDecRegistryMu.Unlock()
	nvDecNextToken++
	nvDecRegistry[nvDecNextToken] = d
	return nvDecNextToken
}

func nvDecUnregister(token uintptr) {
	nvDecRegistryMu.Lock()
	defer nvDecRegistryMu.Unlock()
	delete(nvDecRegistry, token)
}

func nvDecLookup(token uintptr) *nvidiaDecoder {
	nvDecRegistryMu.Lock()
	defer nvDecRegistryMu.Unlock()
	return nvDecRegistry[token]
}

// nvidiaSequenceCallback, nvidiaDecodeCallback and nvidiaDisplayCallback
// are exposed to nvcuvid as C function pointers via purego.NewCallback;
// the parser invokes them from its own internal thread. NewCallback slots
// are a process-wide finite resource, so the three trampolines are created
// once and shared by every decoder instance.
func nvidiaSequenceCallback(userData uintptr, formatPtr uintptr) uintptr {
	d := nvDecLookup(userData)
	if d == nil {
		return 0
	}
	format := (*cuvidEOFormat)(unsafe.Pointer(formatPtr))

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.decoder != 0 {
		return 1 // decoder already created for this sequence
	}
	d.width = int(format.DisplayWidth)
	d.height = int(format.DisplayHeight)

	info := cuvidDecodeCreateInfo{
		Width:             format.CodedWidth,
		Height:            format.CodedHeight,
		NumDecodeSurfaces: format.MinNumDecodeSurfaces,
		CodecType:         format.CodecType,
		ChromaFormat:      format.ChromaFormat,
		TargetWidth:       format.DisplayWidth,
		TargetHeight:      format.DisplayHeight,
	}
	var decoder uintptr
	if rc := d.cuvid.cuvidCreateDecoder(&decoder, &info); rc != 0 {
		return 0
	}
	d.decoder = decoder
	return 1
}

func nvidiaDecodeCallback(userData uintptr, picParamsPtr uintptr) uintptr {
	d := nvDecLookup(userData)
	if d == nil {
		return 0
	}
	params := (*cuvidPicParams)(unsafe.Pointer(picParamsPtr))
	if d.cuvid.cuvidDecodePicture(d.decoder, params) != 0 {
		return 0
	}
	return 1
}

func nvidiaDisplayCallback(userData uintptr, dispInfoPtr uintptr) uintptr {
	d := nvDecLookup(userData)
	if d == nil || d.state == nil {
		return 0
	}
	info := (*cuvidParserDispInfo)(unsafe.Pointer(dispInfoPtr))

	var devPtr uintptr
	var pitch uint32
	if d.cuvid.cuvidMapVideoFrame(d.decoder, info.PicIdx, &devPtr, &pitch, &cuvidProcParams{Progressive: info.ProgressiveFrame}) != 0 {
		return 0
	}
	defer d.cuvid.cuvidUnmapVideoFrame(d.decoder, devPtr)

	d.state.onFrame(Dimensions{Width: d.width, Height: d.height}, PixelFormatNV12, ColorMetadata{})
	return 1
}

// nvidiaDecoder implements hardwareDecoderDriver against NVDEC's
// cuvidCreateVideoParser/cuvidParseVideoData asynchronous pipeline.
type nvidiaDecoder struct {
	mu      sync.Mutex
	cuda    *cudaContext
	cuvid   *cuvidAPI
	codec   Codec
	parser  uintptr
	decoder uintptr
	width   int
	height  int
	token   uintptr
	state   *decoderOutputState
}

var (
	nvDecCallbacksOnce sync.Once
	nvDecSeqCB         uintptr
	nvDecDecCB         uintptr
	nvDecDispCB        uintptr
)

func nvDecCallbacks() (seq, dec, disp uintptr) {
	nvDecCallbacksOnce.Do(func() {
		nvDecSeqCB = purego.NewCallback(nvidiaSequenceCallback)
		nvDecDecCB = purego.NewCallback(nvidiaDecodeCallback)
		nvDecDispCB = purego.NewCallback(nvidiaDisplayCallback)
	})
	return nvDecSeqCB, nvDecDecCB, nvDecDispCB
}

func (n *nvidiaDecoder) QueryCapability(codec Codec) CapabilityReport {
	if codec != H264 && codec != HEVC {
		return CapabilityReport{}
	}
	if _, err := loadCuvid(); err != nil {
		return CapabilityReport{}
	}
	ctx, err := newCUDAContext()
	if err != nil {
		return CapabilityReport{}
	}
	ctx.Close()
	return CapabilityReport{DecodeSupported: true, HardwareAcceleration: true}
}

func (n *nvidiaDecoder) CreateSession(codec Codec, paramSets [][]byte, _ bool, state *decoderOutputState) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	cuvidAPI, err := loadCuvid()
	if err != nil {
		return err
	}
	cudaCtx, err := newCUDAContext()
	if err != nil {
		return err
	}
	if err := cudaCtx.push(); err != nil {
		return err
	}
	defer cudaCtx.pop()

	n.cuvid = cuvidAPI
	n.cuda = cudaCtx
	n.codec = codec
	n.state = state
	n.token = nvDecRegister(n)

	seqCB, decCB, dispCB := nvDecCallbacks()

	codecType := cudaVideoCodecH264
	if codec == HEVC {
		codecType = cudaVideoCodecHEVC
	}

	params := cuvidParserParams{
		CodecType:            codecType,
		MaxNumDecodeSurfaces: 8,
		ClockRate:            90000,
		ErrorThreshold:       0,
		MaxDisplayDelay:      0,
		userData:             unsafe.Pointer(n.token),
		sequenceCallback:     seqCB,
		decodeCallback:       decCB,
		displayCallback:      dispCB,
	}

	var parser uintptr
	if rc := cuvidAPI.cuvidCreateVideoParser(&parser, &params); rc != 0 {
		nvDecUnregister(n.token)
		return fmt.Errorf("cuvidCreateVideoParser failed: code %d", rc)
	}
	n.parser = parser

	_ = paramSets // parameter sets reach the parser inline in the Annex-B bitstream
	return nil
}

func (n *nvidiaDecoder) SampleLayout() SampleLayout {
	return LayoutAnnexB
}

func (n *nvidiaDecoder) SubmitSample(sample []byte, pts Timestamp90k) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.parser == 0 {
		return fmt.Errorf("nvidia: video parser not created")
	}

	packet := cuvidSourceDataPacket{
		PayloadSz: uint32(len(sample)),
		Payload:   &sample[0],
		Timestamp: int64(pts),
	}
	if rc := n.cuvid.cuvidParseVideoData(n.parser, &packet); rc != 0 {
		return fmt.Errorf("cuvidParseVideoData failed: code %d", rc)
	}
	return nil
}

func (n *nvidiaDecoder) Flush() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.parser == 0 {
		return nil
	}
	packet := cuvidSourceDataPacket{Flags: 1 << 0} // CUVID_PKT_ENDOFSTREAM
	if rc := n.cuvid.cuvidParseVideoData(n.parser, &packet); rc != 0 {
		return fmt.Errorf("cuvidParseVideoData(EOS) failed: code %d", rc)
	}
	return nil
}

func (n *nvidiaDecoder) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.decoder != 0 {
		n.cuvid.cuvidDestroyDecoder(n.decoder)
		n.decoder = 0
	}
	if n.parser != 0 {
		n.cuvid.cuvidDestroyVideoParser(n.parser)
		n.parser = 0
	}
	if n.token != 0 {
		nvDecUnregister(n.token)
		n.token = 0
	}
	if n.cuda != nil {
		n.cuda.Close()
	}
	return nil
}

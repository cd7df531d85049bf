//go:build !darwin

package codec

import (
	"fmt"
	"sync"
	"unsafe"
)

// nv12KernelPTX is a pre-assembled PTX module implementing the same BT.601
// limited-range NV12->RGB24 conversion as NV12ToRGB24CPU, one thread per
// output pixel, embedded so no nvcc/nvrtc is needed at runtime.
const nv12KernelPTX = `
.version 7.0
.target sm_50
.address_size 64

.visible .entry nv12_to_rgb24(
	.param .u64 y_ptr, .param .u64 uv_ptr, .param .u64 rgb_ptr,
	.param .u32 width, .param .u32 height, .param .u32 pitch
)
{
	.reg .pred %p<3>;
	.reg .b32 %r<32>;
	.reg .b64 %rd<10>;

	ld.param.u64 %rd1, [y_ptr];
	ld.param.u64 %rd2, [uv_ptr];
	ld.param.u64 %rd3, [rgb_ptr];
	ld.param.u32 %r1, [width];
	ld.param.u32 %r2, [height];
	ld.param.u32 %r3, [pitch];

	mov.u32 %r4, %ctaid.x;
	mov.u32 %r5, %ntid.x;
	mov.u32 %r6, %tid.x;
	mad.lo.s32 %r7, %r4, %r5, %r6;
	mov.u32 %r8, %ctaid.y;
	mov.u32 %r9, %ntid.y;
	mov.u32 %r10, %tid.y;
	mad.lo.s32 %r11, %r8, %r9, %r10;

	setp.ge.u32 %p1, %r7, %r1;
	setp.ge.u32 %p2, %r11, %r2;
	or.pred %p1, %p1, %p2;
	@%p1 bra $L_done;

	mad.lo.s32 %r12, %r11, %r3, %r7;
	cvt.u64.u32 %rd4, %r12;
	add.s64 %rd5, %rd1, %rd4;
	ld.global.u8 %r13, [%rd5];

	shr.u32 %r14, %r11, 1;
	shr.u32 %r15, %r7, 1;
	shl.b32 %r16, %r15, 1;
	mad.lo.s32 %r17, %r14, %r3, %r16;
	cvt.u64.u32 %rd6, %r17;
	add.s64 %rd7, %rd2, %rd6;
	ld.global.u8 %r18, [%rd7];
	ld.global.u8 %r19, [%rd7+1];

	sub.s32 %r20, %r13, 16;
	max.s32 %r20, %r20, 0;
	sub.s32 %r21, %r18, 128;
	sub.s32 %r22, %r19, 128;

	mul.lo.s32 %r23, %r20, 298;

	mad.lo.s32 %r24, %r22, 409, %r23;
	add.s32 %r24, %r24, 128;
	shr.s32 %r24, %r24, 8;
	max.s32 %r24, %r24, 0;
	min.s32 %r24, %r24, 255;

	mul.lo.s32 %r25, %r21, 100;
	sub.s32 %r26, %r23, %r25;
	mul.lo.s32 %r27, %r22, 208;
	sub.s32 %r26, %r26, %r27;
	add.s32 %r26, %r26, 128;
	shr.s32 %r26, %r26, 8;
	max.s32 %r26, %r26, 0;
	min.s32 %r26, %r26, 255;

	mad.lo.s32 %r28, %r21, 516, %r23;
	add.s32 %r28, %r28, 128;
	shr.s32 %r28, %r28, 8;
	max.s32 %r28, %r28, 0;
	min.s32 %r28, %r28, 255;

	mad.lo.s32 %r29, %r11, %r1, %r7;
	mul.lo.s32 %r30, %r29, 3;
	cvt.u64.u32 %rd8, %r30;
	add.s64 %rd9, %rd3, %rd8;
	st.global.u8 [%rd9], %r24;
	st.global.u8 [%rd9+1], %r26;
	st.global.u8 [%rd9+2], %r28;

$L_done:
	ret;
}
`

type cudaRTAPI struct {
	cuModuleLoadData    func(module *uintptr, image *byte) int32
	cuModuleGetFunction func(fn *uintptr, module uintptr, name *byte) int32
	cuModuleUnload      func(module uintptr) int32
	cuMemAlloc          func(devPtr *uintptr, size uintptr) int32
	cuMemFree           func(devPtr uintptr) int32
	cuMemcpyHtoD        func(dst uintptr, src *byte, size uintptr) int32
	cuMemcpyDtoH        func(dst *byte, src uintptr, size uintptr) int32
	cuLaunchKernel      func(fn uintptr, gx, gy, gz, bx, by, bz uint32, sharedMem uint32, stream uintptr, params *unsafe.Pointer, extra *unsafe.Pointer) int32
	cuCtxSynchronize    func() int32
}

var (
	cudaRTOnce sync.Once
	cudaRTInst *cudaRTAPI
	cudaRTErr  error
)

func loadCudaRT() (*cudaRTAPI, error) {
	cudaRTOnce.Do(func() {
		handle, err := cudaLib.ensure(cudaLibraryNames())
		if err != nil {
			cudaRTErr = err
			return
		}
		api := &cudaRTAPI{}
		for name, fptr := range map[string]any{
			"cuModuleLoadData":    &api.cuModuleLoadData,
			"cuModuleGetFunction": &api.cuModuleGetFunction,
			"cuModuleUnload":      &api.cuModuleUnload,
			"cuMemAlloc_v2":       &api.cuMemAlloc,
			"cuMemFree_v2":        &api.cuMemFree,
			"cuMemcpyHtoD_v2":     &api.cuMemcpyHtoD,
			"cuMemcpyDtoH_v2":     &api.cuMemcpyDtoH,
			"cuLaunchKernel":      &api.cuLaunchKernel,
			"cuCtxSynchronize":    &api.cuCtxSynchronize,
		} {
			if regErr := registerFunc(handle, fptr, name); regErr != nil {
				cudaRTErr = fmt.Errorf("cuda: %w", regErr)
				return
			}
		}
		cudaRTInst = api
	})
	return cudaRTInst, cudaRTErr
}

// cudaNV12Converter runs the BT.601 NV12->RGB24 kernel on a CUDA context
// of its own, created with the converter.
type cudaNV12Converter struct {
	ctx    *cudaContext
	rt     *cudaRTAPI
	module uintptr
	fn     uintptr
}

func newCUDANV12Converter() (*cudaNV12Converter, error) {
	ctx, err := newCUDAContext()
	if err != nil {
		return nil, err
	}
	rt, err := loadCudaRT()
	if err != nil {
		return nil, err
	}
	if err := ctx.push(); err != nil {
		return nil, err
	}
	defer ctx.pop()

	ptx := append([]byte(nv12KernelPTX), 0)
	var module uintptr
	if rc := rt.cuModuleLoadData(&module, &ptx[0]); rc != 0 {
		return nil, fmt.Errorf("cuModuleLoadData failed: code %d", rc)
	}
	name := append([]byte("nv12_to_rgb24"), 0)
	var fn uintptr
	if rc := rt.cuModuleGetFunction(&fn, module, &name[0]); rc != 0 {
		rt.cuModuleUnload(module)
		return nil, fmt.Errorf("cuModuleGetFunction failed: code %d", rc)
	}
	return &cudaNV12Converter{ctx: ctx, rt: rt, module: module, fn: fn}, nil
}

func (c *cudaNV12Converter) ConvertNV12ToRGB24(width, height, pitch int, y, uv []byte) ([]byte, error) {
	if err := c.ctx.push(); err != nil {
		return nil, err
	}
	defer c.ctx.pop()

	ySize := uintptr(pitch * height)
	uvSize := uintptr(pitch * height / 2)
	rgbSize := uintptr(width * height * 3)
	if len(y) < int(ySize) || len(uv) < int(uvSize) {
		return nil, fmt.Errorf("cuda: NV12 planes shorter than pitch*height layout")
	}

	var yDev, uvDev, rgbDev uintptr
	if rc := c.rt.cuMemAlloc(&yDev, ySize); rc != 0 {
		return nil, fmt.Errorf("cuMemAlloc(y) failed: code %d", rc)
	}
	defer c.rt.cuMemFree(yDev)
	if rc := c.rt.cuMemAlloc(&uvDev, uvSize); rc != 0 {
		return nil, fmt.Errorf("cuMemAlloc(uv) failed: code %d", rc)
	}
	defer c.rt.cuMemFree(uvDev)
	if rc := c.rt.cuMemAlloc(&rgbDev, rgbSize); rc != 0 {
		return nil, fmt.Errorf("cuMemAlloc(rgb) failed: code %d", rc)
	}
	defer c.rt.cuMemFree(rgbDev)

	if rc := c.rt.cuMemcpyHtoD(yDev, &y[0], ySize); rc != 0 {
		return nil, fmt.Errorf("cuMemcpyHtoD(y) failed: code %d", rc)
	}
	if rc := c.rt.cuMemcpyHtoD(uvDev, &uv[0], uvSize); rc != 0 {
		return nil, fmt.Errorf("cuMemcpyHtoD(uv) failed: code %d", rc)
	}

	w32, h32, p32 := uint32(width), uint32(height), uint32(pitch)
	params := []unsafe.Pointer{
		unsafe.Pointer(&yDev), unsafe.Pointer(&uvDev), unsafe.Pointer(&rgbDev),
		unsafe.Pointer(&w32), unsafe.Pointer(&h32), unsafe.Pointer(&p32),
	}
	blockX, blockY := uint32(16), uint32(16)
	gridX := (uint32(width) + blockX - 1) / blockX
	gridY := (uint32(height) + blockY - 1) / blockY
	if rc := c.rt.cuLaunchKernel(c.fn, gridX, gridY, 1, blockX, blockY, 1, 0, 0, &params[0], nil); rc != 0 {
		return nil, fmt.Errorf("cuLaunchKernel failed: code %d", rc)
	}
	if rc := c.rt.cuCtxSynchronize(); rc != 0 {
		return nil, fmt.Errorf("cuCtxSynchronize failed: code %d", rc)
	}

	out := make([]byte, rgbSize)
	if rc := c.rt.cuMemcpyDtoH(&out[0], rgbDev, rgbSize); rc != 0 {
		return nil, fmt.Errorf("cuMemcpyDtoH failed: code %d", rc)
	}
	return out, nil
}

func (c *cudaNV12Converter) Close() {
	if c.module != 0 {
		c.rt.cuModuleUnload(c.module)
		c.module = 0
	}
	if c.ctx != nil {
		c.ctx.Close()
	}
}

func platformGPUKernelName() string { return "cuda" }

// newPlatformGPUConverter is the linux/windows constructor
// newBackendTransformAdapter callers use when binding to Nvidia.
func newPlatformGPUConverter() gpuConverter {
	conv, err := newCUDANV12Converter()
	if err != nil {
		return nil
	}
	return conv
}

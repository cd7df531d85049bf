//go:build !darwin

package codec

import (
	"fmt"
	"sync"
)

// cudaDriverAPI is the minimal CUDA driver entry-point set NVDEC/NVENC
// session setup needs: a current context to attach the hardware session
// to. Loaded lazily and shared by the decoder and encoder drivers.
type cudaDriverAPI struct {
	cuInit           func(flags uint32) int32
	cuDeviceGet      func(device *int32, ordinal int32) int32
	cuCtxCreate      func(ctx *uintptr, flags uint32, device int32) int32
	cuCtxPushCurrent func(ctx uintptr) int32
	cuCtxPopCurrent  func(ctx *uintptr) int32
	cuCtxDestroy     func(ctx uintptr) int32
}

var (
	cudaAPIOnce sync.Once
	cudaAPI     *cudaDriverAPI
	cudaAPIErr  error
)

func loadCUDA() (*cudaDriverAPI, error) {
	cudaAPIOnce.Do(func() {
		handle, err := cudaLib.ensure(cudaLibraryNames())
		if err != nil {
			cudaAPIErr = err
			return
		}
		api := &cudaDriverAPI{}
		for name, fptr := range map[string]any{
			"cuInit":              &api.cuInit,
			"cuDeviceGet":         &api.cuDeviceGet,
			"cuCtxCreate_v2":      &api.cuCtxCreate,
			"cuCtxPushCurrent_v2": &api.cuCtxPushCurrent,
			"cuCtxPopCurrent_v2":  &api.cuCtxPopCurrent,
			"cuCtxDestroy_v2":     &api.cuCtxDestroy,
		} {
			if regErr := registerFunc(handle, fptr, name); regErr != nil {
				cudaAPIErr = fmt.Errorf("cuda: %w", regErr)
				return
			}
		}
		if rc := api.cuInit(0); rc != 0 {
			cudaAPIErr = fmt.Errorf("cuInit failed: code %d", rc)
			return
		}
		cudaAPI = api
	})
	return cudaAPI, cudaAPIErr
}

// cudaContext wraps a CUDA context created on device 0. Each
// newCUDAContext call creates a separate context (cuCtxCreate), owned and
// destroyed by the component that created it.
type cudaContext struct {
	api *cudaDriverAPI
	ctx uintptr
}

func newCUDAContext() (*cudaContext, error) {
	api, err := loadCUDA()
	if err != nil {
		return nil, err
	}
	var device int32
	if rc := api.cuDeviceGet(&device, 0); rc != 0 {
		return nil, fmt.Errorf("cuDeviceGet failed: code %d", rc)
	}
	var ctx uintptr
	if rc := api.cuCtxCreate(&ctx, 0, device); rc != 0 {
		return nil, fmt.Errorf("cuCtxCreate failed: code %d", rc)
	}
	return &cudaContext{api: api, ctx: ctx}, nil
}

func (c *cudaContext) push() error {
	if rc := c.api.cuCtxPushCurrent(c.ctx); rc != 0 {
		return fmt.Errorf("cuCtxPushCurrent failed: code %d", rc)
	}
	return nil
}

func (c *cudaContext) pop() {
	var popped uintptr
	c.api.cuCtxPopCurrent(&popped)
}

func (c *cudaContext) Close() {
	if c.ctx != 0 {
		c.api.cuCtxDestroy(c.ctx)
		c.ctx = 0
	}
}

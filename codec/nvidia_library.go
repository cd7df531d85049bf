//go:build !darwin

package codec

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/ebitengine/purego"
)

// nvcuvidLibraryNames and friends are dlopen candidates; the loader tries
// each in order and keeps the first that opens.
func nvcuvidLibraryNames() []string {
	if runtime.GOOS == "windows" {
		return []string{"nvcuvid64.dll", "nvcuvid.dll"}
	}
	return []string{"libnvcuvid.so.1", "libnvcuvid.so"}
}

func nvencLibraryNames() []string {
	if runtime.GOOS == "windows" {
		return []string{"nvEncodeAPI64.dll", "nvEncodeAPI.dll"}
	}
	return []string{"libnvidia-encode.so.1", "libnvidia-encode.so"}
}

func cudaLibraryNames() []string {
	if runtime.GOOS == "windows" {
		return []string{"nvcuda.dll"}
	}
	return []string{"libcuda.so.1", "libcuda.so"}
}

// dynLibrary lazily dlopen's the first name in candidates that succeeds
// and caches the handle, mirroring the once-per-process loader shape
// purego consumers use for optional native dependencies.
type dynLibrary struct {
	once    sync.Once
	handle  uintptr
	loadErr error
	name    string
}

func (d *dynLibrary) ensure(candidates []string) (uintptr, error) {
	d.once.Do(func() {
		for _, name := range candidates {
			h, err := purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
			if err == nil {
				d.handle = h
				d.name = name
				return
			}
			d.loadErr = err
		}
	})
	if d.handle == 0 {
		return 0, fmt.Errorf("nvidia: no hardware codec library found (tried %v): %w", candidates, d.loadErr)
	}
	return d.handle, nil
}

var (
	nvcuvidLib dynLibrary
	nvencLib   dynLibrary
	cudaLib    dynLibrary
)

func registerFunc(handle uintptr, fptr any, name string) error {
	var loadErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				loadErr = fmt.Errorf("symbol %s: %v", name, r)
			}
		}()
		purego.RegisterLibFunc(fptr, handle, name)
	}()
	return loadErr
}

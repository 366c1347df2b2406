//go:build govips && cgo

package transcode

import (
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	initOnce sync.Once
	mu       sync.Mutex
	running  bool
)

// Startup initializes the libvips runtime once per process. Operation
// caching is disabled: every request decodes a distinct source, so
// cached operations only hold memory.
func Startup() error {
	initOnce.Do(func() {
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		mu.Lock()
		running = true
		mu.Unlock()
	})
	return nil
}

func Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	if !running {
		return
	}
	vips.Shutdown()
	running = false
}

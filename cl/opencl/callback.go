//go:build opencl && linux

package opencl

/*
#include <stddef.h>
*/
import "C"

import (
	"sync"
	"unsafe"

	"github.com/gomlx/gocl/cl/driver"
)

// Error callbacks are passed to the runtime as integer keys, not Go pointers. A key that is no longer
// registered is ignored, so the runtime can call back after the context is released.
var (
	notifiersMu     sync.Mutex
	notifiers       = make(map[uintptr]driver.NotifyFunc)
	lastNotifierKey uintptr
)

func registerNotifier(notify driver.NotifyFunc) uintptr {
	notifiersMu.Lock()
	defer notifiersMu.Unlock()
	lastNotifierKey++
	notifiers[lastNotifierKey] = notify
	return lastNotifierKey
}

func unregisterNotifier(key uintptr) {
	if key == 0 {
		return
	}
	notifiersMu.Lock()
	defer notifiersMu.Unlock()
	delete(notifiers, key)
}

func lookupNotifier(key uintptr) driver.NotifyFunc {
	notifiersMu.Lock()
	defer notifiersMu.Unlock()
	return notifiers[key]
}

// goclNotify is the context error callback. userData holds the key of the context driver.NotifyFunc.
//
//export goclNotify
func goclNotify(errInfo *C.char, privateInfo unsafe.Pointer, cb C.size_t, userData unsafe.Pointer) {
	if notify := lookupNotifier(uintptr(userData)); notify != nil {
		notify(C.GoString(errInfo))
	}
}

package safe

import (
	"fmt"
	"reflect"
	"runtime/debug"

	"RoomGate/logger"

	"go.uber.org/zap"
)

// MustNotNil panics if the given value is nil.
// Used for required collaborators during construction.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			panic(fmt.Sprintf("%s must not be nil", name))
		}
	}
}

// Go starts f on a new goroutine; a panic is logged instead of crashing
// the process.
func Go(name string, f func()) {
	go Run(name, f)
}

// Run calls f and recovers a panic, reporting whether f returned normally.
func Run(name string, f func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic recovered",
				zap.String("task", name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			ok = false
		}
	}()
	f()
	return true
}

package vm

import "fmt"

// NativeFunc implements a native method. args is the callee's local-slot
// vector: slot 0 is the receiver for instance natives, and wide arguments
// occupy two slots. A nil return with nil error is a void return; a
// *JavaException error surfaces as a guest exception.
type NativeFunc func(t *Thread, args []*Oop) (*Oop, error)

func nativeKey(className, methodName, descriptor string) string {
	return className + "." + methodName + ":" + descriptor
}

// RegisterNative binds a native implementation to
// (class internal name, method name, descriptor).
func (vm *VM) RegisterNative(className, methodName, descriptor string, fn NativeFunc) {
	vm.mu.Lock()
	vm.natives[nativeKey(className, methodName, descriptor)] = fn
	vm.mu.Unlock()
}

// invokeNative looks up and calls the registered implementation for a
// native method.
func (vm *VM) invokeNative(t *Thread, m *MethodID, args []*Oop) (*Oop, error) {
	key := nativeKey(m.Class.Name, m.Name, m.Descriptor)
	vm.mu.Lock()
	fn, ok := vm.natives[key]
	vm.mu.Unlock()
	if !ok {
		// registerNatives / initIDs are setup hooks many JDK classes call
		// during <clinit>; they have nothing to do here.
		if (m.Name == "registerNatives" || m.Name == "initIDs") && m.Descriptor == "()V" {
			return nil, nil
		}
		vm.Logger.Warn().Str("method", key).Msg("native method not registered")
		return nil, fmt.Errorf("native method not implemented: %s", key)
	}
	return fn(t, args)
}

// registerNatives installs the built-in native tables at VM startup.
func registerNatives(vm *VM) {
	registerClassNatives(vm)
	registerDoubleNatives(vm)
	registerFloatNatives(vm)
	registerObjectNatives(vm)
	registerSystemNatives(vm)
	registerStringNatives(vm)
}

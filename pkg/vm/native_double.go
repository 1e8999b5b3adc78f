package vm

import "math"

// registerDoubleNatives installs the java.lang.Double bit conversions.
// Raw reinterpretation preserves every NaN payload.
func registerDoubleNatives(vm *VM) {
	cls := "java/lang/Double"
	vm.RegisterNative(cls, "doubleToRawLongBits", "(D)J", func(t *Thread, args []*Oop) (*Oop, error) {
		return NewLong(int64(math.Float64bits(args[0].D))), nil
	})
	vm.RegisterNative(cls, "longBitsToDouble", "(J)D", func(t *Thread, args []*Oop) (*Oop, error) {
		return NewDouble(math.Float64frombits(uint64(args[0].J))), nil
	})
}

package vm

import "math"

// registerFloatNatives installs the java.lang.Float bit conversions.
func registerFloatNatives(vm *VM) {
	cls := "java/lang/Float"
	vm.RegisterNative(cls, "floatToRawIntBits", "(F)I", func(t *Thread, args []*Oop) (*Oop, error) {
		return NewInt(int32(math.Float32bits(args[0].F))), nil
	})
	vm.RegisterNative(cls, "intBitsToFloat", "(I)F", func(t *Thread, args []*Oop) (*Oop, error) {
		return NewFloat(math.Float32frombits(uint32(args[0].I))), nil
	})
}

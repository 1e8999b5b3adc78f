package vm

import (
	"fmt"
	"math"

	"github.com/katsuo/javm/pkg/classfile"
)

// Opcodes
const (
	OpNop             = 0x00
	OpAconstNull      = 0x01
	OpIconstM1        = 0x02
	OpIconst0         = 0x03
	OpIconst1         = 0x04
	OpIconst2         = 0x05
	OpIconst3         = 0x06
	OpIconst4         = 0x07
	OpIconst5         = 0x08
	OpLconst0         = 0x09
	OpLconst1         = 0x0A
	OpFconst0         = 0x0B
	OpFconst1         = 0x0C
	OpFconst2         = 0x0D
	OpDconst0         = 0x0E
	OpDconst1         = 0x0F
	OpBipush          = 0x10
	OpSipush          = 0x11
	OpLdc             = 0x12
	OpLdcW            = 0x13
	OpLdc2W           = 0x14
	OpIload           = 0x15
	OpLload           = 0x16
	OpFload           = 0x17
	OpDload           = 0x18
	OpAload           = 0x19
	OpIload0          = 0x1A
	OpIload1          = 0x1B
	OpIload2          = 0x1C
	OpIload3          = 0x1D
	OpLload0          = 0x1E
	OpLload1          = 0x1F
	OpLload2          = 0x20
	OpLload3          = 0x21
	OpFload0          = 0x22
	OpFload1          = 0x23
	OpFload2          = 0x24
	OpFload3          = 0x25
	OpDload0          = 0x26
	OpDload1          = 0x27
	OpDload2          = 0x28
	OpDload3          = 0x29
	OpAload0          = 0x2A
	OpAload1          = 0x2B
	OpAload2          = 0x2C
	OpAload3          = 0x2D
	OpIaload          = 0x2E
	OpLaload          = 0x2F
	OpFaload          = 0x30
	OpDaload          = 0x31
	OpAaload          = 0x32
	OpBaload          = 0x33
	OpCaload          = 0x34
	OpSaload          = 0x35
	OpIstore          = 0x36
	OpLstore          = 0x37
	OpFstore          = 0x38
	OpDstore          = 0x39
	OpAstore          = 0x3A
	OpIstore0         = 0x3B
	OpIstore1         = 0x3C
	OpIstore2         = 0x3D
	OpIstore3         = 0x3E
	OpLstore0         = 0x3F
	OpLstore1         = 0x40
	OpLstore2         = 0x41
	OpLstore3         = 0x42
	OpFstore0         = 0x43
	OpFstore1         = 0x44
	OpFstore2         = 0x45
	OpFstore3         = 0x46
	OpDstore0         = 0x47
	OpDstore1         = 0x48
	OpDstore2         = 0x49
	OpDstore3         = 0x4A
	OpAstore0         = 0x4B
	OpAstore1         = 0x4C
	OpAstore2         = 0x4D
	OpAstore3         = 0x4E
	OpIastore         = 0x4F
	OpLastore         = 0x50
	OpFastore         = 0x51
	OpDastore         = 0x52
	OpAastore         = 0x53
	OpBastore         = 0x54
	OpCastore         = 0x55
	OpSastore         = 0x56
	OpPop             = 0x57
	OpPop2            = 0x58
	OpDup             = 0x59
	OpDupX1           = 0x5A
	OpDupX2           = 0x5B
	OpDup2            = 0x5C
	OpDup2X1          = 0x5D
	OpDup2X2          = 0x5E
	OpSwap            = 0x5F
	OpIadd            = 0x60
	OpLadd            = 0x61
	OpFadd            = 0x62
	OpDadd            = 0x63
	OpIsub            = 0x64
	OpLsub            = 0x65
	OpFsub            = 0x66
	OpDsub            = 0x67
	OpImul            = 0x68
	OpLmul            = 0x69
	OpFmul            = 0x6A
	OpDmul            = 0x6B
	OpIdiv            = 0x6C
	OpLdiv            = 0x6D
	OpFdiv            = 0x6E
	OpDdiv            = 0x6F
	OpIrem            = 0x70
	OpLrem            = 0x71
	OpFrem            = 0x72
	OpDrem            = 0x73
	OpIneg            = 0x74
	OpLneg            = 0x75
	OpFneg            = 0x76
	OpDneg            = 0x77
	OpIshl            = 0x78
	OpLshl            = 0x79
	OpIshr            = 0x7A
	OpLshr            = 0x7B
	OpIushr           = 0x7C
	OpLushr           = 0x7D
	OpIand            = 0x7E
	OpLand            = 0x7F
	OpIor             = 0x80
	OpLor             = 0x81
	OpIxor            = 0x82
	OpLxor            = 0x83
	OpIinc            = 0x84
	OpI2l             = 0x85
	OpI2f             = 0x86
	OpI2d             = 0x87
	OpL2i             = 0x88
	OpL2f             = 0x89
	OpL2d             = 0x8A
	OpF2i             = 0x8B
	OpF2l             = 0x8C
	OpF2d             = 0x8D
	OpD2i             = 0x8E
	OpD2l             = 0x8F
	OpD2f             = 0x90
	OpI2b             = 0x91
	OpI2c             = 0x92
	OpI2s             = 0x93
	OpLcmp            = 0x94
	OpFcmpl           = 0x95
	OpFcmpg           = 0x96
	OpDcmpl           = 0x97
	OpDcmpg           = 0x98
	OpIfeq            = 0x99
	OpIfne            = 0x9A
	OpIflt            = 0x9B
	OpIfge            = 0x9C
	OpIfgt            = 0x9D
	OpIfle            = 0x9E
	OpIfIcmpeq        = 0x9F
	OpIfIcmpne        = 0xA0
	OpIfIcmplt        = 0xA1
	OpIfIcmpge        = 0xA2
	OpIfIcmpgt        = 0xA3
	OpIfIcmple        = 0xA4
	OpIfAcmpeq        = 0xA5
	OpIfAcmpne        = 0xA6
	OpGoto            = 0xA7
	OpJsr             = 0xA8
	OpRet             = 0xA9
	OpTableswitch     = 0xAA
	OpLookupswitch    = 0xAB
	OpIreturn         = 0xAC
	OpLreturn         = 0xAD
	OpFreturn         = 0xAE
	OpDreturn         = 0xAF
	OpAreturn         = 0xB0
	OpReturn          = 0xB1
	OpGetstatic       = 0xB2
	OpPutstatic       = 0xB3
	OpGetfield        = 0xB4
	OpPutfield        = 0xB5
	OpInvokevirtual   = 0xB6
	OpInvokespecial   = 0xB7
	OpInvokestatic    = 0xB8
	OpInvokeinterface = 0xB9
	OpInvokedynamic   = 0xBA
	OpNew             = 0xBB
	OpNewarray        = 0xBC
	OpAnewarray       = 0xBD
	OpArraylength     = 0xBE
	OpAthrow          = 0xBF
	OpCheckcast       = 0xC0
	OpInstanceof      = 0xC1
	OpMonitorenter    = 0xC2
	OpMonitorexit     = 0xC3
	OpWide            = 0xC4
	OpMultianewarray  = 0xC5
	OpIfnull          = 0xC6
	OpIfnonnull       = 0xC7
	OpGotoW           = 0xC8
	OpJsrW            = 0xC9
)

// executeInstruction executes a single bytecode instruction.
// Returns (returnValue, hasReturn, error).
func (t *Thread) executeInstruction(frame *Frame, opcode byte) (*Oop, bool, error) {
	vm := t.VM
	switch opcode {
	case OpNop:

	// --- Constants ---
	case OpAconstNull:
		frame.PushNull()
	case OpIconstM1:
		frame.PushInt(-1)
	case OpIconst0:
		frame.PushInt(0)
	case OpIconst1:
		frame.PushInt(1)
	case OpIconst2:
		frame.PushInt(2)
	case OpIconst3:
		frame.PushInt(3)
	case OpIconst4:
		frame.PushInt(4)
	case OpIconst5:
		frame.PushInt(5)
	case OpLconst0:
		frame.PushLong(0)
	case OpLconst1:
		frame.PushLong(1)
	case OpFconst0:
		frame.PushFloat(0)
	case OpFconst1:
		frame.PushFloat(1)
	case OpFconst2:
		frame.PushFloat(2)
	case OpDconst0:
		frame.PushDouble(0)
	case OpDconst1:
		frame.PushDouble(1)

	case OpBipush:
		frame.PushInt(int32(frame.ReadI8()))
	case OpSipush:
		frame.PushInt(int32(frame.ReadI16()))

	case OpLdc:
		return t.executeLdc(frame, uint16(frame.ReadU8()))
	case OpLdcW:
		return t.executeLdc(frame, frame.ReadU16())
	case OpLdc2W:
		return t.executeLdc2(frame, frame.ReadU16())

	// --- Local loads ---
	case OpIload, OpLload, OpFload, OpDload, OpAload:
		frame.Push(frame.GetLocal(frame.ReadLocalIndex()))
	case OpIload0, OpLload0, OpFload0, OpDload0, OpAload0:
		frame.Push(frame.GetLocal(0))
	case OpIload1, OpLload1, OpFload1, OpDload1, OpAload1:
		frame.Push(frame.GetLocal(1))
	case OpIload2, OpLload2, OpFload2, OpDload2, OpAload2:
		frame.Push(frame.GetLocal(2))
	case OpIload3, OpLload3, OpFload3, OpDload3, OpAload3:
		frame.Push(frame.GetLocal(3))

	// --- Array loads ---
	case OpIaload, OpLaload, OpFaload, OpDaload, OpBaload, OpCaload, OpSaload:
		return t.executePrimArrayLoad(frame)
	case OpAaload:
		idx := frame.PopInt()
		ref := frame.Pop()
		if ref.IsNull() {
			return nil, false, vm.Throw("java/lang/NullPointerException", "")
		}
		if ref.Kind != KindRefArray {
			return nil, false, fmt.Errorf("aaload: receiver is not a reference array")
		}
		if idx < 0 || int(idx) >= len(ref.Ary.Elems) {
			return nil, false, vm.Throw("java/lang/ArrayIndexOutOfBoundsException",
				fmt.Sprintf("length is %d, but index is %d", len(ref.Ary.Elems), idx))
		}
		frame.Push(ref.Ary.Elems[idx])

	// --- Local stores ---
	case OpIstore, OpLstore, OpFstore, OpDstore, OpAstore:
		frame.SetLocal(frame.ReadLocalIndex(), frame.Pop())
	case OpIstore0, OpLstore0, OpFstore0, OpDstore0, OpAstore0:
		frame.SetLocal(0, frame.Pop())
	case OpIstore1, OpLstore1, OpFstore1, OpDstore1, OpAstore1:
		frame.SetLocal(1, frame.Pop())
	case OpIstore2, OpLstore2, OpFstore2, OpDstore2, OpAstore2:
		frame.SetLocal(2, frame.Pop())
	case OpIstore3, OpLstore3, OpFstore3, OpDstore3, OpAstore3:
		frame.SetLocal(3, frame.Pop())

	// --- Array stores ---
	case OpIastore, OpLastore, OpFastore, OpDastore, OpBastore, OpCastore, OpSastore:
		return t.executePrimArrayStore(frame)
	case OpAastore:
		val := frame.Pop()
		idx := frame.PopInt()
		ref := frame.Pop()
		if ref.IsNull() {
			return nil, false, vm.Throw("java/lang/NullPointerException", "")
		}
		if ref.Kind != KindRefArray {
			return nil, false, fmt.Errorf("aastore: receiver is not a reference array")
		}
		if idx < 0 || int(idx) >= len(ref.Ary.Elems) {
			return nil, false, vm.Throw("java/lang/ArrayIndexOutOfBoundsException",
				fmt.Sprintf("length is %d, but index is %d", len(ref.Ary.Elems), idx))
		}
		if comp := ref.Ary.Class.Component; comp != nil && !val.IsNull() && !vm.instanceOf(val, comp) {
			return nil, false, vm.Throw("java/lang/ArrayStoreException", DottedName(componentName(val)))
		}
		ref.Ary.Elems[idx] = val

	// --- Stack manipulation ---
	case OpPop:
		frame.Pop()
	case OpPop2:
		frame.Pop2()
	case OpDup:
		frame.Dup()
	case OpDupX1:
		frame.DupX1()
	case OpDupX2:
		frame.DupX2()
	case OpDup2:
		frame.Dup2()
	case OpDup2X1:
		frame.Dup2X1()
	case OpDup2X2:
		frame.Dup2X2()
	case OpSwap:
		frame.Swap()

	// --- Integer arithmetic (two's-complement wrap) ---
	case OpIadd:
		v2, v1 := frame.PopInt(), frame.PopInt()
		frame.PushInt(v1 + v2)
	case OpIsub:
		v2, v1 := frame.PopInt(), frame.PopInt()
		frame.PushInt(v1 - v2)
	case OpImul:
		v2, v1 := frame.PopInt(), frame.PopInt()
		frame.PushInt(v1 * v2)
	case OpIdiv:
		v2, v1 := frame.PopInt(), frame.PopInt()
		if v2 == 0 {
			return nil, false, vm.Throw("java/lang/ArithmeticException", "/ by zero")
		}
		frame.PushInt(v1 / v2)
	case OpIrem:
		v2, v1 := frame.PopInt(), frame.PopInt()
		if v2 == 0 {
			return nil, false, vm.Throw("java/lang/ArithmeticException", "/ by zero")
		}
		frame.PushInt(v1 - (v1/v2)*v2)
	case OpIneg:
		frame.PushInt(-frame.PopInt())

	case OpLadd:
		v2, v1 := frame.PopLong(), frame.PopLong()
		frame.PushLong(v1 + v2)
	case OpLsub:
		v2, v1 := frame.PopLong(), frame.PopLong()
		frame.PushLong(v1 - v2)
	case OpLmul:
		v2, v1 := frame.PopLong(), frame.PopLong()
		frame.PushLong(v1 * v2)
	case OpLdiv:
		v2, v1 := frame.PopLong(), frame.PopLong()
		if v2 == 0 {
			return nil, false, vm.Throw("java/lang/ArithmeticException", "/ by zero")
		}
		frame.PushLong(v1 / v2)
	case OpLrem:
		v2, v1 := frame.PopLong(), frame.PopLong()
		if v2 == 0 {
			return nil, false, vm.Throw("java/lang/ArithmeticException", "/ by zero")
		}
		frame.PushLong(v1 - (v1/v2)*v2)
	case OpLneg:
		frame.PushLong(-frame.PopLong())

	// --- Floating arithmetic (IEEE-754; division by zero is not an error) ---
	case OpFadd:
		v2, v1 := frame.PopFloat(), frame.PopFloat()
		frame.PushFloat(v1 + v2)
	case OpFsub:
		v2, v1 := frame.PopFloat(), frame.PopFloat()
		frame.PushFloat(v1 - v2)
	case OpFmul:
		v2, v1 := frame.PopFloat(), frame.PopFloat()
		frame.PushFloat(v1 * v2)
	case OpFdiv:
		v2, v1 := frame.PopFloat(), frame.PopFloat()
		frame.PushFloat(v1 / v2)
	case OpDadd:
		v2, v1 := frame.PopDouble(), frame.PopDouble()
		frame.PushDouble(v1 + v2)
	case OpDsub:
		v2, v1 := frame.PopDouble(), frame.PopDouble()
		frame.PushDouble(v1 - v2)
	case OpDmul:
		v2, v1 := frame.PopDouble(), frame.PopDouble()
		frame.PushDouble(v1 * v2)
	case OpDdiv:
		v2, v1 := frame.PopDouble(), frame.PopDouble()
		frame.PushDouble(v1 / v2)

	// --- Shifts (count masked to the type width) ---
	case OpIshl:
		v2, v1 := frame.PopInt(), frame.PopInt()
		frame.PushInt(v1 << (uint32(v2) & 0x1F))
	case OpIshr:
		v2, v1 := frame.PopInt(), frame.PopInt()
		frame.PushInt(v1 >> (uint32(v2) & 0x1F))
	case OpIushr:
		v2, v1 := frame.PopInt(), frame.PopInt()
		frame.PushInt(int32(uint32(v1) >> (uint32(v2) & 0x1F)))
	case OpLshl:
		v2, v1 := frame.PopInt(), frame.PopLong()
		frame.PushLong(v1 << (uint32(v2) & 0x3F))
	case OpLshr:
		v2, v1 := frame.PopInt(), frame.PopLong()
		frame.PushLong(v1 >> (uint32(v2) & 0x3F))
	case OpLushr:
		v2, v1 := frame.PopInt(), frame.PopLong()
		frame.PushLong(int64(uint64(v1) >> (uint32(v2) & 0x3F)))

	// --- Bitwise ---
	case OpIand:
		v2, v1 := frame.PopInt(), frame.PopInt()
		frame.PushInt(v1 & v2)
	case OpIor:
		v2, v1 := frame.PopInt(), frame.PopInt()
		frame.PushInt(v1 | v2)
	case OpIxor:
		v2, v1 := frame.PopInt(), frame.PopInt()
		frame.PushInt(v1 ^ v2)
	case OpLand:
		v2, v1 := frame.PopLong(), frame.PopLong()
		frame.PushLong(v1 & v2)
	case OpLor:
		v2, v1 := frame.PopLong(), frame.PopLong()
		frame.PushLong(v1 | v2)
	case OpLxor:
		v2, v1 := frame.PopLong(), frame.PopLong()
		frame.PushLong(v1 ^ v2)

	case OpIinc:
		wasWide := frame.Wide
		index := frame.ReadLocalIndex()
		var delta int32
		if wasWide {
			delta = int32(frame.ReadI16())
		} else {
			delta = int32(frame.ReadI8())
		}
		v := frame.GetLocal(index)
		frame.SetLocal(index, NewInt(v.I+delta))

	// --- Conversions ---
	case OpI2l:
		frame.PushLong(int64(frame.PopInt()))
	case OpI2f:
		frame.PushFloat(float32(frame.PopInt()))
	case OpI2d:
		frame.PushDouble(float64(frame.PopInt()))
	case OpL2i:
		frame.PushInt(int32(frame.PopLong()))
	case OpL2f:
		frame.PushFloat(float32(frame.PopLong()))
	case OpL2d:
		frame.PushDouble(float64(frame.PopLong()))
	case OpF2i:
		frame.PushInt(f2i(frame.PopFloat()))
	case OpF2l:
		frame.PushLong(f2l(frame.PopFloat()))
	case OpF2d:
		frame.PushDouble(float64(frame.PopFloat()))
	case OpD2i:
		frame.PushInt(d2i(frame.PopDouble()))
	case OpD2l:
		frame.PushLong(d2l(frame.PopDouble()))
	case OpD2f:
		frame.PushFloat(float32(frame.PopDouble()))
	case OpI2b:
		frame.PushInt(int32(int8(frame.PopInt())))
	case OpI2c:
		frame.PushInt(int32(uint16(frame.PopInt())))
	case OpI2s:
		frame.PushInt(int32(int16(frame.PopInt())))

	// --- Compares ---
	case OpLcmp:
		v2, v1 := frame.PopLong(), frame.PopLong()
		frame.PushInt(cmpOrder(v1 > v2, v1 < v2))
	case OpFcmpl:
		v2, v1 := frame.PopFloat(), frame.PopFloat()
		if isNaN32(v1) || isNaN32(v2) {
			frame.PushInt(-1)
		} else {
			frame.PushInt(cmpOrder(v1 > v2, v1 < v2))
		}
	case OpFcmpg:
		v2, v1 := frame.PopFloat(), frame.PopFloat()
		if isNaN32(v1) || isNaN32(v2) {
			frame.PushInt(1)
		} else {
			frame.PushInt(cmpOrder(v1 > v2, v1 < v2))
		}
	case OpDcmpl:
		v2, v1 := frame.PopDouble(), frame.PopDouble()
		if math.IsNaN(v1) || math.IsNaN(v2) {
			frame.PushInt(-1)
		} else {
			frame.PushInt(cmpOrder(v1 > v2, v1 < v2))
		}
	case OpDcmpg:
		v2, v1 := frame.PopDouble(), frame.PopDouble()
		if math.IsNaN(v1) || math.IsNaN(v2) {
			frame.PushInt(1)
		} else {
			frame.PushInt(cmpOrder(v1 > v2, v1 < v2))
		}

	// --- Branches ---
	case OpIfeq:
		t.branchUnary(frame, func(v int32) bool { return v == 0 })
	case OpIfne:
		t.branchUnary(frame, func(v int32) bool { return v != 0 })
	case OpIflt:
		t.branchUnary(frame, func(v int32) bool { return v < 0 })
	case OpIfge:
		t.branchUnary(frame, func(v int32) bool { return v >= 0 })
	case OpIfgt:
		t.branchUnary(frame, func(v int32) bool { return v > 0 })
	case OpIfle:
		t.branchUnary(frame, func(v int32) bool { return v <= 0 })

	case OpIfIcmpeq:
		t.branchBinary(frame, func(v1, v2 int32) bool { return v1 == v2 })
	case OpIfIcmpne:
		t.branchBinary(frame, func(v1, v2 int32) bool { return v1 != v2 })
	case OpIfIcmplt:
		t.branchBinary(frame, func(v1, v2 int32) bool { return v1 < v2 })
	case OpIfIcmpge:
		t.branchBinary(frame, func(v1, v2 int32) bool { return v1 >= v2 })
	case OpIfIcmpgt:
		t.branchBinary(frame, func(v1, v2 int32) bool { return v1 > v2 })
	case OpIfIcmple:
		t.branchBinary(frame, func(v1, v2 int32) bool { return v1 <= v2 })

	case OpIfAcmpeq:
		t.branchRef(frame, true)
	case OpIfAcmpne:
		t.branchRef(frame, false)

	case OpIfnull:
		branchPC := frame.PC - 1
		offset := frame.ReadI16()
		if frame.Pop().IsNull() {
			frame.PC = branchPC + int(offset)
		}
	case OpIfnonnull:
		branchPC := frame.PC - 1
		offset := frame.ReadI16()
		if !frame.Pop().IsNull() {
			frame.PC = branchPC + int(offset)
		}

	case OpGoto:
		branchPC := frame.PC - 1
		offset := frame.ReadI16()
		frame.PC = branchPC + int(offset)

	case OpTableswitch:
		t.executeTableswitch(frame)
	case OpLookupswitch:
		t.executeLookupswitch(frame)

	// --- Returns ---
	case OpIreturn, OpLreturn, OpFreturn, OpDreturn, OpAreturn:
		return frame.Pop(), true, nil
	case OpReturn:
		return nil, true, nil

	// --- Field access ---
	case OpGetstatic:
		return t.executeGetstatic(frame)
	case OpPutstatic:
		return t.executePutstatic(frame)
	case OpGetfield:
		return t.executeGetfield(frame)
	case OpPutfield:
		return t.executePutfield(frame)

	// --- Invocations ---
	case OpInvokevirtual:
		return t.executeInvokevirtual(frame)
	case OpInvokespecial:
		return t.executeInvokespecial(frame)
	case OpInvokestatic:
		return t.executeInvokestatic(frame)
	case OpInvokeinterface:
		return t.executeInvokeinterface(frame)
	case OpInvokedynamic:
		return nil, false, fmt.Errorf("invokedynamic is not supported (PC=%d)", frame.PC-1)

	// --- Object and array creation ---
	case OpNew:
		return t.executeNew(frame)
	case OpNewarray:
		return t.executeNewarray(frame)
	case OpAnewarray:
		return t.executeAnewarray(frame)
	case OpMultianewarray:
		return t.executeMultianewarray(frame)

	case OpArraylength:
		ref := frame.Pop()
		if ref.IsNull() {
			return nil, false, vm.Throw("java/lang/NullPointerException", "")
		}
		n := ref.ArrayLength()
		if n < 0 {
			return nil, false, fmt.Errorf("arraylength: receiver is not an array")
		}
		frame.PushInt(int32(n))

	case OpAthrow:
		ref := frame.Pop()
		if ref.IsNull() {
			return nil, false, vm.Throw("java/lang/NullPointerException", "")
		}
		if ref.Kind != KindInst {
			return nil, false, fmt.Errorf("athrow: thrown value is not an instance")
		}
		return nil, false, &JavaException{Object: ref, Class: ref.Inst.Class}

	case OpCheckcast:
		index := frame.ReadU16()
		target, err := vm.resolveClassEntry(frame.Class, frame.ConstantPool(), index)
		if err != nil {
			return nil, false, err
		}
		ref := frame.Peek()
		if ref.IsNull() {
			break
		}
		if ref.Kind == KindMirror && target.Name == "java/lang/Class" {
			break
		}
		if !vm.instanceOf(ref, target) {
			return nil, false, vm.Throw("java/lang/ClassCastException",
				fmt.Sprintf("%s cannot be cast to %s", DottedName(componentName(ref)), DottedName(target.Name)))
		}

	case OpInstanceof:
		index := frame.ReadU16()
		target, err := vm.resolveClassEntry(frame.Class, frame.ConstantPool(), index)
		if err != nil {
			return nil, false, err
		}
		ref := frame.Pop()
		if !ref.IsNull() && vm.instanceOf(ref, target) {
			frame.PushInt(1)
		} else {
			frame.PushInt(0)
		}

	case OpMonitorenter:
		ref := frame.Pop()
		if ref.IsNull() {
			return nil, false, vm.Throw("java/lang/NullPointerException", "")
		}
		ref.Monitor.Enter(t.ID)
	case OpMonitorexit:
		ref := frame.Pop()
		if ref.IsNull() {
			return nil, false, vm.Throw("java/lang/NullPointerException", "")
		}
		if !ref.Monitor.Exit(t.ID) {
			return nil, false, vm.Throw("java/lang/IllegalMonitorStateException", "")
		}

	case OpWide:
		frame.Wide = true

	// Deprecated or out of scope: fail loudly rather than misexecute.
	case OpJsr, OpJsrW, OpRet:
		return nil, false, fmt.Errorf("jsr/ret are not supported (opcode 0x%02X at PC=%d)", opcode, frame.PC-1)
	case OpGotoW:
		return nil, false, fmt.Errorf("goto_w is not supported (PC=%d)", frame.PC-1)
	case OpFrem, OpDrem:
		return nil, false, fmt.Errorf("frem/drem are not supported (opcode 0x%02X at PC=%d)", opcode, frame.PC-1)
	case OpFneg, OpDneg:
		return nil, false, fmt.Errorf("fneg/dneg are not supported (opcode 0x%02X at PC=%d)", opcode, frame.PC-1)

	default:
		return nil, false, fmt.Errorf("unknown opcode: 0x%02X at PC=%d", opcode, frame.PC-1)
	}

	return nil, false, nil
}

// cmpOrder maps the (gt, lt) pair of a comparison to the JVM result value:
// +1 when value1 > value2, -1 when value1 < value2, 0 when equal.
func cmpOrder(gt, lt bool) int32 {
	switch {
	case gt:
		return 1
	case lt:
		return -1
	}
	return 0
}

func isNaN32(f float32) bool { return f != f }

// f2i narrows float to int: NaN becomes 0, infinities saturate.
func f2i(f float32) int32 {
	return d2i(float64(f))
}

func d2i(d float64) int32 {
	switch {
	case math.IsNaN(d):
		return 0
	case d >= float64(math.MaxInt32):
		return math.MaxInt32
	case d <= float64(math.MinInt32):
		return math.MinInt32
	}
	return int32(d)
}

func f2l(f float32) int64 {
	return d2l(float64(f))
}

func d2l(d float64) int64 {
	switch {
	case math.IsNaN(d):
		return 0
	case d >= float64(math.MaxInt64):
		return math.MaxInt64
	case d <= float64(math.MinInt64):
		return math.MinInt64
	}
	return int64(d)
}

// branchUnary handles the one-operand int branches (ifeq family).
func (t *Thread) branchUnary(frame *Frame, cond func(int32) bool) {
	branchPC := frame.PC - 1
	offset := frame.ReadI16()
	if cond(frame.PopInt()) {
		frame.PC = branchPC + int(offset)
	}
}

// branchBinary handles the two-operand int branches (if_icmp family).
func (t *Thread) branchBinary(frame *Frame, cond func(int32, int32) bool) {
	branchPC := frame.PC - 1
	offset := frame.ReadI16()
	v2 := frame.PopInt()
	v1 := frame.PopInt()
	if cond(v1, v2) {
		frame.PC = branchPC + int(offset)
	}
}

// branchRef handles if_acmpeq/if_acmpne: reference identity.
func (t *Thread) branchRef(frame *Frame, wantEqual bool) {
	branchPC := frame.PC - 1
	offset := frame.ReadI16()
	v2 := frame.Pop()
	v1 := frame.Pop()
	equal := v1 == v2 || (v1.IsNull() && v2.IsNull())
	if equal == wantEqual {
		frame.PC = branchPC + int(offset)
	}
}

// executeTableswitch aligns the operand stream to 4 bytes after the
// opcode, then indexes the jump table. Targets are relative to the switch
// opcode.
func (t *Thread) executeTableswitch(frame *Frame) {
	switchPC := frame.PC - 1
	frame.PC += (4 - frame.PC%4) % 4
	def := frame.ReadI32()
	low := frame.ReadI32()
	high := frame.ReadI32()
	count := int(high - low + 1)
	offsets := make([]int32, count)
	for i := 0; i < count; i++ {
		offsets[i] = frame.ReadI32()
	}
	index := frame.PopInt()
	if index < low || index > high {
		frame.PC = switchPC + int(def)
		return
	}
	frame.PC = switchPC + int(offsets[index-low])
}

// executeLookupswitch aligns to 4 bytes, then scans the match/offset pairs.
func (t *Thread) executeLookupswitch(frame *Frame) {
	switchPC := frame.PC - 1
	frame.PC += (4 - frame.PC%4) % 4
	def := frame.ReadI32()
	npairs := int(frame.ReadI32())
	matches := make([]int32, npairs)
	offsets := make([]int32, npairs)
	for i := 0; i < npairs; i++ {
		matches[i] = frame.ReadI32()
		offsets[i] = frame.ReadI32()
	}
	key := frame.PopInt()
	for i := 0; i < npairs; i++ {
		if matches[i] == key {
			frame.PC = switchPC + int(offsets[i])
			return
		}
	}
	frame.PC = switchPC + int(def)
}

// executePrimArrayLoad handles iaload/laload/faload/daload/baload/caload/
// saload: pop index then array, check null and bounds, push the widened
// element. baload serves both byte[] and boolean[].
func (t *Thread) executePrimArrayLoad(frame *Frame) (*Oop, bool, error) {
	idx := frame.PopInt()
	ref := frame.Pop()
	if ref.IsNull() {
		return nil, false, t.VM.Throw("java/lang/NullPointerException", "")
	}
	if ref.Kind != KindTypeArray {
		return nil, false, fmt.Errorf("primitive array load: receiver is not a primitive array")
	}
	n := ref.TAry.Len()
	if idx < 0 || int(idx) >= n {
		return nil, false, t.VM.Throw("java/lang/ArrayIndexOutOfBoundsException",
			fmt.Sprintf("length is %d, but index is %d", n, idx))
	}
	frame.Push(ref.TAry.Get(int(idx)))
	return nil, false, nil
}

// executePrimArrayStore pops value, index, array and stores with the
// element-type narrowing.
func (t *Thread) executePrimArrayStore(frame *Frame) (*Oop, bool, error) {
	val := frame.Pop()
	idx := frame.PopInt()
	ref := frame.Pop()
	if ref.IsNull() {
		return nil, false, t.VM.Throw("java/lang/NullPointerException", "")
	}
	if ref.Kind != KindTypeArray {
		return nil, false, fmt.Errorf("primitive array store: receiver is not a primitive array")
	}
	n := ref.TAry.Len()
	if idx < 0 || int(idx) >= n {
		return nil, false, t.VM.Throw("java/lang/ArrayIndexOutOfBoundsException",
			fmt.Sprintf("length is %d, but index is %d", n, idx))
	}
	ref.TAry.Set(int(idx), val)
	return nil, false, nil
}

// executeLdc pushes an int, float, interned string, or class mirror. A
// class constant is loaded and fully initialized before its mirror is
// pushed.
func (t *Thread) executeLdc(frame *Frame, index uint16) (*Oop, bool, error) {
	vm := t.VM
	pool := frame.ConstantPool()
	if int(index) >= len(pool) || pool[index] == nil {
		return nil, false, fmt.Errorf("ldc: invalid constant pool index %d", index)
	}

	switch c := pool[index].(type) {
	case *classfile.ConstantInteger:
		frame.PushInt(c.Value)
	case *classfile.ConstantFloat:
		frame.PushFloat(c.Value)
	case *classfile.ConstantString:
		s, err := classfile.GetUtf8(pool, c.StringIndex)
		if err != nil {
			return nil, false, fmt.Errorf("ldc: resolving string: %w", err)
		}
		frame.Push(vm.InternString(s))
	case *classfile.ConstantClass:
		cls, err := vm.resolveClassEntry(frame.Class, pool, index)
		if err != nil {
			return nil, false, fmt.Errorf("ldc: %w", err)
		}
		if err := vm.InitClassFully(t, cls); err != nil {
			return nil, false, err
		}
		frame.Push(vm.MirrorFor(cls))
	default:
		return nil, false, fmt.Errorf("ldc: unsupported constant pool entry at index %d (tag=%d)", index, pool[index].Tag())
	}
	return nil, false, nil
}

// executeLdc2 pushes a long or double constant.
func (t *Thread) executeLdc2(frame *Frame, index uint16) (*Oop, bool, error) {
	pool := frame.ConstantPool()
	if int(index) >= len(pool) || pool[index] == nil {
		return nil, false, fmt.Errorf("ldc2_w: invalid constant pool index %d", index)
	}
	switch c := pool[index].(type) {
	case *classfile.ConstantLong:
		frame.PushLong(c.Value)
	case *classfile.ConstantDouble:
		frame.PushDouble(c.Value)
	default:
		return nil, false, fmt.Errorf("ldc2_w: constant pool index %d is not Long or Double", index)
	}
	return nil, false, nil
}

// executeNew resolves and fully initializes a class, then allocates a
// zeroed instance.
func (t *Thread) executeNew(frame *Frame) (*Oop, bool, error) {
	vm := t.VM
	index := frame.ReadU16()
	cls, err := vm.resolveClassEntry(frame.Class, frame.ConstantPool(), index)
	if err != nil {
		return nil, false, fmt.Errorf("new: %w", err)
	}
	if cls.IsInterface() || cls.AccessFlags&classfile.AccAbstract != 0 {
		return nil, false, fmt.Errorf("InstantiationError: %s", cls.Name)
	}
	if err := vm.InitClassFully(t, cls); err != nil {
		return nil, false, err
	}
	frame.Push(NewInst(cls))
	return nil, false, nil
}

// newarray atype operand values.
var newarrayTypes = map[uint8]ValueType{
	4:  ValueTypeBoolean,
	5:  ValueTypeChar,
	6:  ValueTypeFloat,
	7:  ValueTypeDouble,
	8:  ValueTypeByte,
	9:  ValueTypeShort,
	10: ValueTypeInt,
	11: ValueTypeLong,
}

// executeNewarray allocates a typed primitive array.
func (t *Thread) executeNewarray(frame *Frame) (*Oop, bool, error) {
	vm := t.VM
	atype := frame.ReadU8()
	elem, ok := newarrayTypes[atype]
	if !ok {
		return nil, false, fmt.Errorf("newarray: invalid atype %d", atype)
	}
	length := frame.PopInt()
	if length < 0 {
		return nil, false, vm.Throw("java/lang/NegativeArraySizeException", fmt.Sprintf("%d", length))
	}
	ary := NewTypeArray(elem, int(length))
	if cls, err := vm.RequireClass("[" + string(elem)); err == nil {
		ary.TAry.Class = cls
	}
	frame.Push(ary)
	return nil, false, nil
}

// executeAnewarray resolves the component class, synthesizes the array
// class, and allocates a reference array.
func (t *Thread) executeAnewarray(frame *Frame) (*Oop, bool, error) {
	vm := t.VM
	index := frame.ReadU16()
	component, err := vm.resolveClassEntry(frame.Class, frame.ConstantPool(), index)
	if err != nil {
		return nil, false, fmt.Errorf("anewarray: %w", err)
	}
	aryCls, err := vm.ArrayClassFor(component)
	if err != nil {
		return nil, false, fmt.Errorf("anewarray: %w", err)
	}
	length := frame.PopInt()
	if length < 0 {
		return nil, false, vm.Throw("java/lang/NegativeArraySizeException", fmt.Sprintf("%d", length))
	}
	frame.Push(NewRefArray(aryCls, int(length)))
	return nil, false, nil
}

// executeMultianewarray allocates and populates a nested array from the
// dimension counts on the stack.
func (t *Thread) executeMultianewarray(frame *Frame) (*Oop, bool, error) {
	vm := t.VM
	index := frame.ReadU16()
	dims := int(frame.ReadU8())
	if dims < 1 {
		return nil, false, fmt.Errorf("multianewarray: invalid dimension count %d", dims)
	}
	aryCls, err := vm.resolveClassEntry(frame.Class, frame.ConstantPool(), index)
	if err != nil {
		return nil, false, fmt.Errorf("multianewarray: %w", err)
	}

	counts := make([]int32, dims)
	for i := dims - 1; i >= 0; i-- {
		counts[i] = frame.PopInt()
	}
	for _, c := range counts {
		if c < 0 {
			return nil, false, vm.Throw("java/lang/NegativeArraySizeException", fmt.Sprintf("%d", c))
		}
	}

	ary, err := vm.allocMultiArray(aryCls, counts)
	if err != nil {
		return nil, false, err
	}
	frame.Push(ary)
	return nil, false, nil
}

// allocMultiArray builds one dimension and recurses into the component
// class for the rest.
func (vm *VM) allocMultiArray(cls *Class, counts []int32) (*Oop, error) {
	length := int(counts[0])
	if cls.Kind == ClassKindTypeArray {
		ary := NewTypeArray(cls.ElemType, length)
		ary.TAry.Class = cls
		return ary, nil
	}
	if cls.Kind != ClassKindObjectArray {
		return nil, fmt.Errorf("multianewarray: %s is not an array class", cls.Name)
	}
	ary := NewRefArray(cls, length)
	if len(counts) > 1 {
		for i := 0; i < length; i++ {
			sub, err := vm.allocMultiArray(cls.Component, counts[1:])
			if err != nil {
				return nil, err
			}
			ary.Ary.Elems[i] = sub
		}
	}
	return ary, nil
}

// componentName names an oop's class for diagnostics.
func componentName(o *Oop) string {
	switch o.Kind {
	case KindInst:
		return o.Inst.Class.Name
	case KindRefArray:
		return o.Ary.Class.Name
	case KindTypeArray:
		if o.TAry.Class != nil {
			return o.TAry.Class.Name
		}
		return "[" + string(o.TAry.ElemType)
	case KindMirror:
		return "java/lang/Class"
	}
	return "<value>"
}

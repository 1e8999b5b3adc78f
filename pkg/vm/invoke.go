package vm

import (
	"fmt"
	"math"
	"strconv"

	"github.com/katsuo/javm/pkg/native"
)

// popArgSlots pops a method's arguments right-to-left from the caller's
// stack and lays them out as callee local slots: wide values occupy two
// slots (second nil). When withReceiver is set, slot 0 is the receiver.
func popArgSlots(frame *Frame, descriptor string, withReceiver bool) ([]*Oop, *Oop, error) {
	argDescs, err := DescriptorArgs(descriptor)
	if err != nil {
		return nil, nil, err
	}
	vals := make([]*Oop, len(argDescs))
	for i := len(argDescs) - 1; i >= 0; i-- {
		vals[i] = frame.Pop()
	}
	var receiver *Oop
	if withReceiver {
		receiver = frame.Pop()
	}

	var slots []*Oop
	if withReceiver {
		slots = append(slots, receiver)
	}
	for _, v := range vals {
		slots = append(slots, v)
		if v.IsWide() {
			slots = append(slots, nil)
		}
	}
	return slots, receiver, nil
}

// pushReturn places a callee's return value on the caller's stack.
func pushReturn(frame *Frame, descriptor string, ret *Oop) {
	if IsVoidReturn(descriptor) {
		return
	}
	if ret == nil {
		frame.PushNull()
		return
	}
	frame.Push(ret)
}

// executeInvokestatic resolves the declared method exactly and runs it;
// the target class is initialized first.
func (t *Thread) executeInvokestatic(frame *Frame) (*Oop, bool, error) {
	vm := t.VM
	index := frame.ReadU16()

	resolved, err := vm.resolveMethodEntry(frame.Class, frame.ConstantPool(), index, false)
	if err != nil {
		return nil, false, fmt.Errorf("invokestatic: %w", err)
	}
	if resolved.Method == nil {
		return nil, false, fmt.Errorf("NoSuchMethodError: %s.%s:%s", resolved.Class.Name, resolved.Name, resolved.Descriptor)
	}
	if err := vm.InitClassFully(t, resolved.Class); err != nil {
		return nil, false, err
	}

	slots, _, err := popArgSlots(frame, resolved.Descriptor, false)
	if err != nil {
		return nil, false, fmt.Errorf("invokestatic: %w", err)
	}

	ret, err := t.InvokeMethod(resolved.Method, slots)
	if err != nil {
		return nil, false, err
	}
	pushReturn(frame, resolved.Descriptor, ret)
	return nil, false, nil
}

// executeInvokespecial dispatches without virtual selection: <init>,
// private methods and super calls.
func (t *Thread) executeInvokespecial(frame *Frame) (*Oop, bool, error) {
	vm := t.VM
	index := frame.ReadU16()

	resolved, err := vm.resolveMethodEntry(frame.Class, frame.ConstantPool(), index, false)
	if err != nil {
		return nil, false, fmt.Errorf("invokespecial: %w", err)
	}
	if resolved.Method == nil {
		return nil, false, fmt.Errorf("NoSuchMethodError: %s.%s:%s", resolved.Class.Name, resolved.Name, resolved.Descriptor)
	}

	slots, receiver, err := popArgSlots(frame, resolved.Descriptor, true)
	if err != nil {
		return nil, false, fmt.Errorf("invokespecial: %w", err)
	}
	if receiver.IsNull() {
		return nil, false, vm.Throw("java/lang/NullPointerException", "")
	}

	ret, err := t.InvokeMethod(resolved.Method, slots)
	if err != nil {
		return nil, false, err
	}
	pushReturn(frame, resolved.Descriptor, ret)
	return nil, false, nil
}

// executeInvokevirtual resolves the declared method, then selects the most
// specific override through the receiver's runtime class.
func (t *Thread) executeInvokevirtual(frame *Frame) (*Oop, bool, error) {
	vm := t.VM
	index := frame.ReadU16()

	resolved, err := vm.resolveMethodEntry(frame.Class, frame.ConstantPool(), index, false)
	if err != nil {
		return nil, false, fmt.Errorf("invokevirtual: %w", err)
	}

	slots, receiver, err := popArgSlots(frame, resolved.Descriptor, true)
	if err != nil {
		return nil, false, fmt.Errorf("invokevirtual: %w", err)
	}

	// Host-backed PrintStream (System.out).
	if !receiver.IsNull() && receiver.Kind == KindInst && receiver.Inst.Host != nil {
		if ps, ok := receiver.Inst.Host.(*native.PrintStream); ok {
			return t.handlePrintStream(frame, ps, resolved.Name, resolved.Descriptor, slots[1:])
		}
	}

	if receiver.IsNull() {
		return nil, false, vm.Throw("java/lang/NullPointerException", "")
	}

	// Array clone: shallow copy, no class-file method behind it.
	if resolved.Name == "clone" && (receiver.Kind == KindRefArray || receiver.Kind == KindTypeArray) {
		frame.Push(cloneArray(receiver))
		return nil, false, nil
	}

	target, err := t.selectVirtual(receiver, resolved)
	if err != nil {
		return nil, false, err
	}

	ret, err := t.InvokeMethod(target, slots)
	if err != nil {
		return nil, false, err
	}
	pushReturn(frame, resolved.Descriptor, ret)
	return nil, false, nil
}

// executeInvokeinterface reads the pool index plus the count and pad
// operands, then selects by receiver runtime class like invokevirtual.
func (t *Thread) executeInvokeinterface(frame *Frame) (*Oop, bool, error) {
	vm := t.VM
	index := frame.ReadU16()
	_ = frame.ReadU8() // count, derivable from the descriptor
	_ = frame.ReadU8() // always zero

	resolved, err := vm.resolveMethodEntry(frame.Class, frame.ConstantPool(), index, true)
	if err != nil {
		return nil, false, fmt.Errorf("invokeinterface: %w", err)
	}

	slots, receiver, err := popArgSlots(frame, resolved.Descriptor, true)
	if err != nil {
		return nil, false, fmt.Errorf("invokeinterface: %w", err)
	}
	if receiver.IsNull() {
		return nil, false, vm.Throw("java/lang/NullPointerException", "")
	}

	target, err := t.selectVirtual(receiver, resolved)
	if err != nil {
		return nil, false, err
	}

	ret, err := t.InvokeMethod(target, slots)
	if err != nil {
		return nil, false, err
	}
	pushReturn(frame, resolved.Descriptor, ret)
	return nil, false, nil
}

// selectVirtual picks the implementation for a virtual or interface call
// from the receiver's runtime class, falling back to the statically
// resolved method for receivers without a hierarchy entry (mirrors).
func (t *Thread) selectVirtual(receiver *Oop, resolved *ResolvedMethod) (*MethodID, error) {
	var rc *Class
	if receiver.Kind == KindMirror {
		cls, err := t.VM.RequireClass("java/lang/Class")
		if err == nil {
			rc = cls
		}
	} else {
		rc = receiver.RuntimeClass()
	}
	if rc != nil {
		if m := rc.LookupMethod(resolved.Name, resolved.Descriptor); m != nil {
			return m, nil
		}
	}
	if resolved.Method != nil {
		return resolved.Method, nil
	}
	return nil, fmt.Errorf("AbstractMethodError: %s.%s:%s", resolved.Class.Name, resolved.Name, resolved.Descriptor)
}

// cloneArray copies an array oop one level deep.
func cloneArray(src *Oop) *Oop {
	if src.Kind == KindRefArray {
		dst := NewRefArray(src.Ary.Class, len(src.Ary.Elems))
		copy(dst.Ary.Elems, src.Ary.Elems)
		return dst
	}
	ta := src.TAry
	dst := NewTypeArray(ta.ElemType, ta.Len())
	dst.TAry.Class = ta.Class
	switch ta.ElemType {
	case ValueTypeBoolean:
		copy(dst.TAry.Bools, ta.Bools)
	case ValueTypeByte:
		copy(dst.TAry.Bytes, ta.Bytes)
	case ValueTypeChar:
		copy(dst.TAry.Chars, ta.Chars)
	case ValueTypeShort:
		copy(dst.TAry.Shorts, ta.Shorts)
	case ValueTypeInt:
		copy(dst.TAry.Ints, ta.Ints)
	case ValueTypeLong:
		copy(dst.TAry.Longs, ta.Longs)
	case ValueTypeFloat:
		copy(dst.TAry.Floats, ta.Floats)
	case ValueTypeDouble:
		copy(dst.TAry.Doubles, ta.Doubles)
	}
	return dst
}

// handlePrintStream services println/print on the host PrintStream backing
// System.out.
func (t *Thread) handlePrintStream(frame *Frame, ps *native.PrintStream, methodName, descriptor string, args []*Oop) (*Oop, bool, error) {
	var s string
	switch descriptor {
	case "()V":
		s = ""
	case "(I)V":
		s = strconv.FormatInt(int64(args[0].I), 10)
	case "(J)V":
		s = strconv.FormatInt(args[0].J, 10)
	case "(F)V":
		s = formatFloat(float64(args[0].F))
	case "(D)V":
		s = formatFloat(args[0].D)
	case "(Z)V":
		if args[0].I != 0 {
			s = "true"
		} else {
			s = "false"
		}
	case "(C)V":
		s = string(rune(args[0].I))
	case "(Ljava/lang/String;)V", "(Ljava/lang/Object;)V":
		if args[0].IsNull() {
			s = "null"
		} else if args[0].Kind == KindInst {
			s = ExtractString(args[0])
			if s == "" && args[0].Inst.Class.Name != "java/lang/String" {
				s = DottedName(args[0].Inst.Class.Name)
			}
		} else {
			s = DottedName(componentName(args[0]))
		}
	default:
		return nil, false, fmt.Errorf("unsupported PrintStream call %s:%s", methodName, descriptor)
	}

	switch methodName {
	case "println":
		ps.Println(s)
	case "print":
		ps.Print(s)
	default:
		return nil, false, fmt.Errorf("unsupported PrintStream method %s:%s", methodName, descriptor)
	}
	return nil, false, nil
}

// formatFloat matches Java's Double.toString for the common cases.
func formatFloat(d float64) string {
	if d == float64(int64(d)) && !math.IsInf(d, 0) {
		return strconv.FormatFloat(d, 'f', 1, 64)
	}
	return strconv.FormatFloat(d, 'f', -1, 64)
}

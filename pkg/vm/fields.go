package vm

import (
	"fmt"

	"github.com/katsuo/javm/pkg/classfile"
	"github.com/katsuo/javm/pkg/native"
)

// executeGetstatic resolves the field, initializes its class, and pushes
// the static slot. java/lang/System.out is served by a host PrintStream.
func (t *Thread) executeGetstatic(frame *Frame) (*Oop, bool, error) {
	vm := t.VM
	index := frame.ReadU16()

	if ref, err := vm.systemOutFor(frame, index); err == nil && ref != nil {
		frame.Push(ref)
		return nil, false, nil
	}

	resolved, err := vm.resolveFieldEntry(frame.Class, frame.ConstantPool(), index, true)
	if err != nil {
		return nil, false, fmt.Errorf("getstatic: %w", err)
	}
	if err := vm.InitClassFully(t, resolved.Field.Class); err != nil {
		return nil, false, err
	}
	frame.Push(resolved.Class.GetStatic(resolved.Field))
	return nil, false, nil
}

// executePutstatic pops a value and stores it, narrowing to the field's
// declared type.
func (t *Thread) executePutstatic(frame *Frame) (*Oop, bool, error) {
	vm := t.VM
	index := frame.ReadU16()

	resolved, err := vm.resolveFieldEntry(frame.Class, frame.ConstantPool(), index, true)
	if err != nil {
		return nil, false, fmt.Errorf("putstatic: %w", err)
	}
	if err := vm.InitClassFully(t, resolved.Field.Class); err != nil {
		return nil, false, err
	}
	v := narrowForField(resolved.Field, frame.Pop())
	resolved.Class.PutStatic(resolved.Field, v)
	return nil, false, nil
}

// executeGetfield pops the receiver and pushes the field slot. Character
// fields read back zero-extended, byte fields sign-extended; the slot
// already holds the narrowed value widened to int.
func (t *Thread) executeGetfield(frame *Frame) (*Oop, bool, error) {
	vm := t.VM
	index := frame.ReadU16()

	resolved, err := vm.resolveFieldEntry(frame.Class, frame.ConstantPool(), index, false)
	if err != nil {
		return nil, false, fmt.Errorf("getfield: %w", err)
	}

	receiver := frame.Pop()
	if receiver.IsNull() {
		return nil, false, vm.Throw("java/lang/NullPointerException", "")
	}
	slots, err := fieldSlots(receiver, resolved)
	if err != nil {
		return nil, false, err
	}
	frame.Push(slots[resolved.Field.SlotIndex])
	return nil, false, nil
}

// executePutfield pops value then receiver and stores with the declared
// type's narrowing.
func (t *Thread) executePutfield(frame *Frame) (*Oop, bool, error) {
	vm := t.VM
	index := frame.ReadU16()

	resolved, err := vm.resolveFieldEntry(frame.Class, frame.ConstantPool(), index, false)
	if err != nil {
		return nil, false, fmt.Errorf("putfield: %w", err)
	}

	value := frame.Pop()
	receiver := frame.Pop()
	if receiver.IsNull() {
		return nil, false, vm.Throw("java/lang/NullPointerException", "")
	}
	slots, err := fieldSlots(receiver, resolved)
	if err != nil {
		return nil, false, err
	}
	slots[resolved.Field.SlotIndex] = narrowForField(resolved.Field, value)
	return nil, false, nil
}

// fieldSlots returns the field-slot vector backing a receiver: instance
// fields, or the lazily allocated field area of a mirror (mirrors are
// java/lang/Class instances with that class's layout).
func fieldSlots(receiver *Oop, resolved *ResolvedField) ([]*Oop, error) {
	switch receiver.Kind {
	case KindInst:
		return receiver.Inst.Fields, nil
	case KindMirror:
		layout := resolved.Field.Class.InstanceFields
		if receiver.Mirror.Fields == nil {
			fields := make([]*Oop, len(layout))
			for i, f := range layout {
				fields[i] = zeroValueFor(f.VType)
			}
			receiver.Mirror.Fields = fields
		}
		return receiver.Mirror.Fields, nil
	}
	return nil, fmt.Errorf("field access: receiver is not an object")
}

// narrowForField applies the declared type's narrowing to a stack value:
// boolean/byte/char/short stay int-kinded but drop the excess bits.
func narrowForField(f *FieldID, v *Oop) *Oop {
	if v == nil || v.Kind != KindInt {
		return v
	}
	switch f.VType {
	case ValueTypeBoolean:
		return NewInt(v.I & 1)
	case ValueTypeByte:
		return NewInt(int32(int8(v.I)))
	case ValueTypeChar:
		return NewInt(int32(uint16(v.I)))
	case ValueTypeShort:
		return NewInt(int32(int16(v.I)))
	}
	return v
}

// systemOutFor intercepts getstatic java/lang/System.out, returning a
// host-backed PrintStream instance (or nil if the ref is something else).
func (vm *VM) systemOutFor(frame *Frame, index uint16) (*Oop, error) {
	pool := frame.ConstantPool()
	ref, err := classfile.ResolveFieldref(pool, index)
	if err != nil {
		return nil, err
	}
	if ref.ClassName != "java/lang/System" || (ref.Name != "out" && ref.Name != "err") {
		return nil, nil
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.systemOut == nil {
		cls, ok := vm.classes["java/io/PrintStream"]
		if !ok {
			cls = &Class{
				Name:    "java/io/PrintStream",
				Kind:    ClassKindInstance,
				Methods: map[string]*MethodID{},
				state:   ClassFullyInitialized,
			}
			vm.classes[cls.Name] = cls
		}
		vm.systemOut = &Oop{
			Kind: KindInst,
			Inst: &Instance{Class: cls, Host: &native.PrintStream{Writer: vm.Stdout}},
		}
	}
	return vm.systemOut, nil
}

package vm

import (
	"fmt"
	"reflect"
)

// registerObjectNatives installs the java.lang.Object natives.
func registerObjectNatives(vm *VM) {
	cls := "java/lang/Object"
	vm.RegisterNative(cls, "registerNatives", "()V", nativeNoop)
	vm.RegisterNative(cls, "hashCode", "()I", func(t *Thread, args []*Oop) (*Oop, error) {
		if args[0].IsNull() {
			return nil, t.VM.Throw("java/lang/NullPointerException", "")
		}
		hash := int32(reflect.ValueOf(args[0]).Pointer() & 0x7FFFFFFF)
		return NewInt(hash), nil
	})
	vm.RegisterNative(cls, "getClass", "()Ljava/lang/Class;", func(t *Thread, args []*Oop) (*Oop, error) {
		receiver := args[0]
		if receiver.IsNull() {
			return nil, t.VM.Throw("java/lang/NullPointerException", "")
		}
		if receiver.Kind == KindMirror {
			classCls, err := t.VM.RequireClass("java/lang/Class")
			if err != nil {
				return nil, err
			}
			return t.VM.MirrorFor(classCls), nil
		}
		rc := receiver.RuntimeClass()
		if rc == nil {
			return nil, fmt.Errorf("getClass: receiver has no runtime class")
		}
		return t.VM.MirrorFor(rc), nil
	})
	vm.RegisterNative(cls, "clone", "()Ljava/lang/Object;", func(t *Thread, args []*Oop) (*Oop, error) {
		receiver := args[0]
		switch receiver.Kind {
		case KindRefArray, KindTypeArray:
			return cloneArray(receiver), nil
		case KindInst:
			fields := make([]*Oop, len(receiver.Inst.Fields))
			copy(fields, receiver.Inst.Fields)
			return &Oop{Kind: KindInst, Inst: &Instance{Class: receiver.Inst.Class, Fields: fields}}, nil
		}
		return nil, t.VM.Throw("java/lang/CloneNotSupportedException", "")
	})
}

// registerSystemNatives installs the java.lang.System natives the core
// needs: arraycopy and the registerNatives hook.
func registerSystemNatives(vm *VM) {
	cls := "java/lang/System"
	vm.RegisterNative(cls, "registerNatives", "()V", nativeNoop)
	vm.RegisterNative(cls, "arraycopy", "(Ljava/lang/Object;ILjava/lang/Object;II)V", nativeArraycopy)
}

// nativeArraycopy implements System.arraycopy for reference and primitive
// arrays of matching element kind.
func nativeArraycopy(t *Thread, args []*Oop) (*Oop, error) {
	src, dest := args[0], args[2]
	srcPos := int(args[1].I)
	destPos := int(args[3].I)
	length := int(args[4].I)

	if src.IsNull() || dest.IsNull() {
		return nil, t.VM.Throw("java/lang/NullPointerException", "")
	}
	if length < 0 || srcPos < 0 || destPos < 0 {
		return nil, t.VM.Throw("java/lang/ArrayIndexOutOfBoundsException", "")
	}

	switch {
	case src.Kind == KindRefArray && dest.Kind == KindRefArray:
		if srcPos+length > len(src.Ary.Elems) || destPos+length > len(dest.Ary.Elems) {
			return nil, t.VM.Throw("java/lang/ArrayIndexOutOfBoundsException", "")
		}
		copy(dest.Ary.Elems[destPos:destPos+length], src.Ary.Elems[srcPos:srcPos+length])
	case src.Kind == KindTypeArray && dest.Kind == KindTypeArray:
		if src.TAry.ElemType != dest.TAry.ElemType {
			return nil, t.VM.Throw("java/lang/ArrayStoreException", "")
		}
		if srcPos+length > src.TAry.Len() || destPos+length > dest.TAry.Len() {
			return nil, t.VM.Throw("java/lang/ArrayIndexOutOfBoundsException", "")
		}
		for i := 0; i < length; i++ {
			dest.TAry.Set(destPos+i, src.TAry.Get(srcPos+i))
		}
	default:
		return nil, t.VM.Throw("java/lang/ArrayStoreException", "")
	}
	return nil, nil
}

// registerStringNatives installs String.intern against the VM intern pool.
func registerStringNatives(vm *VM) {
	vm.RegisterNative("java/lang/String", "intern", "()Ljava/lang/String;", func(t *Thread, args []*Oop) (*Oop, error) {
		if args[0].IsNull() {
			return nil, t.VM.Throw("java/lang/NullPointerException", "")
		}
		return t.VM.InternString(ExtractString(args[0])), nil
	})
}

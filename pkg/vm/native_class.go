package vm

import (
	"fmt"

	"github.com/katsuo/javm/pkg/classfile"
)

// registerClassNatives installs the java.lang.Class reflective queries.
func registerClassNatives(vm *VM) {
	cls := "java/lang/Class"
	vm.RegisterNative(cls, "registerNatives", "()V", nativeNoop)
	vm.RegisterNative(cls, "desiredAssertionStatus0", "(Ljava/lang/Class;)Z", func(t *Thread, args []*Oop) (*Oop, error) {
		return NewInt(0), nil
	})
	vm.RegisterNative(cls, "getPrimitiveClass", "(Ljava/lang/String;)Ljava/lang/Class;", nativeGetPrimitiveClass)
	vm.RegisterNative(cls, "getName0", "()Ljava/lang/String;", nativeClassGetName0)
	vm.RegisterNative(cls, "forName0", "(Ljava/lang/String;ZLjava/lang/ClassLoader;Ljava/lang/Class;)Ljava/lang/Class;", nativeClassForName0)
	vm.RegisterNative(cls, "isPrimitive", "()Z", nativeClassIsPrimitive)
	vm.RegisterNative(cls, "isInterface", "()Z", nativeClassIsInterface)
	vm.RegisterNative(cls, "isArray", "()Z", nativeClassIsArray)
	vm.RegisterNative(cls, "isInstance", "(Ljava/lang/Object;)Z", nativeClassIsInstance)
	vm.RegisterNative(cls, "isAssignableFrom", "(Ljava/lang/Class;)Z", nativeClassIsAssignableFrom)
	vm.RegisterNative(cls, "getModifiers", "()I", nativeClassGetModifiers)
	vm.RegisterNative(cls, "getSuperclass", "()Ljava/lang/Class;", nativeClassGetSuperclass)
	vm.RegisterNative(cls, "getComponentType", "()Ljava/lang/Class;", nativeClassGetComponentType)
	vm.RegisterNative(cls, "getDeclaredFields0", "(Z)[Ljava/lang/reflect/Field;", nativeClassGetDeclaredFields0)
	vm.RegisterNative(cls, "getDeclaredConstructors0", "(Z)[Ljava/lang/reflect/Constructor;", nativeClassGetDeclaredConstructors0)
	vm.RegisterNative(cls, "getEnclosingMethod0", "()[Ljava/lang/Object;", nativeClassGetEnclosingMethod0)
	vm.RegisterNative(cls, "getDeclaringClass0", "()Ljava/lang/Class;", nativeClassGetDeclaringClass0)
}

func nativeNoop(t *Thread, args []*Oop) (*Oop, error) {
	return nil, nil
}

// mirrorArg extracts the Mirror payload of a receiver or argument.
func mirrorArg(o *Oop, what string) (*Mirror, error) {
	if o.IsNull() || o.Kind != KindMirror {
		return nil, fmt.Errorf("%s: expected a java/lang/Class instance", what)
	}
	return o.Mirror, nil
}

// nativeGetPrimitiveClass maps "int", "boolean", ... to the registered
// primitive mirror.
func nativeGetPrimitiveClass(t *Thread, args []*Oop) (*Oop, error) {
	name := ExtractString(args[0])
	sig, ok := primitiveSignatures[name]
	if !ok {
		return nil, fmt.Errorf("getPrimitiveClass: unknown primitive type %q", name)
	}
	if m := t.VM.Mirrors().PrimitiveMirror(sig); m != nil {
		return m, nil
	}
	return NewPrimMirror(ValueType(sig[0])), nil
}

// nativeClassGetName0 returns the dotted class name; primitive mirrors
// answer with the primitive's source name.
func nativeClassGetName0(t *Thread, args []*Oop) (*Oop, error) {
	m, err := mirrorArg(args[0], "getName0")
	if err != nil {
		return nil, err
	}
	if m.Target == nil {
		return t.VM.InternString(m.VType.PrimitiveName()), nil
	}
	return t.VM.InternString(DottedName(m.Target.Name)), nil
}

// nativeClassForName0 loads a class by dotted name; unknown names raise
// ClassNotFoundException.
func nativeClassForName0(t *Thread, args []*Oop) (*Oop, error) {
	name := ExtractString(args[0])
	if name == "" {
		return nil, t.VM.Throw("java/lang/NullPointerException", "")
	}
	cls, err := t.VM.RequireClass(InternalName(name))
	if err != nil {
		return nil, t.VM.Throw("java/lang/ClassNotFoundException", name)
	}
	if err := t.VM.InitClassFully(t, cls); err != nil {
		return nil, err
	}
	return t.VM.MirrorFor(cls), nil
}

func nativeClassIsPrimitive(t *Thread, args []*Oop) (*Oop, error) {
	m, err := mirrorArg(args[0], "isPrimitive")
	if err != nil {
		return nil, err
	}
	if m.Target == nil {
		return NewInt(1), nil
	}
	return NewInt(0), nil
}

func nativeClassIsInterface(t *Thread, args []*Oop) (*Oop, error) {
	m, err := mirrorArg(args[0], "isInterface")
	if err != nil {
		return nil, err
	}
	if m.Target != nil && m.Target.IsInterface() {
		return NewInt(1), nil
	}
	return NewInt(0), nil
}

func nativeClassIsArray(t *Thread, args []*Oop) (*Oop, error) {
	m, err := mirrorArg(args[0], "isArray")
	if err != nil {
		return nil, err
	}
	if m.Target != nil && m.Target.IsArray() {
		return NewInt(1), nil
	}
	return NewInt(0), nil
}

func nativeClassIsInstance(t *Thread, args []*Oop) (*Oop, error) {
	m, err := mirrorArg(args[0], "isInstance")
	if err != nil {
		return nil, err
	}
	obj := args[1]
	if m.Target == nil || obj.IsNull() {
		return NewInt(0), nil
	}
	if t.VM.instanceOf(obj, m.Target) {
		return NewInt(1), nil
	}
	return NewInt(0), nil
}

func nativeClassIsAssignableFrom(t *Thread, args []*Oop) (*Oop, error) {
	m, err := mirrorArg(args[0], "isAssignableFrom")
	if err != nil {
		return nil, err
	}
	if args[1].IsNull() {
		return nil, t.VM.Throw("java/lang/NullPointerException", "")
	}
	other, err := mirrorArg(args[1], "isAssignableFrom")
	if err != nil {
		return nil, err
	}
	// Primitive mirrors are assignable only from themselves.
	if m.Target == nil || other.Target == nil {
		if m.Target == nil && other.Target == nil && m.VType == other.VType {
			return NewInt(1), nil
		}
		return NewInt(0), nil
	}
	if m.Target.IsAssignableFrom(other.Target) {
		return NewInt(1), nil
	}
	return NewInt(0), nil
}

func nativeClassGetModifiers(t *Thread, args []*Oop) (*Oop, error) {
	m, err := mirrorArg(args[0], "getModifiers")
	if err != nil {
		return nil, err
	}
	if m.Target == nil {
		return NewInt(classfile.AccPublic | classfile.AccFinal | classfile.AccAbstract), nil
	}
	return NewInt(int32(m.Target.AccessFlags)), nil
}

func nativeClassGetSuperclass(t *Thread, args []*Oop) (*Oop, error) {
	m, err := mirrorArg(args[0], "getSuperclass")
	if err != nil {
		return nil, err
	}
	if m.Target == nil || m.Target.Super == nil || m.Target.IsInterface() {
		return NewNull(), nil
	}
	return t.VM.MirrorFor(m.Target.Super), nil
}

// nativeClassGetComponentType answers the element mirror for arrays and
// null for everything else (primitives included).
func nativeClassGetComponentType(t *Thread, args []*Oop) (*Oop, error) {
	m, err := mirrorArg(args[0], "getComponentType")
	if err != nil {
		return nil, err
	}
	if m.Target == nil {
		return NewNull(), nil
	}
	switch m.Target.Kind {
	case ClassKindObjectArray:
		return t.VM.MirrorFor(m.Target.Component), nil
	case ClassKindTypeArray:
		if pm := t.VM.Mirrors().PrimitiveMirror(string(m.Target.ElemType)); pm != nil {
			return pm, nil
		}
		return NewPrimMirror(m.Target.ElemType), nil
	}
	return NewNull(), nil
}

// nativeClassGetDeclaredFields0 builds java/lang/reflect/Field instances
// for the class's declared fields, populating slot, name, and clazz.
func nativeClassGetDeclaredFields0(t *Thread, args []*Oop) (*Oop, error) {
	m, err := mirrorArg(args[0], "getDeclaredFields0")
	if err != nil {
		return nil, err
	}
	fieldCls, err := t.VM.RequireClass("java/lang/reflect/Field")
	if err != nil {
		return nil, err
	}
	aryCls, err := t.VM.ArrayClassFor(fieldCls)
	if err != nil {
		return nil, err
	}

	var declared []*FieldID
	if m.Target != nil {
		for _, f := range m.Target.InstanceFields {
			if f.Class == m.Target {
				declared = append(declared, f)
			}
		}
		declared = append(declared, m.Target.StaticFields...)
	}

	ary := NewRefArray(aryCls, len(declared))
	for i, f := range declared {
		fo := NewInst(fieldCls)
		setInstField(fo, "clazz", "Ljava/lang/Class;", args[0])
		setInstField(fo, "name", "Ljava/lang/String;", t.VM.InternString(f.Name))
		setInstField(fo, "modifiers", "I", NewInt(int32(f.AccessFlags)))
		setInstField(fo, "slot", "I", NewInt(int32(f.SlotIndex)))
		ary.Ary.Elems[i] = fo
	}
	return ary, nil
}

// nativeClassGetDeclaredConstructors0 builds Constructor instances for the
// class's <init> methods.
func nativeClassGetDeclaredConstructors0(t *Thread, args []*Oop) (*Oop, error) {
	m, err := mirrorArg(args[0], "getDeclaredConstructors0")
	if err != nil {
		return nil, err
	}
	ctorCls, err := t.VM.RequireClass("java/lang/reflect/Constructor")
	if err != nil {
		return nil, err
	}
	aryCls, err := t.VM.ArrayClassFor(ctorCls)
	if err != nil {
		return nil, err
	}

	var ctors []*MethodID
	if m.Target != nil {
		for _, method := range m.Target.Methods {
			if method.Name == "<init>" {
				ctors = append(ctors, method)
			}
		}
	}

	ary := NewRefArray(aryCls, len(ctors))
	for i, c := range ctors {
		co := NewInst(ctorCls)
		setInstField(co, "clazz", "Ljava/lang/Class;", args[0])
		setInstField(co, "modifiers", "I", NewInt(int32(c.AccessFlags)))
		setInstField(co, "signature", "Ljava/lang/String;", t.VM.InternString(c.Descriptor))
		ary.Ary.Elems[i] = co
	}
	return ary, nil
}

// nativeClassGetEnclosingMethod0 answers [declaringClass, name, descriptor]
// or null when the class has no EnclosingMethod attribute.
func nativeClassGetEnclosingMethod0(t *Thread, args []*Oop) (*Oop, error) {
	m, err := mirrorArg(args[0], "getEnclosingMethod0")
	if err != nil {
		return nil, err
	}
	if m.Target == nil || m.Target.EnclosingMethod == nil || m.Target.ClassFile == nil {
		return NewNull(), nil
	}
	em := m.Target.EnclosingMethod
	pool := m.Target.ClassFile.ConstantPool

	encName, err := classfile.GetClassName(pool, em.ClassIndex)
	if err != nil {
		return NewNull(), nil
	}
	encCls, err := t.VM.RequireClass(encName)
	if err != nil {
		return nil, err
	}

	objCls, err := t.VM.RequireClass("java/lang/Object")
	if err != nil {
		return nil, err
	}
	aryCls, err := t.VM.ArrayClassFor(objCls)
	if err != nil {
		return nil, err
	}
	out := NewRefArray(aryCls, 3)
	out.Ary.Elems[0] = t.VM.MirrorFor(encCls)
	if em.MethodIndex != 0 {
		if nat, ok := pool[em.MethodIndex].(*classfile.ConstantNameAndType); ok {
			if name, err := classfile.GetUtf8(pool, nat.NameIndex); err == nil {
				out.Ary.Elems[1] = t.VM.InternString(name)
			}
			if desc, err := classfile.GetUtf8(pool, nat.DescriptorIndex); err == nil {
				out.Ary.Elems[2] = t.VM.InternString(desc)
			}
		}
	}
	return out, nil
}

// nativeClassGetDeclaringClass0 consults the InnerClasses attribute.
func nativeClassGetDeclaringClass0(t *Thread, args []*Oop) (*Oop, error) {
	m, err := mirrorArg(args[0], "getDeclaringClass0")
	if err != nil {
		return nil, err
	}
	if m.Target == nil || m.Target.ClassFile == nil {
		return NewNull(), nil
	}
	cf := m.Target.ClassFile
	for _, ic := range m.Target.InnerClasses {
		if ic.InnerClassInfoIndex == 0 || ic.OuterClassInfoIndex == 0 {
			continue
		}
		innerName, err := classfile.GetClassName(cf.ConstantPool, ic.InnerClassInfoIndex)
		if err != nil || innerName != m.Target.Name {
			continue
		}
		outerName, err := classfile.GetClassName(cf.ConstantPool, ic.OuterClassInfoIndex)
		if err != nil {
			continue
		}
		outer, err := t.VM.RequireClass(outerName)
		if err != nil {
			return nil, err
		}
		return t.VM.MirrorFor(outer), nil
	}
	return NewNull(), nil
}

// setInstField assigns a field by name if the class declares it; reflection
// shells without the field just skip the assignment.
func setInstField(inst *Oop, name, descriptor string, v *Oop) {
	fid := inst.Inst.Class.LookupInstanceField(name, descriptor)
	if fid == nil {
		return
	}
	inst.Inst.Fields[fid.SlotIndex] = v
}

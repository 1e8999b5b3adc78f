package vm

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"

	"github.com/katsuo/javm/pkg/classfile"
)

// newTestVM builds a VM with no class path and a captured stdout. Classes
// are registered directly by the tests.
func newTestVM() (*VM, *bytes.Buffer) {
	v := NewVM(nil)
	var buf bytes.Buffer
	v.Stdout = &buf
	v.Logger = zerolog.Nop()
	return v, &buf
}

// defineTestClass registers a synthetic instance class with a flattened
// field layout inherited from super.
func defineTestClass(v *VM, name string, super *Class) *Class {
	cls := &Class{
		Name:    name,
		Kind:    ClassKindInstance,
		Super:   super,
		Methods: map[string]*MethodID{},
		state:   ClassFullyInitialized,
	}
	if super != nil {
		cls.InstanceFields = append(cls.InstanceFields, super.InstanceFields...)
	}
	v.RegisterClass(cls)
	return cls
}

// addInstanceField appends a field to a synthetic class's layout.
func addInstanceField(cls *Class, name, desc string) *FieldID {
	vt, _ := ValueTypeFromDescriptor(desc)
	fid := &FieldID{
		Class:      cls,
		Name:       name,
		Descriptor: desc,
		VType:      vt,
		SlotIndex:  len(cls.InstanceFields),
	}
	cls.InstanceFields = append(cls.InstanceFields, fid)
	return fid
}

// registerThrowables registers the exception hierarchy and the string and
// mirror backing classes that interpreter-raised exceptions rely on.
func registerThrowables(v *VM) *Class {
	object := defineTestClass(v, "java/lang/Object", nil)
	defineTestClass(v, "java/lang/Class", object)

	str := defineTestClass(v, "java/lang/String", object)
	addInstanceField(str, "value", "[C")

	throwable := defineTestClass(v, "java/lang/Throwable", object)
	addInstanceField(throwable, "detailMessage", "Ljava/lang/String;")

	exception := defineTestClass(v, "java/lang/Exception", throwable)
	runtime := defineTestClass(v, "java/lang/RuntimeException", exception)
	for _, name := range []string{
		"java/lang/ArithmeticException",
		"java/lang/NullPointerException",
		"java/lang/ClassCastException",
		"java/lang/ArrayStoreException",
		"java/lang/NegativeArraySizeException",
		"java/lang/IllegalMonitorStateException",
	} {
		defineTestClass(v, name, runtime)
	}
	indexOOB := defineTestClass(v, "java/lang/IndexOutOfBoundsException", runtime)
	defineTestClass(v, "java/lang/ArrayIndexOutOfBoundsException", indexOOB)
	defineTestClass(v, "java/lang/ClassNotFoundException", exception)
	return object
}

// poolBuilder assembles a 1-indexed constant pool for synthetic classes.
type poolBuilder struct {
	entries []classfile.ConstantPoolEntry
}

func newPoolBuilder() *poolBuilder {
	return &poolBuilder{entries: []classfile.ConstantPoolEntry{nil}}
}

func (p *poolBuilder) add(e classfile.ConstantPoolEntry) uint16 {
	p.entries = append(p.entries, e)
	return uint16(len(p.entries) - 1)
}

func (p *poolBuilder) utf8(s string) uint16 {
	return p.add(&classfile.ConstantUtf8{Value: s})
}

func (p *poolBuilder) class(name string) uint16 {
	return p.add(&classfile.ConstantClass{NameIndex: p.utf8(name)})
}

func (p *poolBuilder) nameAndType(name, desc string) uint16 {
	return p.add(&classfile.ConstantNameAndType{NameIndex: p.utf8(name), DescriptorIndex: p.utf8(desc)})
}

func (p *poolBuilder) fieldref(cls, name, desc string) uint16 {
	return p.add(&classfile.ConstantFieldref{ClassIndex: p.class(cls), NameAndTypeIndex: p.nameAndType(name, desc)})
}

func (p *poolBuilder) methodref(cls, name, desc string) uint16 {
	return p.add(&classfile.ConstantMethodref{ClassIndex: p.class(cls), NameAndTypeIndex: p.nameAndType(name, desc)})
}

func (p *poolBuilder) interfaceMethodref(cls, name, desc string) uint16 {
	return p.add(&classfile.ConstantInterfaceMethodref{ClassIndex: p.class(cls), NameAndTypeIndex: p.nameAndType(name, desc)})
}

func (p *poolBuilder) integer(v int32) uint16 {
	return p.add(&classfile.ConstantInteger{Value: v})
}

func (p *poolBuilder) long(v int64) uint16 {
	idx := p.add(&classfile.ConstantLong{Value: v})
	p.entries = append(p.entries, nil) // second slot
	return idx
}

func (p *poolBuilder) str(s string) uint16 {
	return p.add(&classfile.ConstantString{StringIndex: p.utf8(s)})
}

// testMethod describes one method of a synthetic classfile-backed class.
type testMethod struct {
	name       string
	descriptor string
	flags      uint16
	maxLocals  uint16
	maxStack   uint16
	code       []byte
	handlers   []classfile.ExceptionHandler
}

// buildClass links and registers a class backed by a hand-assembled
// constant pool, so resolution-driven instructions run for real.
func buildClass(t *testing.T, v *VM, name string, super *Class, pool *poolBuilder, fields []classfile.FieldInfo, methods []testMethod) *Class {
	t.Helper()

	cf := &classfile.ClassFile{
		MajorVersion: 52,
		ConstantPool: pool.entries,
		Fields:       fields,
	}
	for _, m := range methods {
		mi := classfile.MethodInfo{
			AccessFlags: m.flags,
			Name:        m.name,
			Descriptor:  m.descriptor,
		}
		if m.code != nil {
			mi.Code = &classfile.CodeAttribute{
				MaxStack:          m.maxStack,
				MaxLocals:         m.maxLocals,
				Code:              m.code,
				ExceptionHandlers: m.handlers,
			}
		}
		cf.Methods = append(cf.Methods, mi)
	}

	cls := &Class{
		Name:      name,
		Kind:      ClassKindInstance,
		ClassFile: cf,
		Super:     super,
	}
	if err := cls.linkFromClassFile(); err != nil {
		t.Fatalf("linking %s: %v", name, err)
	}
	cls.state = ClassLinked
	v.RegisterClass(cls)
	return cls
}

// u16 splits a big-endian operand for test bytecode.
func u16(v uint16) (byte, byte) {
	return byte(v >> 8), byte(v)
}

// runRawCode executes bytecode in a raw frame on a fresh thread and
// returns the frame loop's result.
func runRawCode(t *testing.T, v *VM, code []byte, maxLocals, maxStack uint16, locals ...*Oop) (*Oop, error) {
	t.Helper()
	frame := newRawFrame(maxLocals, maxStack, code, nil)
	for i, l := range locals {
		if l != nil {
			frame.SetLocal(i, l)
		}
	}
	th := v.NewThread()
	return th.runFrame(frame)
}

// executeAndGetInt runs bytecode that must end in ireturn and returns the
// int result. Optional locals are set as int32 values starting at index 0.
func executeAndGetInt(t *testing.T, code []byte, locals ...int32) int32 {
	t.Helper()
	v, _ := newTestVM()
	oops := make([]*Oop, len(locals))
	for i, l := range locals {
		oops[i] = NewInt(l)
	}
	ret, err := runRawCode(t, v, code, uint16(max(len(locals), 4)), 10, oops...)
	if err != nil {
		t.Fatalf("execution error: %v", err)
	}
	if ret == nil || ret.Kind != KindInt {
		t.Fatalf("bytecode did not return an int (missing ireturn?)")
	}
	return ret.I
}

// assertThrows runs bytecode expecting a guest exception of the named
// class and returns it.
func assertThrows(t *testing.T, v *VM, code []byte, maxLocals, maxStack uint16, wantClass string, locals ...*Oop) *JavaException {
	t.Helper()
	_, err := runRawCode(t, v, code, maxLocals, maxStack, locals...)
	if err == nil {
		t.Fatalf("expected %s, got no error", wantClass)
	}
	exc, ok := err.(*JavaException)
	if !ok {
		t.Fatalf("expected %s, got host error: %v", wantClass, err)
	}
	if exc.Class == nil || exc.Class.Name != wantClass {
		t.Fatalf("expected %s, got %v", wantClass, err)
	}
	return exc
}

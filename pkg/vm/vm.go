package vm

import (
	"fmt"
	"io"
	"os"
	"sync"
	"unicode/utf16"

	"github.com/rs/zerolog"

	"github.com/katsuo/javm/pkg/classfile"
)

// VM owns the process-wide registries: loaded classes, the mirror
// subsystem, the string intern pool and the native-method table. Threads
// share one VM; each thread runs its own frame stack.
type VM struct {
	mu sync.Mutex

	ClassPath ClassLoader
	Stdout    io.Writer
	Logger    zerolog.Logger

	classes   map[string]*Class
	mirrors   *MirrorRegistry
	strings   map[string]*Oop
	natives   map[string]NativeFunc
	systemOut *Oop

	nextThreadID int64
}

// NewVM creates a VM reading class bytes through the given loader chain.
func NewVM(cl ClassLoader) *VM {
	vm := &VM{
		ClassPath: cl,
		Stdout:    os.Stdout,
		Logger:    zerolog.New(os.Stderr).Level(zerolog.WarnLevel).With().Timestamp().Logger(),
		classes:   make(map[string]*Class),
		mirrors:   newMirrorRegistry(),
		strings:   make(map[string]*Oop),
		natives:   make(map[string]NativeFunc),
	}
	registerNatives(vm)
	return vm
}

// NewThread creates a thread running on this VM.
func (vm *VM) NewThread() *Thread {
	vm.mu.Lock()
	vm.nextThreadID++
	id := vm.nextThreadID
	vm.mu.Unlock()
	return &Thread{VM: vm, ID: id}
}

// Execute loads the main class, fully initializes it, and runs
// main(String[]) on a fresh thread. An uncaught guest exception prints its
// stack trace and is returned as an error.
func (vm *VM) Execute(mainClassName string) error {
	t := vm.NewThread()

	cls, err := vm.RequireClass(mainClassName)
	if err != nil {
		return err
	}
	if err := vm.InitClassFully(t, cls); err != nil {
		if exc, ok := err.(*JavaException); ok {
			t.PrintStackTrace(exc)
		}
		return err
	}

	main := cls.FindMethod("main", "([Ljava/lang/String;)V")
	if main == nil {
		return fmt.Errorf("main method not found in %s", mainClassName)
	}

	_, err = t.InvokeMethod(main, []*Oop{NewNull()})
	if exc, ok := err.(*JavaException); ok {
		t.PrintStackTrace(exc)
	}
	return err
}

// LookupClass returns an already-registered class without loading.
func (vm *VM) LookupClass(name string) (*Class, bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	cls, ok := vm.classes[name]
	return cls, ok
}

// RegisterClass inserts a pre-built class into the registry. Used by the
// bootstrap and by tests that synthesize classes without class files.
func (vm *VM) RegisterClass(cls *Class) {
	vm.mu.Lock()
	vm.classes[cls.Name] = cls
	vm.mu.Unlock()
	vm.mirrors.createMirror(vm, cls)
}

// RequireClass returns the class identified by a JVM internal name
// (java/lang/String, [I, [Ljava/lang/Object;), loading and linking it if
// not already resolved.
func (vm *VM) RequireClass(name string) (*Class, error) {
	vm.mu.Lock()
	if cls, ok := vm.classes[name]; ok {
		vm.mu.Unlock()
		return cls, nil
	}
	vm.mu.Unlock()

	if len(name) == 0 {
		return nil, fmt.Errorf("empty class name")
	}
	if name[0] == '[' {
		return vm.requireArrayClass(name)
	}
	return vm.loadInstanceClass(name)
}

// loadInstanceClass parses the class bytes, links super and interfaces
// first, lays out fields and methods, and registers the result.
func (vm *VM) loadInstanceClass(name string) (*Class, error) {
	if vm.ClassPath == nil {
		return nil, fmt.Errorf("class %s not found: no class path", name)
	}
	cf, err := vm.ClassPath.LoadClass(name)
	if err != nil {
		return nil, err
	}

	cls := &Class{
		Name:        name,
		AccessFlags: cf.AccessFlags,
		Kind:        ClassKindInstance,
		ClassFile:   cf,
		state:       ClassAllocated,
	}

	if superName := cf.SuperClassName(); superName != "" {
		super, err := vm.RequireClass(superName)
		if err != nil {
			return nil, fmt.Errorf("loading super of %s: %w", name, err)
		}
		cls.Super = super
	}
	for _, ifIdx := range cf.Interfaces {
		ifName, err := classfile.GetClassName(cf.ConstantPool, ifIdx)
		if err != nil {
			return nil, fmt.Errorf("resolving interface of %s: %w", name, err)
		}
		iface, err := vm.RequireClass(ifName)
		if err != nil {
			return nil, fmt.Errorf("loading interface %s of %s: %w", ifName, name, err)
		}
		cls.Interfaces = append(cls.Interfaces, iface)
	}

	if err := cls.linkFromClassFile(); err != nil {
		return nil, err
	}
	cls.state = ClassLinked

	vm.mu.Lock()
	if existing, ok := vm.classes[name]; ok {
		// Another thread raced us; keep the first registration.
		vm.mu.Unlock()
		return existing, nil
	}
	vm.classes[name] = cls
	vm.mu.Unlock()

	vm.Logger.Trace().Str("class", name).Msg("class linked")
	vm.mirrors.createMirror(vm, cls)
	return cls, nil
}

// requireArrayClass synthesizes an array class from its descriptor name:
// [I is a primitive array, [Lpkg/Name; and [[... are object arrays. The
// super of every array class is java/lang/Object.
func (vm *VM) requireArrayClass(name string) (*Class, error) {
	if len(name) < 2 {
		return nil, fmt.Errorf("invalid array class name %q", name)
	}

	cls := &Class{
		Name:  name,
		state: ClassLinked,
	}

	switch name[1] {
	case 'B', 'Z', 'C', 'S', 'I', 'J', 'F', 'D':
		if len(name) != 2 {
			return nil, fmt.Errorf("invalid array class name %q", name)
		}
		cls.Kind = ClassKindTypeArray
		cls.ElemType = ValueType(name[1])
	case 'L':
		if name[len(name)-1] != ';' {
			return nil, fmt.Errorf("invalid array class name %q", name)
		}
		component, err := vm.RequireClass(name[2 : len(name)-1])
		if err != nil {
			return nil, err
		}
		cls.Kind = ClassKindObjectArray
		cls.Component = component
	case '[':
		component, err := vm.RequireClass(name[1:])
		if err != nil {
			return nil, err
		}
		cls.Kind = ClassKindObjectArray
		cls.Component = component
	default:
		return nil, fmt.Errorf("invalid array class name %q", name)
	}

	if obj, err := vm.RequireClass("java/lang/Object"); err == nil {
		cls.Super = obj
	}

	vm.mu.Lock()
	if existing, ok := vm.classes[name]; ok {
		vm.mu.Unlock()
		return existing, nil
	}
	vm.classes[name] = cls
	vm.mu.Unlock()

	vm.mirrors.createMirror(vm, cls)
	return cls, nil
}

// ArrayClassFor returns the [C... class whose component is the given
// class, synthesizing its descriptor name.
func (vm *VM) ArrayClassFor(component *Class) (*Class, error) {
	var name string
	if component.Kind == ClassKindInstance {
		name = "[L" + component.Name + ";"
	} else {
		name = "[" + component.Name
	}
	return vm.RequireClass(name)
}

// InitClassFully brings a class to FullyInitialized: super first, then the
// class's <clinit>, exactly once. A thread re-entering a class it is
// currently initializing proceeds; other threads block until done.
func (vm *VM) InitClassFully(t *Thread, cls *Class) error {
	if cls.Super != nil {
		if err := vm.InitClassFully(t, cls.Super); err != nil {
			return err
		}
	}

	cls.mu.Lock()
	for {
		switch cls.state {
		case ClassFullyInitialized:
			cls.mu.Unlock()
			return nil
		case ClassInitError:
			cls.mu.Unlock()
			return vm.Throw("java/lang/NoClassDefFoundError", DottedName(cls.Name))
		case ClassBeingInitialized:
			if cls.initThreadID == t.ID {
				cls.mu.Unlock()
				return nil
			}
			if cls.initDone == nil {
				cls.initDone = sync.NewCond(&cls.mu)
			}
			cls.initDone.Wait()
			continue
		}
		break
	}
	cls.state = ClassBeingInitialized
	cls.initThreadID = t.ID
	cls.mu.Unlock()

	err := vm.runClinit(t, cls)

	cls.mu.Lock()
	if err != nil {
		cls.state = ClassInitError
	} else {
		cls.state = ClassFullyInitialized
	}
	cls.initThreadID = 0
	if cls.initDone != nil {
		cls.initDone.Broadcast()
	}
	cls.mu.Unlock()

	return err
}

// runClinit applies ConstantValue defaults to static fields and executes
// <clinit> if present.
func (vm *VM) runClinit(t *Thread, cls *Class) error {
	if cls.ClassFile != nil {
		for _, f := range cls.StaticFields {
			if f.ConstantValueIndex == 0 {
				continue
			}
			v, err := vm.constantValue(cls, f.ConstantValueIndex)
			if err != nil {
				return fmt.Errorf("ConstantValue of %s.%s: %w", cls.Name, f.Name, err)
			}
			cls.PutStatic(f, v)
		}
	}

	clinit := cls.FindMethod("<clinit>", "()V")
	if clinit == nil {
		return nil
	}
	vm.Logger.Trace().Str("class", cls.Name).Msg("running <clinit>")
	_, err := t.InvokeMethod(clinit, nil)
	if err != nil {
		if _, ok := err.(*JavaException); ok {
			return err
		}
		return fmt.Errorf("error in <clinit> of %s: %w", cls.Name, err)
	}
	return nil
}

// constantValue materializes a ConstantValue attribute's pool entry.
func (vm *VM) constantValue(cls *Class, index uint16) (*Oop, error) {
	pool := cls.ClassFile.ConstantPool
	if int(index) >= len(pool) || pool[index] == nil {
		return nil, fmt.Errorf("invalid constant pool index %d", index)
	}
	switch c := pool[index].(type) {
	case *classfile.ConstantInteger:
		return NewInt(c.Value), nil
	case *classfile.ConstantFloat:
		return NewFloat(c.Value), nil
	case *classfile.ConstantLong:
		return NewLong(c.Value), nil
	case *classfile.ConstantDouble:
		return NewDouble(c.Value), nil
	case *classfile.ConstantString:
		s, err := classfile.GetUtf8(pool, c.StringIndex)
		if err != nil {
			return nil, err
		}
		return vm.InternString(s), nil
	default:
		return nil, fmt.Errorf("unsupported ConstantValue tag %d", pool[index].Tag())
	}
}

// InternString returns the canonical java/lang/String oop for a Go string,
// creating it on first use. The instance's value field holds the UTF-16
// code units as a char array.
func (vm *VM) InternString(s string) *Oop {
	vm.mu.Lock()
	if oop, ok := vm.strings[s]; ok {
		vm.mu.Unlock()
		return oop
	}
	vm.mu.Unlock()

	strCls, err := vm.RequireClass("java/lang/String")
	if err != nil {
		strCls = vm.shellStringClass()
	}
	oop := NewInst(strCls)
	if fid := strCls.LookupInstanceField("value", "[C"); fid != nil {
		chars := utf16Units(s)
		ary := NewTypeArray(ValueTypeChar, len(chars))
		copy(ary.TAry.Chars, chars)
		oop.Inst.Fields[fid.SlotIndex] = ary
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if existing, ok := vm.strings[s]; ok {
		return existing
	}
	vm.strings[s] = oop
	return oop
}

// shellStringClass synthesizes a minimal java/lang/String when the runtime
// library is absent (unit tests, bare class paths).
func (vm *VM) shellStringClass() *Class {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if cls, ok := vm.classes["java/lang/String"]; ok {
		return cls
	}
	cls := &Class{
		Name: "java/lang/String",
		Kind: ClassKindInstance,
		InstanceFields: []*FieldID{{
			Name:       "value",
			Descriptor: "[C",
			VType:      ValueTypeArray,
		}},
		Methods: map[string]*MethodID{},
		state:   ClassFullyInitialized,
	}
	cls.InstanceFields[0].Class = cls
	vm.classes["java/lang/String"] = cls
	return cls
}

// ExtractString reads the Go string out of a java/lang/String oop.
func ExtractString(oop *Oop) string {
	if oop.IsNull() || oop.Kind != KindInst {
		return ""
	}
	fid := oop.Inst.Class.LookupInstanceField("value", "[C")
	if fid == nil {
		return ""
	}
	v := oop.Inst.Fields[fid.SlotIndex]
	if v.IsNull() || v.Kind != KindTypeArray || v.TAry.ElemType != ValueTypeChar {
		return ""
	}
	return stringFromUTF16(v.TAry.Chars)
}

// utf16Units encodes a Go string as UTF-16 code units.
func utf16Units(s string) []uint16 {
	return utf16.Encode([]rune(s))
}

// stringFromUTF16 decodes UTF-16 code units into a Go string.
func stringFromUTF16(units []uint16) string {
	return string(utf16.Decode(units))
}

// instanceOf implements the instanceof/checkcast relation for a runtime
// value: null matches nothing; mirrors match java/lang/Class; everything
// else consults the class hierarchy.
func (vm *VM) instanceOf(oop *Oop, target *Class) bool {
	if oop.IsNull() {
		return false
	}
	if oop.Kind == KindMirror {
		return target.Name == "java/lang/Class" || target.Name == "java/lang/Object"
	}
	rc := oop.RuntimeClass()
	if rc == nil {
		return false
	}
	return target.IsAssignableFrom(rc)
}

package vm

import "fmt"

// JavaException is a guest exception in flight: a Go error carrying the
// thrown oop while frames unwind.
type JavaException struct {
	Object *Oop
	Class  *Class
}

func (e *JavaException) Error() string {
	name := "java/lang/Throwable"
	if e.Class != nil {
		name = e.Class.Name
	}
	if msg := e.Message(); msg != "" {
		return fmt.Sprintf("JavaException: %s: %s", name, msg)
	}
	return fmt.Sprintf("JavaException: %s", name)
}

// Message returns the exception's detailMessage, or "".
func (e *JavaException) Message() string {
	if e.Object == nil || e.Object.Kind != KindInst {
		return ""
	}
	inst := e.Object.Inst
	fid := inst.Class.LookupInstanceField("detailMessage", "Ljava/lang/String;")
	if fid == nil {
		return ""
	}
	return ExtractString(inst.Fields[fid.SlotIndex])
}

// Throw builds an exception oop of the named class with an optional message
// and wraps it for unwinding. The class is loaded if needed; when no class
// bytes are reachable (no runtime library on the class path) a shell class
// is synthesized so the failure still surfaces.
func (vm *VM) Throw(className, message string) *JavaException {
	cls, err := vm.RequireClass(className)
	if err != nil {
		vm.Logger.Warn().Str("class", className).Err(err).Msg("exception class not loadable, synthesizing shell")
		cls = vm.shellClass(className)
	}

	obj := NewInst(cls)
	if message != "" {
		if fid := cls.LookupInstanceField("detailMessage", "Ljava/lang/String;"); fid != nil {
			obj.Inst.Fields[fid.SlotIndex] = vm.InternString(message)
		}
	}
	return &JavaException{Object: obj, Class: cls}
}

// shellClass registers a minimal instance class used when a real exception
// class cannot be loaded. Catch matching against a shell only succeeds on
// exact name or a catch-all handler.
func (vm *VM) shellClass(name string) *Class {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if cls, ok := vm.classes[name]; ok {
		return cls
	}
	cls := &Class{
		Name: name,
		Kind: ClassKindInstance,
		InstanceFields: []*FieldID{{
			Name:       "detailMessage",
			Descriptor: "Ljava/lang/String;",
			VType:      ValueTypeObject,
		}},
		Methods: map[string]*MethodID{},
		state:   ClassFullyInitialized,
	}
	cls.InstanceFields[0].Class = cls
	vm.classes[name] = cls
	return cls
}

// StackTraceLine is one frame of a printed guest stack trace.
type StackTraceLine struct {
	ClassName  string
	MethodName string
	Descriptor string
	SourceFile string
	Line       int
}

func (l StackTraceLine) String() string {
	if l.SourceFile != "" && l.Line > 0 {
		return fmt.Sprintf("\tat %s.%s(%s:%d)", DottedName(l.ClassName), l.MethodName, l.SourceFile, l.Line)
	}
	return fmt.Sprintf("\tat %s.%s(%s)", DottedName(l.ClassName), l.MethodName, l.Descriptor)
}

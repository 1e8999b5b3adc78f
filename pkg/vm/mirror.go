package vm

import "sync"

// mirrorState is the bootstrap state of the mirror subsystem. Mirrors are
// java.lang.Class instances, so none can be built until java/lang/Class
// itself is linked; until then creation requests are queued.
type mirrorState int

const (
	mirrorNotFixed mirrorState = iota
	mirrorFixed
)

// delayedMirrorNames seeds the queue with every primitive type and
// primitive array; their mirrors are built the moment the subsystem fixes.
var delayedMirrorNames = []string{
	"I", "Z", "B", "C", "S", "F", "J", "D", "V",
	"[I", "[Z", "[B", "[C", "[S", "[F", "[J", "[D",
}

// isPrimitiveKey reports whether a queued name is a primitive descriptor
// key ("I", "[I", ...) rather than a class name.
func isPrimitiveKey(name string) bool {
	switch len(name) {
	case 1:
		switch name[0] {
		case 'B', 'Z', 'C', 'S', 'I', 'J', 'F', 'D', 'V':
			return true
		}
	case 2:
		if name[0] != '[' {
			return false
		}
		switch name[1] {
		case 'B', 'Z', 'C', 'S', 'I', 'J', 'F', 'D':
			return true
		}
	}
	return false
}

// MirrorRegistry owns mirror creation and the primitive-mirror table. The
// state flag transitions NotFixed -> Fixed exactly once, under the
// registry's own lock.
type MirrorRegistry struct {
	mu         sync.Mutex
	state      mirrorState
	delayed    []string // queued instance-class names and primitive descriptor keys
	delayedAry []*Class // queued array classes
	primitives map[string]*Oop
}

func newMirrorRegistry() *MirrorRegistry {
	return &MirrorRegistry{
		delayed:    append([]string(nil), delayedMirrorNames...),
		primitives: make(map[string]*Oop),
	}
}

// PrimitiveMirror returns the mirror registered under a descriptor key
// ("I", "[I", ...), or nil before the bootstrap fixes.
func (r *MirrorRegistry) PrimitiveMirror(key string) *Oop {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.primitives[key]
}

// createMirror builds and assigns the mirror for a freshly loaded class,
// or queues the class if the subsystem is not fixed yet.
func (r *MirrorRegistry) createMirror(vm *VM, cls *Class) {
	r.mu.Lock()
	fixed := r.state == mirrorFixed
	if !fixed {
		if cls.Kind == ClassKindInstance {
			r.delayed = append(r.delayed, cls.Name)
		} else {
			r.delayedAry = append(r.delayedAry, cls)
		}
		r.mu.Unlock()
		vm.Logger.Debug().Str("class", cls.Name).Msg("mirror create delayed")
		return
	}
	r.mu.Unlock()

	r.assignMirror(vm, cls)
	vm.Logger.Trace().Str("class", cls.Name).Msg("mirror created")
}

func (r *MirrorRegistry) assignMirror(vm *VM, cls *Class) {
	switch cls.Kind {
	case ClassKindInstance:
		cls.SetMirror(NewMirror(cls))
	case ClassKindObjectArray:
		cls.SetMirror(NewAryMirror(cls, ValueTypeObject))
	case ClassKindTypeArray:
		cls.SetMirror(NewAryMirror(cls, cls.ElemType))
	}
}

// Fix transitions the subsystem to Fixed and drains both queues: instance
// classes get instance mirrors, primitive names get target-less mirrors
// indexed by descriptor key, primitive arrays get array mirrors that are
// both indexed and assigned to their class. Called once java/lang/Class
// is linked.
func (r *MirrorRegistry) Fix(vm *VM) error {
	r.mu.Lock()
	if r.state == mirrorFixed {
		r.mu.Unlock()
		return nil
	}
	r.state = mirrorFixed
	names := r.delayed
	arys := r.delayedAry
	r.delayed = nil
	r.delayedAry = nil
	r.mu.Unlock()

	for _, name := range names {
		if !isPrimitiveKey(name) {
			target, err := vm.RequireClass(name)
			if err != nil {
				return err
			}
			if target.Mirror() == nil {
				r.assignMirror(vm, target)
			}
			continue
		}

		isPrimAry := name[0] == '['
		var vt ValueType
		if isPrimAry {
			vt = ValueType(name[1])
		} else {
			vt = ValueType(name[0])
		}

		var mirror *Oop
		if isPrimAry {
			target, err := vm.RequireClass(name)
			if err != nil {
				return err
			}
			if m := target.Mirror(); m != nil {
				mirror = m
			} else {
				mirror = NewAryMirror(target, vt)
				target.SetMirror(mirror)
			}
		} else {
			mirror = NewPrimMirror(vt)
		}

		r.mu.Lock()
		r.primitives[name] = mirror
		r.mu.Unlock()
	}

	for _, cls := range arys {
		if cls.Mirror() == nil {
			r.assignMirror(vm, cls)
		}
	}

	vm.Logger.Debug().Int("instance", len(names)).Int("array", len(arys)).Msg("mirror subsystem fixed")
	return nil
}

// BootstrapMirrors links java/lang/Class and fixes the mirror subsystem.
// Call once at VM startup when a runtime library is on the class path.
func (vm *VM) BootstrapMirrors() error {
	if _, err := vm.RequireClass("java/lang/Class"); err != nil {
		return err
	}
	return vm.mirrors.Fix(vm)
}

// Mirrors exposes the mirror registry.
func (vm *VM) Mirrors() *MirrorRegistry { return vm.mirrors }

// MirrorFor returns the mirror of a class, building and assigning it on
// demand when the class has none yet, both before and after the subsystem
// has fixed.
func (vm *VM) MirrorFor(cls *Class) *Oop {
	if m := cls.Mirror(); m != nil {
		return m
	}
	vm.mirrors.mu.Lock()
	fixed := vm.mirrors.state == mirrorFixed
	vm.mirrors.mu.Unlock()
	if fixed {
		vm.mirrors.assignMirror(vm, cls)
		return cls.Mirror()
	}
	// Not fixed: build and assign the mirror now rather than return nil so
	// ldc of a class constant can still proceed during bootstrap; Fix skips
	// classes that already have a mirror.
	vm.mirrors.assignMirror(vm, cls)
	return cls.Mirror()
}

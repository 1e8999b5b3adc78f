package vm

import (
	"fmt"

	"github.com/katsuo/javm/pkg/classfile"
)

// ResolvedField is a constant-pool FieldRef decoded to a runtime handle.
type ResolvedField struct {
	Class *Class
	Field *FieldID
}

// ResolvedMethod is a constant-pool MethodRef or InterfaceMethodRef decoded
// to a runtime handle. Method is the statically resolved target; virtual
// and interface dispatch re-select against the receiver at call time.
type ResolvedMethod struct {
	Class      *Class
	Method     *MethodID
	Name       string
	Descriptor string
}

// cpCachePut stores a resolved handle under the pool index.
func cpCachePut(cls *Class, index uint16, v interface{}) {
	cls.mu.Lock()
	if cls.cpCache == nil {
		cls.cpCache = make(map[uint16]interface{})
	}
	cls.cpCache[index] = v
	cls.mu.Unlock()
}

func cpCacheGet(cls *Class, index uint16) (interface{}, bool) {
	cls.mu.Lock()
	defer cls.mu.Unlock()
	v, ok := cls.cpCache[index]
	return v, ok
}

// resolveClassEntry resolves a CONSTANT_Class pool entry of cls to a
// runtime class, caching the result on cls.
func (vm *VM) resolveClassEntry(cls *Class, pool []classfile.ConstantPoolEntry, index uint16) (*Class, error) {
	if cls != nil {
		if v, ok := cpCacheGet(cls, index); ok {
			if c, ok := v.(*Class); ok {
				return c, nil
			}
		}
	}
	name, err := classfile.GetClassName(pool, index)
	if err != nil {
		return nil, err
	}
	target, err := vm.RequireClass(name)
	if err != nil {
		return nil, err
	}
	if cls != nil {
		cpCachePut(cls, index, target)
	}
	return target, nil
}

// resolveFieldEntry resolves a CONSTANT_Fieldref to the defining class and
// field id, searching the hierarchy for inherited and interface fields.
func (vm *VM) resolveFieldEntry(cls *Class, pool []classfile.ConstantPoolEntry, index uint16, wantStatic bool) (*ResolvedField, error) {
	if cls != nil {
		if v, ok := cpCacheGet(cls, index); ok {
			if f, ok := v.(*ResolvedField); ok {
				return f, nil
			}
		}
	}
	ref, err := classfile.ResolveFieldref(pool, index)
	if err != nil {
		return nil, err
	}
	holder, err := vm.RequireClass(ref.ClassName)
	if err != nil {
		return nil, err
	}

	var fid *FieldID
	if wantStatic {
		fid = holder.LookupStaticField(ref.Name, ref.Descriptor)
	} else {
		fid = holder.LookupInstanceField(ref.Name, ref.Descriptor)
	}
	if fid == nil {
		return nil, fmt.Errorf("NoSuchFieldError: %s.%s:%s", ref.ClassName, ref.Name, ref.Descriptor)
	}

	resolved := &ResolvedField{Class: holder, Field: fid}
	if cls != nil {
		cpCachePut(cls, index, resolved)
	}
	return resolved, nil
}

// resolveMethodEntry resolves a CONSTANT_Methodref (or, if iface or the
// tag demands it, a CONSTANT_InterfaceMethodref) to the declared target.
func (vm *VM) resolveMethodEntry(cls *Class, pool []classfile.ConstantPoolEntry, index uint16, iface bool) (*ResolvedMethod, error) {
	if cls != nil {
		if v, ok := cpCacheGet(cls, index); ok {
			if m, ok := v.(*ResolvedMethod); ok {
				return m, nil
			}
		}
	}

	var ref *classfile.MemberRefInfo
	var err error
	if iface {
		ref, err = classfile.ResolveInterfaceMethodref(pool, index)
	} else {
		ref, err = classfile.ResolveAnyMethodref(pool, index)
	}
	if err != nil {
		return nil, err
	}

	holder, err := vm.RequireClass(ref.ClassName)
	if err != nil {
		return nil, err
	}

	// Method may stay nil here: host-backed receivers (System.out) and
	// array methods are selected at call time, not during resolution.
	method := holder.LookupMethod(ref.Name, ref.Descriptor)

	resolved := &ResolvedMethod{
		Class:      holder,
		Method:     method,
		Name:       ref.Name,
		Descriptor: ref.Descriptor,
	}
	if cls != nil {
		cpCachePut(cls, index, resolved)
	}
	return resolved, nil
}

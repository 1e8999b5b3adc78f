package vm

import (
	"fmt"
	"sync"

	"github.com/katsuo/javm/pkg/classfile"
)

// ClassKind distinguishes plain classes from the two array shapes.
type ClassKind int

const (
	ClassKindInstance ClassKind = iota
	ClassKindObjectArray
	ClassKindTypeArray
)

// ClassState is the lazy-initialization state machine.
type ClassState int

const (
	ClassAllocated ClassState = iota
	ClassLinked
	ClassBeingInitialized
	ClassFullyInitialized
	ClassInitError
)

// Class is the runtime representation of a loaded class.
//
// The mutex guards the mutable metadata: state, static slots, the resolved
// constant-pool cache and the mirror slot. The immutable parts (name,
// layout, method table) are written once during linking.
type Class struct {
	mu sync.Mutex

	Name        string // JVM internal form, e.g. java/lang/String or [I
	AccessFlags uint16
	Kind        ClassKind

	// Instance classes
	ClassFile      *classfile.ClassFile
	Super          *Class
	Interfaces     []*Class
	InstanceFields []*FieldID // full layout including superclass fields
	StaticFields   []*FieldID
	staticSlots    []*Oop
	Methods        map[string]*MethodID // key: name + descriptor

	// Array classes
	Component *Class    // ObjectArray: component class
	ElemType  ValueType // TypeArray: element value type

	SourceFile      string
	EnclosingMethod *classfile.EnclosingMethod
	InnerClasses    []classfile.InnerClass

	mirror *Oop

	state        ClassState
	initThreadID int64
	initDone     *sync.Cond

	cpCache map[uint16]interface{}
}

// FieldID identifies a field of a class: its defining class, declared type
// and the slot it occupies (instance layout index or static slot index).
type FieldID struct {
	Class              *Class
	Name               string
	Descriptor         string
	AccessFlags        uint16
	VType              ValueType
	SlotIndex          int
	ConstantValueIndex uint16
}

// IsStatic reports whether the field is static.
func (f *FieldID) IsStatic() bool {
	return f.AccessFlags&classfile.AccStatic != 0
}

// MethodID identifies a method of a class along with its code attribute.
type MethodID struct {
	Class       *Class
	Name        string
	Descriptor  string
	AccessFlags uint16
	Code        *classfile.CodeAttribute
	ArgSlots    int // parameter slots, excluding the receiver
}

// IsStatic reports whether the method is static.
func (m *MethodID) IsStatic() bool {
	return m.AccessFlags&classfile.AccStatic != 0
}

// IsNative reports whether the method is native.
func (m *MethodID) IsNative() bool {
	return m.AccessFlags&classfile.AccNative != 0
}

// IsAbstract reports whether the method is abstract.
func (m *MethodID) IsAbstract() bool {
	return m.AccessFlags&classfile.AccAbstract != 0
}

func (m *MethodID) String() string {
	if m == nil {
		return "<synthetic frame>"
	}
	return m.Class.Name + "." + m.Name + ":" + m.Descriptor
}

func methodKey(name, descriptor string) string {
	return name + descriptor
}

// State returns the current initialization state.
func (c *Class) State() ClassState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsInterface reports whether the class is an interface.
func (c *Class) IsInterface() bool {
	return c.AccessFlags&classfile.AccInterface != 0
}

// IsArray reports whether the class is an array class.
func (c *Class) IsArray() bool {
	return c.Kind != ClassKindInstance
}

// Mirror returns the class's java.lang.Class mirror, or nil before the
// mirror subsystem assigns one.
func (c *Class) Mirror() *Oop {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mirror
}

// SetMirror assigns the class's mirror.
func (c *Class) SetMirror(m *Oop) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mirror = m
}

// FindMethod looks up a declared method by name and descriptor, without
// walking the hierarchy.
func (c *Class) FindMethod(name, descriptor string) *MethodID {
	if c.Methods == nil {
		return nil
	}
	return c.Methods[methodKey(name, descriptor)]
}

// LookupMethod resolves name+descriptor against the class, its superclass
// chain, then its interfaces (default methods).
func (c *Class) LookupMethod(name, descriptor string) *MethodID {
	for cur := c; cur != nil; cur = cur.Super {
		if m := cur.FindMethod(name, descriptor); m != nil {
			return m
		}
	}
	for cur := c; cur != nil; cur = cur.Super {
		for _, iface := range cur.Interfaces {
			if m := iface.LookupMethod(name, descriptor); m != nil {
				return m
			}
		}
	}
	return nil
}

// LookupInstanceField finds the field layout entry for name+descriptor,
// searching the flattened layout (which already includes super fields).
func (c *Class) LookupInstanceField(name, descriptor string) *FieldID {
	for _, f := range c.InstanceFields {
		if f.Name == name && f.Descriptor == descriptor {
			return f
		}
	}
	return nil
}

// LookupStaticField finds a static field on the class or its ancestors.
func (c *Class) LookupStaticField(name, descriptor string) *FieldID {
	for cur := c; cur != nil; cur = cur.Super {
		for _, f := range cur.StaticFields {
			if f.Name == name && f.Descriptor == descriptor {
				return f
			}
		}
		for _, iface := range cur.Interfaces {
			if f := iface.LookupStaticField(name, descriptor); f != nil {
				return f
			}
		}
	}
	return nil
}

// GetStatic reads a static slot on the field's defining class.
func (c *Class) GetStatic(f *FieldID) *Oop {
	def := f.Class
	def.mu.Lock()
	defer def.mu.Unlock()
	return def.staticSlots[f.SlotIndex]
}

// PutStatic writes a static slot on the field's defining class.
func (c *Class) PutStatic(f *FieldID, v *Oop) {
	def := f.Class
	def.mu.Lock()
	defer def.mu.Unlock()
	def.staticSlots[f.SlotIndex] = v
}

// IsAssignableFrom reports whether a value of class other can be assigned
// to a variable of class c (other <= c in the subtype order).
func (c *Class) IsAssignableFrom(other *Class) bool {
	if other == nil {
		return false
	}
	if c == other || c.Name == other.Name {
		return true
	}
	if c.Name == "java/lang/Object" {
		return true
	}
	// Array covariance: [X assignable to [Y iff X assignable to Y.
	if c.Kind == ClassKindObjectArray && other.Kind == ClassKindObjectArray {
		return c.Component.IsAssignableFrom(other.Component)
	}
	if c.Kind == ClassKindTypeArray || other.Kind == ClassKindTypeArray {
		return c.Kind == other.Kind && c.ElemType == other.ElemType
	}
	seen := make(map[*Class]bool)
	var walk func(cur *Class) bool
	walk = func(cur *Class) bool {
		for ; cur != nil; cur = cur.Super {
			if seen[cur] {
				return false
			}
			seen[cur] = true
			if cur == c || cur.Name == c.Name {
				return true
			}
			for _, iface := range cur.Interfaces {
				if walk(iface) {
					return true
				}
			}
		}
		return false
	}
	return walk(other)
}

// linkFromClassFile fills in the runtime metadata from the parsed class
// file: field layout (super first, then declared), static slots with
// ConstantValue defaults applied later by initialization, and the method
// table.
func (c *Class) linkFromClassFile() error {
	cf := c.ClassFile

	var layout []*FieldID
	if c.Super != nil {
		layout = append(layout, c.Super.InstanceFields...)
	}
	for i := range cf.Fields {
		fi := &cf.Fields[i]
		vt, err := ValueTypeFromDescriptor(fi.Descriptor)
		if err != nil {
			return fmt.Errorf("field %s.%s: %w", c.Name, fi.Name, err)
		}
		fid := &FieldID{
			Class:              c,
			Name:               fi.Name,
			Descriptor:         fi.Descriptor,
			AccessFlags:        fi.AccessFlags,
			VType:              vt,
			ConstantValueIndex: fi.ConstantValueIndex,
		}
		if fid.IsStatic() {
			fid.SlotIndex = len(c.StaticFields)
			c.StaticFields = append(c.StaticFields, fid)
		} else {
			fid.SlotIndex = len(layout)
			layout = append(layout, fid)
		}
	}
	c.InstanceFields = layout
	c.staticSlots = make([]*Oop, len(c.StaticFields))
	for i, f := range c.StaticFields {
		c.staticSlots[i] = zeroValueFor(f.VType)
	}

	c.Methods = make(map[string]*MethodID, len(cf.Methods))
	for i := range cf.Methods {
		mi := &cf.Methods[i]
		slots, err := ArgSlotCount(mi.Descriptor)
		if err != nil {
			return fmt.Errorf("method %s.%s: %w", c.Name, mi.Name, err)
		}
		c.Methods[methodKey(mi.Name, mi.Descriptor)] = &MethodID{
			Class:       c,
			Name:        mi.Name,
			Descriptor:  mi.Descriptor,
			AccessFlags: mi.AccessFlags,
			Code:        mi.Code,
			ArgSlots:    slots,
		}
	}

	c.SourceFile = cf.SourceFile
	c.EnclosingMethod = cf.EnclosingMethod
	c.InnerClasses = cf.InnerClasses
	return nil
}

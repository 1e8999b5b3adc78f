package vm

import (
	"fmt"
	"sync"
)

// OopKind tags the variants of a runtime value.
type OopKind int

const (
	KindNull OopKind = iota
	KindInt
	KindLong
	KindFloat
	KindDouble
	KindInst
	KindTypeArray
	KindRefArray
	KindMirror
)

// Oop is a tagged runtime value: either an immediate (int, long, float,
// double, null) or a heap object (instance, array, mirror). Heap oops are
// shared by pointer; identity is pointer identity.
type Oop struct {
	Kind OopKind

	I int32
	J int64
	F float32
	D float64

	Inst   *Instance
	Ary    *RefArray
	TAry   *TypeArray
	Mirror *Mirror

	Monitor Monitor
}

// Instance is the heap part of a KindInst oop. Fields is a flat slot vector
// laid out by the class's instance-field layout. Host carries a host-side
// object for VM-provided instances such as System.out's PrintStream.
type Instance struct {
	Class  *Class
	Fields []*Oop
	Host   interface{}
}

// RefArray is an object-reference array. Class is the synthesized array
// class ([Lpkg/Name; or [[...).
type RefArray struct {
	Class *Class
	Elems []*Oop
}

// Mirror is the heap part of the java.lang.Class instance for a class.
// Primitive mirrors have Target nil and carry only the value type.
type Mirror struct {
	Target *Class
	VType  ValueType
	Fields []*Oop
}

// TypeArray is a primitive-element array with one storage variant per
// element kind. Exactly one slice is non-nil, selected by ElemType. Class
// is the synthesized [X class, filled in when allocation goes through the
// VM.
type TypeArray struct {
	Class    *Class
	ElemType ValueType
	Bools    []int8
	Bytes    []int8
	Chars    []uint16
	Shorts   []int16
	Ints     []int32
	Longs    []int64
	Floats   []float32
	Doubles  []float64
}

// Monitor is the per-oop recursive lock behind monitorenter/monitorexit.
type Monitor struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner int64 // thread id, 0 when free
	count int32
}

// Enter acquires the monitor for the given thread, blocking while another
// thread owns it. Re-entry by the owner increments the recursion count.
func (m *Monitor) Enter(threadID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cond == nil {
		m.cond = sync.NewCond(&m.mu)
	}
	for m.owner != 0 && m.owner != threadID {
		m.cond.Wait()
	}
	m.owner = threadID
	m.count++
}

// Exit releases one recursion level. Returns false if the caller does not
// own the monitor.
func (m *Monitor) Exit(threadID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner != threadID || m.count == 0 {
		return false
	}
	m.count--
	if m.count == 0 {
		m.owner = 0
		if m.cond != nil {
			m.cond.Broadcast()
		}
	}
	return true
}

// NewInt creates an int oop. boolean/byte/char/short live widened as int.
func NewInt(v int32) *Oop { return &Oop{Kind: KindInt, I: v} }

// NewLong creates a long oop.
func NewLong(v int64) *Oop { return &Oop{Kind: KindLong, J: v} }

// NewFloat creates a float oop.
func NewFloat(v float32) *Oop { return &Oop{Kind: KindFloat, F: v} }

// NewDouble creates a double oop.
func NewDouble(v float64) *Oop { return &Oop{Kind: KindDouble, D: v} }

// NewNull creates a null reference.
func NewNull() *Oop { return &Oop{Kind: KindNull} }

// NewInst allocates an instance of cls with its field slots set to the
// per-type zero value. cls must be an Instance-kind class.
func NewInst(cls *Class) *Oop {
	if cls.Kind != ClassKindInstance {
		panic(fmt.Sprintf("NewInst: %s is not an instance class", cls.Name))
	}
	layout := cls.InstanceFields
	fields := make([]*Oop, len(layout))
	for i, f := range layout {
		fields[i] = zeroValueFor(f.VType)
	}
	return &Oop{Kind: KindInst, Inst: &Instance{Class: cls, Fields: fields}}
}

// NewRefArray allocates a reference array whose class is aryClass
// (an ObjectArray-kind class), with all elements null.
func NewRefArray(aryClass *Class, length int) *Oop {
	if aryClass.Kind != ClassKindObjectArray {
		panic(fmt.Sprintf("NewRefArray: %s is not an object-array class", aryClass.Name))
	}
	elems := make([]*Oop, length)
	for i := range elems {
		elems[i] = NewNull()
	}
	return &Oop{Kind: KindRefArray, Ary: &RefArray{Class: aryClass, Elems: elems}}
}

// NewTypeArray allocates a primitive array of the given element type.
func NewTypeArray(elem ValueType, length int) *Oop {
	ta := &TypeArray{ElemType: elem}
	switch elem {
	case ValueTypeBoolean:
		ta.Bools = make([]int8, length)
	case ValueTypeByte:
		ta.Bytes = make([]int8, length)
	case ValueTypeChar:
		ta.Chars = make([]uint16, length)
	case ValueTypeShort:
		ta.Shorts = make([]int16, length)
	case ValueTypeInt:
		ta.Ints = make([]int32, length)
	case ValueTypeLong:
		ta.Longs = make([]int64, length)
	case ValueTypeFloat:
		ta.Floats = make([]float32, length)
	case ValueTypeDouble:
		ta.Doubles = make([]float64, length)
	default:
		panic(fmt.Sprintf("NewTypeArray: invalid element type %c", elem))
	}
	return &Oop{Kind: KindTypeArray, TAry: ta}
}

// NewMirror creates the java.lang.Class mirror for an instance class.
func NewMirror(target *Class) *Oop {
	return &Oop{Kind: KindMirror, Mirror: &Mirror{Target: target, VType: ValueTypeObject}}
}

// NewPrimMirror creates a mirror for a primitive type; it has no target.
func NewPrimMirror(vt ValueType) *Oop {
	return &Oop{Kind: KindMirror, Mirror: &Mirror{VType: vt}}
}

// NewAryMirror creates a mirror for an array class, recording the element
// value type.
func NewAryMirror(target *Class, vt ValueType) *Oop {
	return &Oop{Kind: KindMirror, Mirror: &Mirror{Target: target, VType: vt}}
}

// IsNull reports whether the oop is the null reference.
func (o *Oop) IsNull() bool {
	return o == nil || o.Kind == KindNull
}

// IsWide reports whether the value occupies two stack/local slots.
func (o *Oop) IsWide() bool {
	return o != nil && (o.Kind == KindLong || o.Kind == KindDouble)
}

// Len returns the element count of a type array.
func (ta *TypeArray) Len() int {
	switch ta.ElemType {
	case ValueTypeBoolean:
		return len(ta.Bools)
	case ValueTypeByte:
		return len(ta.Bytes)
	case ValueTypeChar:
		return len(ta.Chars)
	case ValueTypeShort:
		return len(ta.Shorts)
	case ValueTypeInt:
		return len(ta.Ints)
	case ValueTypeLong:
		return len(ta.Longs)
	case ValueTypeFloat:
		return len(ta.Floats)
	case ValueTypeDouble:
		return len(ta.Doubles)
	}
	return 0
}

// Get loads element i widened to a stack value: byte/short sign-extend,
// char/boolean zero-extend.
func (ta *TypeArray) Get(i int) *Oop {
	switch ta.ElemType {
	case ValueTypeBoolean:
		return NewInt(int32(ta.Bools[i]) & 1)
	case ValueTypeByte:
		return NewInt(int32(ta.Bytes[i]))
	case ValueTypeChar:
		return NewInt(int32(ta.Chars[i]))
	case ValueTypeShort:
		return NewInt(int32(ta.Shorts[i]))
	case ValueTypeInt:
		return NewInt(ta.Ints[i])
	case ValueTypeLong:
		return NewLong(ta.Longs[i])
	case ValueTypeFloat:
		return NewFloat(ta.Floats[i])
	case ValueTypeDouble:
		return NewDouble(ta.Doubles[i])
	}
	panic(fmt.Sprintf("TypeArray.Get: invalid element type %c", ta.ElemType))
}

// Set stores a stack value into element i, narrowing to the element type.
func (ta *TypeArray) Set(i int, v *Oop) {
	switch ta.ElemType {
	case ValueTypeBoolean:
		ta.Bools[i] = int8(v.I & 1)
	case ValueTypeByte:
		ta.Bytes[i] = int8(v.I)
	case ValueTypeChar:
		ta.Chars[i] = uint16(v.I)
	case ValueTypeShort:
		ta.Shorts[i] = int16(v.I)
	case ValueTypeInt:
		ta.Ints[i] = v.I
	case ValueTypeLong:
		ta.Longs[i] = v.J
	case ValueTypeFloat:
		ta.Floats[i] = v.F
	case ValueTypeDouble:
		ta.Doubles[i] = v.D
	default:
		panic(fmt.Sprintf("TypeArray.Set: invalid element type %c", ta.ElemType))
	}
}

// ArrayLength returns the element count of a reference or primitive array
// oop, or -1 if the oop is not an array.
func (o *Oop) ArrayLength() int {
	switch o.Kind {
	case KindRefArray:
		return len(o.Ary.Elems)
	case KindTypeArray:
		return o.TAry.Len()
	}
	return -1
}

// RuntimeClass returns the class of a heap oop: the instance's class or the
// array class. Mirrors and immediates return nil; mirror receivers are
// special-cased by the dispatcher (their runtime class is java/lang/Class).
func (o *Oop) RuntimeClass() *Class {
	switch o.Kind {
	case KindInst:
		return o.Inst.Class
	case KindRefArray:
		return o.Ary.Class
	case KindTypeArray:
		return o.TAry.Class
	}
	return nil
}

// zeroValueFor returns the default field value for a declared type.
func zeroValueFor(vt ValueType) *Oop {
	switch vt {
	case ValueTypeLong:
		return NewLong(0)
	case ValueTypeFloat:
		return NewFloat(0)
	case ValueTypeDouble:
		return NewDouble(0)
	case ValueTypeObject, ValueTypeArray:
		return NewNull()
	default:
		return NewInt(0)
	}
}

package vm

import (
	"fmt"

	"github.com/katsuo/javm/pkg/classfile"
)

// Frame is one method activation: operand stack, local variables and the
// program counter. Long and double values are one stack entry (category 2)
// but occupy two local slots; the second local slot is left nil and must
// not be read as a single-slot value.
type Frame struct {
	Method *MethodID
	Class  *Class
	Code   []byte
	PC     int

	locals []*Oop
	stack  []*Oop
	sp     int

	// Wide is set by the wide opcode and consumed by the next
	// *load/*store/iinc.
	Wide bool
}

// NewFrame creates a frame for a method, sized from its code attribute.
func NewFrame(m *MethodID) *Frame {
	return &Frame{
		Method: m,
		Class:  m.Class,
		Code:   m.Code.Code,
		locals: make([]*Oop, m.Code.MaxLocals),
		stack:  make([]*Oop, m.Code.MaxStack),
	}
}

// newRawFrame creates a frame over raw bytecode, for tests and synthetic
// entry points.
func newRawFrame(maxLocals, maxStack uint16, code []byte, cls *Class) *Frame {
	return &Frame{
		Class:  cls,
		Code:   code,
		locals: make([]*Oop, maxLocals),
		stack:  make([]*Oop, maxStack),
	}
}

// ConstantPool returns the constant pool of the frame's class.
func (f *Frame) ConstantPool() []classfile.ConstantPoolEntry {
	if f.Class == nil || f.Class.ClassFile == nil {
		return nil
	}
	return f.Class.ClassFile.ConstantPool
}

// Push pushes a value onto the operand stack.
func (f *Frame) Push(v *Oop) {
	if f.sp >= len(f.stack) {
		panic(fmt.Sprintf("operand stack overflow: sp=%d, max=%d", f.sp, len(f.stack)))
	}
	f.stack[f.sp] = v
	f.sp++
}

// Pop pops a value from the operand stack.
func (f *Frame) Pop() *Oop {
	if f.sp <= 0 {
		panic("operand stack underflow: sp=0")
	}
	f.sp--
	v := f.stack[f.sp]
	f.stack[f.sp] = nil
	return v
}

// Peek returns the top of the stack without popping.
func (f *Frame) Peek() *Oop {
	if f.sp <= 0 {
		panic("operand stack underflow: sp=0")
	}
	return f.stack[f.sp-1]
}

// PeekAt returns the value depth slots below the top (0 = top).
func (f *Frame) PeekAt(depth int) *Oop {
	if f.sp-1-depth < 0 {
		panic(fmt.Sprintf("operand stack underflow: sp=%d, depth=%d", f.sp, depth))
	}
	return f.stack[f.sp-1-depth]
}

// Depth returns the current operand stack depth.
func (f *Frame) Depth() int { return f.sp }

// ClearStack empties the operand stack (used when entering a handler).
func (f *Frame) ClearStack() {
	for i := 0; i < f.sp; i++ {
		f.stack[i] = nil
	}
	f.sp = 0
}

// PushInt pushes an int value.
func (f *Frame) PushInt(v int32) { f.Push(NewInt(v)) }

// PushLong pushes a long value (one stack entry, category 2).
func (f *Frame) PushLong(v int64) { f.Push(NewLong(v)) }

// PushFloat pushes a float value.
func (f *Frame) PushFloat(v float32) { f.Push(NewFloat(v)) }

// PushDouble pushes a double value (one stack entry, category 2).
func (f *Frame) PushDouble(v float64) { f.Push(NewDouble(v)) }

// PushNull pushes the null reference.
func (f *Frame) PushNull() { f.Push(NewNull()) }

// PopInt pops an int value.
func (f *Frame) PopInt() int32 {
	v := f.Pop()
	if v.Kind != KindInt {
		panic(fmt.Sprintf("PopInt: top of stack is kind %d", v.Kind))
	}
	return v.I
}

// PopLong pops a long value.
func (f *Frame) PopLong() int64 {
	v := f.Pop()
	if v.Kind != KindLong {
		panic(fmt.Sprintf("PopLong: top of stack is kind %d", v.Kind))
	}
	return v.J
}

// PopFloat pops a float value.
func (f *Frame) PopFloat() float32 {
	v := f.Pop()
	if v.Kind != KindFloat {
		panic(fmt.Sprintf("PopFloat: top of stack is kind %d", v.Kind))
	}
	return v.F
}

// PopDouble pops a double value.
func (f *Frame) PopDouble() float64 {
	v := f.Pop()
	if v.Kind != KindDouble {
		panic(fmt.Sprintf("PopDouble: top of stack is kind %d", v.Kind))
	}
	return v.D
}

// GetLocal returns the value at the given local variable index.
func (f *Frame) GetLocal(index int) *Oop {
	if index < 0 || index >= len(f.locals) {
		panic(fmt.Sprintf("local variable index out of range: index=%d, max=%d", index, len(f.locals)))
	}
	return f.locals[index]
}

// SetLocal sets the value at the given local variable index. A two-slot
// value also claims index+1, making it unreadable as a single-slot value.
func (f *Frame) SetLocal(index int, v *Oop) {
	if index < 0 || index >= len(f.locals) {
		panic(fmt.Sprintf("local variable index out of range: index=%d, max=%d", index, len(f.locals)))
	}
	f.locals[index] = v
	if v.IsWide() {
		if index+1 >= len(f.locals) {
			panic(fmt.Sprintf("two-slot local at index %d exceeds max=%d", index, len(f.locals)))
		}
		f.locals[index+1] = nil
	}
}

// Dup duplicates the top stack value.
func (f *Frame) Dup() {
	f.Push(f.Peek())
}

// DupX1 duplicates the top value and inserts it two down.
func (f *Frame) DupX1() {
	v1 := f.Pop()
	v2 := f.Pop()
	f.Push(v1)
	f.Push(v2)
	f.Push(v1)
}

// DupX2 duplicates the top value and inserts it three down (or two down
// when the second entry is category 2).
func (f *Frame) DupX2() {
	v1 := f.Pop()
	v2 := f.Pop()
	if v2.IsWide() {
		f.Push(v1)
		f.Push(v2)
		f.Push(v1)
		return
	}
	v3 := f.Pop()
	f.Push(v1)
	f.Push(v3)
	f.Push(v2)
	f.Push(v1)
}

// Dup2 duplicates the top two category-1 values, or one category-2 value.
func (f *Frame) Dup2() {
	v1 := f.Pop()
	if v1.IsWide() {
		f.Push(v1)
		f.Push(v1)
		return
	}
	v2 := f.Pop()
	f.Push(v2)
	f.Push(v1)
	f.Push(v2)
	f.Push(v1)
}

// Dup2X1 duplicates the top one or two values and inserts below the third.
func (f *Frame) Dup2X1() {
	v1 := f.Pop()
	if v1.IsWide() {
		v2 := f.Pop()
		f.Push(v1)
		f.Push(v2)
		f.Push(v1)
		return
	}
	v2 := f.Pop()
	v3 := f.Pop()
	f.Push(v2)
	f.Push(v1)
	f.Push(v3)
	f.Push(v2)
	f.Push(v1)
}

// Dup2X2 handles the four category combinations of dup2_x2.
func (f *Frame) Dup2X2() {
	v1 := f.Pop()
	if v1.IsWide() {
		v2 := f.Pop()
		if v2.IsWide() {
			f.Push(v1)
			f.Push(v2)
			f.Push(v1)
			return
		}
		v3 := f.Pop()
		f.Push(v1)
		f.Push(v3)
		f.Push(v2)
		f.Push(v1)
		return
	}
	v2 := f.Pop()
	v3 := f.Pop()
	if v3.IsWide() {
		f.Push(v2)
		f.Push(v1)
		f.Push(v3)
		f.Push(v2)
		f.Push(v1)
		return
	}
	v4 := f.Pop()
	f.Push(v2)
	f.Push(v1)
	f.Push(v4)
	f.Push(v3)
	f.Push(v2)
	f.Push(v1)
}

// Swap exchanges the top two category-1 values.
func (f *Frame) Swap() {
	v1 := f.Pop()
	v2 := f.Pop()
	f.Push(v1)
	f.Push(v2)
}

// Pop2 discards one category-2 value or two category-1 values.
func (f *Frame) Pop2() {
	v := f.Pop()
	if !v.IsWide() {
		f.Pop()
	}
}

// ReadU8 reads a uint8 operand and advances PC.
func (f *Frame) ReadU8() uint8 {
	val := f.Code[f.PC]
	f.PC++
	return val
}

// ReadI8 reads an int8 operand and advances PC.
func (f *Frame) ReadI8() int8 {
	val := int8(f.Code[f.PC])
	f.PC++
	return val
}

// ReadU16 reads a uint16 operand (big-endian) and advances PC by 2.
func (f *Frame) ReadU16() uint16 {
	val := uint16(f.Code[f.PC])<<8 | uint16(f.Code[f.PC+1])
	f.PC += 2
	return val
}

// ReadI16 reads an int16 operand (big-endian) and advances PC by 2.
func (f *Frame) ReadI16() int16 {
	return int16(f.ReadU16())
}

// ReadI32 reads an int32 operand (big-endian) and advances PC by 4.
func (f *Frame) ReadI32() int32 {
	val := int32(f.Code[f.PC])<<24 | int32(f.Code[f.PC+1])<<16 |
		int32(f.Code[f.PC+2])<<8 | int32(f.Code[f.PC+3])
	f.PC += 4
	return val
}

// ReadLocalIndex reads a local-variable index operand, widened to 16 bits
// when the wide prefix is pending. Consumes the wide flag.
func (f *Frame) ReadLocalIndex() int {
	if f.Wide {
		f.Wide = false
		return int(f.ReadU16())
	}
	return int(f.ReadU8())
}

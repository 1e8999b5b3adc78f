package classfile

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// classWriter assembles class-file bytes for parser tests.
type classWriter struct {
	buf bytes.Buffer
}

func (w *classWriter) u8(v uint8)   { w.buf.WriteByte(v) }
func (w *classWriter) u16(v uint16) { binary.Write(&w.buf, binary.BigEndian, v) }
func (w *classWriter) u32(v uint32) { binary.Write(&w.buf, binary.BigEndian, v) }
func (w *classWriter) raw(b []byte) { w.buf.Write(b) }
func (w *classWriter) utf8(s string) {
	w.u8(TagUtf8)
	w.u16(uint16(len(s)))
	w.buf.WriteString(s)
}

// sampleClassBytes builds a class equivalent to:
//
//	class Sample { static final int N = 7; static int f() { ... } }
//
// with an exception table and a LineNumberTable on f, and a SourceFile
// attribute on the class.
func sampleClassBytes() []byte {
	w := &classWriter{}
	w.u32(0xCAFEBABE)
	w.u16(0)  // minor
	w.u16(52) // major

	// Constant pool, 1-indexed:
	//  1 Utf8 "Sample"        2 Class -> 1
	//  3 Utf8 "java/lang/Object"  4 Class -> 3
	//  5 Utf8 "N"             6 Utf8 "I"
	//  7 Utf8 "ConstantValue" 8 Integer 7
	//  9 Utf8 "f"            10 Utf8 "()I"
	// 11 Utf8 "Code"         12 Utf8 "LineNumberTable"
	// 13 Utf8 "SourceFile"   14 Utf8 "Sample.java"
	// 15 Utf8 "java/lang/Exception" 16 Class -> 15
	w.u16(17)
	w.utf8("Sample")
	w.u8(TagClass)
	w.u16(1)
	w.utf8("java/lang/Object")
	w.u8(TagClass)
	w.u16(3)
	w.utf8("N")
	w.utf8("I")
	w.utf8("ConstantValue")
	w.u8(TagInteger)
	w.u32(7)
	w.utf8("f")
	w.utf8("()I")
	w.utf8("Code")
	w.utf8("LineNumberTable")
	w.utf8("SourceFile")
	w.utf8("Sample.java")
	w.utf8("java/lang/Exception")
	w.u8(TagClass)
	w.u16(15)

	w.u16(0x0021) // access flags
	w.u16(2)      // this_class
	w.u16(4)      // super_class
	w.u16(0)      // interfaces

	// Fields: static final int N with ConstantValue
	w.u16(1)
	w.u16(AccStatic | AccFinal)
	w.u16(5) // name N
	w.u16(6) // desc I
	w.u16(1) // one attribute
	w.u16(7) // ConstantValue
	w.u32(2)
	w.u16(8)

	// Methods: static int f()
	w.u16(1)
	w.u16(AccStatic)
	w.u16(9)                   // name f
	w.u16(10)                  // desc ()I
	w.u16(1)                   // one attribute: Code
	code := []byte{0x03, 0xAC} // iconst_0, ireturn
	lineTable := &classWriter{}
	lineTable.u16(1)
	lineTable.u16(0) // start_pc
	lineTable.u16(3) // line 3
	codeAttr := &classWriter{}
	codeAttr.u16(2) // max_stack
	codeAttr.u16(1) // max_locals
	codeAttr.u32(uint32(len(code)))
	codeAttr.raw(code)
	codeAttr.u16(1)  // exception table length
	codeAttr.u16(0)  // start
	codeAttr.u16(2)  // end
	codeAttr.u16(0)  // handler
	codeAttr.u16(16) // catch java/lang/Exception
	codeAttr.u16(1)  // nested attributes
	codeAttr.u16(12) // LineNumberTable
	codeAttr.u32(uint32(lineTable.buf.Len()))
	codeAttr.raw(lineTable.buf.Bytes())

	w.u16(11) // Code
	w.u32(uint32(codeAttr.buf.Len()))
	w.raw(codeAttr.buf.Bytes())

	// Class attributes: SourceFile
	w.u16(1)
	w.u16(13)
	w.u32(2)
	w.u16(14)

	return w.buf.Bytes()
}

func TestParseClassFile(t *testing.T) {
	cf, err := Parse(bytes.NewReader(sampleClassBytes()))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	t.Run("identity", func(t *testing.T) {
		name, err := cf.ClassName()
		if err != nil {
			t.Fatalf("ClassName: %v", err)
		}
		if name != "Sample" {
			t.Errorf("this_class: got %q, want %q", name, "Sample")
		}
		if got := cf.SuperClassName(); got != "java/lang/Object" {
			t.Errorf("super: got %q", got)
		}
		if cf.MajorVersion != 52 {
			t.Errorf("major: got %d", cf.MajorVersion)
		}
	})

	t.Run("field with ConstantValue", func(t *testing.T) {
		if len(cf.Fields) != 1 {
			t.Fatalf("fields: got %d, want 1", len(cf.Fields))
		}
		f := cf.Fields[0]
		if f.Name != "N" || f.Descriptor != "I" {
			t.Errorf("field: %+v", f)
		}
		if f.ConstantValueIndex == 0 {
			t.Fatal("ConstantValue index not recorded")
		}
		ci, ok := cf.ConstantPool[f.ConstantValueIndex].(*ConstantInteger)
		if !ok || ci.Value != 7 {
			t.Errorf("ConstantValue: got %+v", cf.ConstantPool[f.ConstantValueIndex])
		}
	})

	t.Run("method code attribute", func(t *testing.T) {
		m := cf.FindMethod("f", "()I")
		if m == nil {
			t.Fatal("method f not found")
		}
		if m.Code == nil {
			t.Fatal("Code attribute missing")
		}
		if m.Code.MaxStack != 2 || m.Code.MaxLocals != 1 {
			t.Errorf("max_stack/max_locals: %d/%d", m.Code.MaxStack, m.Code.MaxLocals)
		}
		if !bytes.Equal(m.Code.Code, []byte{0x03, 0xAC}) {
			t.Errorf("code: %v", m.Code.Code)
		}
	})

	t.Run("exception table", func(t *testing.T) {
		m := cf.FindMethod("f", "()I")
		if len(m.Code.ExceptionHandlers) != 1 {
			t.Fatalf("handlers: got %d, want 1", len(m.Code.ExceptionHandlers))
		}
		h := m.Code.ExceptionHandlers[0]
		if h.StartPC != 0 || h.EndPC != 2 || h.HandlerPC != 0 || h.CatchType != 16 {
			t.Errorf("handler: %+v", h)
		}
		catchName, err := GetClassName(cf.ConstantPool, h.CatchType)
		if err != nil || catchName != "java/lang/Exception" {
			t.Errorf("catch type: %q, %v", catchName, err)
		}
	})

	t.Run("line number table", func(t *testing.T) {
		m := cf.FindMethod("f", "()I")
		if len(m.Code.LineNumbers) != 1 {
			t.Fatalf("line numbers: got %d", len(m.Code.LineNumbers))
		}
		if got := m.Code.LineNumberForPC(1); got != 3 {
			t.Errorf("LineNumberForPC(1): got %d, want 3", got)
		}
	})

	t.Run("source file", func(t *testing.T) {
		if cf.SourceFile != "Sample.java" {
			t.Errorf("SourceFile: got %q", cf.SourceFile)
		}
	})
}

func TestParseRejectsBadInput(t *testing.T) {
	t.Run("bad magic", func(t *testing.T) {
		data := sampleClassBytes()
		data[0] = 0xDE
		if _, err := Parse(bytes.NewReader(data)); err == nil {
			t.Error("expected an error for a bad magic number")
		}
	})

	t.Run("unsupported major version", func(t *testing.T) {
		data := sampleClassBytes()
		data[6] = 0x00
		data[7] = 61 // Java 17
		if _, err := Parse(bytes.NewReader(data)); err == nil {
			t.Error("expected an error for major version 61")
		}
	})

	t.Run("truncated input", func(t *testing.T) {
		data := sampleClassBytes()
		if _, err := Parse(bytes.NewReader(data[:20])); err == nil {
			t.Error("expected an error for truncated input")
		}
	})

	t.Run("unknown constant tag", func(t *testing.T) {
		w := &classWriter{}
		w.u32(0xCAFEBABE)
		w.u16(0)
		w.u16(52)
		w.u16(2)
		w.u8(99) // no such tag
		if _, err := Parse(bytes.NewReader(w.buf.Bytes())); err == nil {
			t.Error("expected an error for an unknown constant tag")
		}
	})
}

func TestResolveMemberRefs(t *testing.T) {
	// Pool: 1 Utf8 "Holder", 2 Class->1, 3 Utf8 "x", 4 Utf8 "I",
	// 5 NameAndType(3,4), 6 Fieldref(2,5), 7 Methodref(2,5),
	// 8 InterfaceMethodref(2,5)
	pool := []ConstantPoolEntry{
		nil,
		&ConstantUtf8{Value: "Holder"},
		&ConstantClass{NameIndex: 1},
		&ConstantUtf8{Value: "x"},
		&ConstantUtf8{Value: "I"},
		&ConstantNameAndType{NameIndex: 3, DescriptorIndex: 4},
		&ConstantFieldref{ClassIndex: 2, NameAndTypeIndex: 5},
		&ConstantMethodref{ClassIndex: 2, NameAndTypeIndex: 5},
		&ConstantInterfaceMethodref{ClassIndex: 2, NameAndTypeIndex: 5},
	}

	t.Run("fieldref", func(t *testing.T) {
		ref, err := ResolveFieldref(pool, 6)
		if err != nil {
			t.Fatalf("ResolveFieldref: %v", err)
		}
		if ref.ClassName != "Holder" || ref.Name != "x" || ref.Descriptor != "I" {
			t.Errorf("got %+v", ref)
		}
	})

	t.Run("methodref", func(t *testing.T) {
		ref, err := ResolveMethodref(pool, 7)
		if err != nil {
			t.Fatalf("ResolveMethodref: %v", err)
		}
		if ref.ClassName != "Holder" {
			t.Errorf("got %+v", ref)
		}
	})

	t.Run("any methodref accepts the interface variant", func(t *testing.T) {
		ref, err := ResolveAnyMethodref(pool, 8)
		if err != nil {
			t.Fatalf("ResolveAnyMethodref: %v", err)
		}
		if ref.ClassName != "Holder" {
			t.Errorf("got %+v", ref)
		}
	})

	t.Run("wrong tag errors", func(t *testing.T) {
		if _, err := ResolveFieldref(pool, 7); err == nil {
			t.Error("ResolveFieldref accepted a Methodref")
		}
		if _, err := ResolveMethodref(pool, 0); err == nil {
			t.Error("ResolveMethodref accepted index 0")
		}
	})
}

func TestConstantPoolWideEntries(t *testing.T) {
	w := &classWriter{}
	w.u32(0xCAFEBABE)
	w.u16(0)
	w.u16(52)
	// cp count 6: 1 Long (takes 2), 3 Double (takes 2), 5 unused? count
	// must be entries+1: entries are 1..5 where 2 and 4 are the phantom
	// second slots.
	w.u16(6)
	w.u8(TagLong)
	w.u32(0)
	w.u32(42)
	w.u8(TagDouble)
	var dbits uint64 = 0x3FF0000000000000 // 1.0
	w.u32(uint32(dbits >> 32))
	w.u32(uint32(dbits))
	w.utf8("Half")
	// minimal remainder
	w.u16(0x0021)
	w.u16(0) // this_class (invalid but unchecked during parse)
	w.u16(0)
	w.u16(0)
	w.u16(0)
	w.u16(0)
	w.u16(0)

	cf, err := Parse(bytes.NewReader(w.buf.Bytes()))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	l, ok := cf.ConstantPool[1].(*ConstantLong)
	if !ok || l.Value != 42 {
		t.Errorf("long entry: %+v", cf.ConstantPool[1])
	}
	if cf.ConstantPool[2] != nil {
		t.Error("long second slot not nil")
	}
	d, ok := cf.ConstantPool[3].(*ConstantDouble)
	if !ok || d.Value != 1.0 {
		t.Errorf("double entry: %+v", cf.ConstantPool[3])
	}
	if cf.ConstantPool[4] != nil {
		t.Error("double second slot not nil")
	}
}

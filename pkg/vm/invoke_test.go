package vm

import (
	"testing"

	"github.com/katsuo/javm/pkg/classfile"
)

func TestStaticFieldAndClinit(t *testing.T) {
	v, _ := newTestVM()
	object := registerThrowables(v)

	// class A { static int x; static { x += 7; } static int f() { return x + 3; } }
	pool := newPoolBuilder()
	fx := pool.fieldref("A", "x", "I")
	fxHi, fxLo := u16(fx)

	a := buildClass(t, v, "A", object, pool,
		[]classfile.FieldInfo{{AccessFlags: classfile.AccStatic, Name: "x", Descriptor: "I"}},
		[]testMethod{
			{
				name: "<clinit>", descriptor: "()V", flags: classfile.AccStatic,
				maxLocals: 0, maxStack: 2,
				code: []byte{
					OpGetstatic, fxHi, fxLo,
					OpBipush, 7,
					OpIadd,
					OpPutstatic, fxHi, fxLo,
					OpReturn,
				},
			},
			{
				name: "f", descriptor: "()I", flags: classfile.AccStatic,
				maxLocals: 0, maxStack: 2,
				code: []byte{
					OpGetstatic, fxHi, fxLo,
					OpIconst3,
					OpIadd,
					OpIreturn,
				},
			},
		})

	th := v.NewThread()
	if err := v.InitClassFully(th, a); err != nil {
		t.Fatalf("init: %v", err)
	}
	// A second initialization must not rerun <clinit>.
	if err := v.InitClassFully(th, a); err != nil {
		t.Fatalf("reinit: %v", err)
	}

	ret, err := th.InvokeMethod(a.FindMethod("f", "()I"), nil)
	if err != nil {
		t.Fatalf("A.f(): %v", err)
	}
	if ret.I != 10 {
		t.Errorf("A.f(): got %d, want 10 (<clinit> must run exactly once)", ret.I)
	}
	if got := a.State(); got != ClassFullyInitialized {
		t.Errorf("state: got %d, want FullyInitialized", got)
	}
}

func TestInstanceFields(t *testing.T) {
	v, _ := newTestVM()
	object := registerThrowables(v)

	// class P { byte b; char c; int set(int v) { b = v; c = v; return b + c; } }
	pool := newPoolBuilder()
	fb := pool.fieldref("P", "b", "B")
	fc := pool.fieldref("P", "c", "C")
	fbHi, fbLo := u16(fb)
	fcHi, fcLo := u16(fc)

	p := buildClass(t, v, "P", object,
		pool,
		[]classfile.FieldInfo{
			{Name: "b", Descriptor: "B"},
			{Name: "c", Descriptor: "C"},
		},
		[]testMethod{{
			name: "set", descriptor: "(I)I",
			maxLocals: 2, maxStack: 3,
			code: []byte{
				OpAload0, OpIload1, OpPutfield, fbHi, fbLo,
				OpAload0, OpIload1, OpPutfield, fcHi, fcLo,
				OpAload0, OpGetfield, fbHi, fbLo,
				OpAload0, OpGetfield, fcHi, fcLo,
				OpIadd,
				OpIreturn,
			},
		}})

	obj := NewInst(p)
	th := v.NewThread()
	// 0x180: byte narrows to -128 (sign-extended), char to 0x180 (384).
	ret, err := th.InvokeMethod(p.FindMethod("set", "(I)I"), []*Oop{obj, NewInt(0x180)})
	if err != nil {
		t.Fatalf("P.set: %v", err)
	}
	if ret.I != -128+384 {
		t.Errorf("field narrowing: got %d, want %d", ret.I, -128+384)
	}
}

func TestGetfieldOnNull(t *testing.T) {
	v, _ := newTestVM()
	object := registerThrowables(v)

	pool := newPoolBuilder()
	fb := pool.fieldref("Q", "n", "I")
	hi, lo := u16(fb)
	q := buildClass(t, v, "Q", object, pool,
		[]classfile.FieldInfo{{Name: "n", Descriptor: "I"}},
		[]testMethod{{
			name: "get", descriptor: "()I", flags: classfile.AccStatic,
			maxLocals: 0, maxStack: 1,
			code: []byte{OpAconstNull, OpGetfield, hi, lo, OpIreturn},
		}})

	th := v.NewThread()
	_, err := th.InvokeMethod(q.FindMethod("get", "()I"), nil)
	exc, ok := err.(*JavaException)
	if !ok || exc.Class.Name != "java/lang/NullPointerException" {
		t.Fatalf("expected NullPointerException, got %v", err)
	}
}

func TestInvokevirtualDispatch(t *testing.T) {
	v, _ := newTestVM()
	object := registerThrowables(v)

	base := buildClass(t, v, "Base", object, newPoolBuilder(), nil, []testMethod{{
		name: "m", descriptor: "()I",
		maxLocals: 1, maxStack: 1,
		code: []byte{OpIconst1, OpIreturn},
	}})
	derived := buildClass(t, v, "Derived", base, newPoolBuilder(), nil, []testMethod{{
		name: "m", descriptor: "()I",
		maxLocals: 1, maxStack: 1,
		code: []byte{OpIconst2, OpIreturn},
	}})

	pool := newPoolBuilder()
	mref := pool.methodref("Base", "m", "()I")
	hi, lo := u16(mref)
	caller := buildClass(t, v, "Caller", object, pool, nil, []testMethod{{
		name: "call", descriptor: "(LBase;)I", flags: classfile.AccStatic,
		maxLocals: 1, maxStack: 2,
		code: []byte{OpAload0, OpInvokevirtual, hi, lo, OpIreturn},
	}})
	call := caller.FindMethod("call", "(LBase;)I")

	th := v.NewThread()

	t.Run("selects the override from the runtime class", func(t *testing.T) {
		ret, err := th.InvokeMethod(call, []*Oop{NewInst(derived)})
		if err != nil {
			t.Fatalf("call(derived): %v", err)
		}
		if ret.I != 2 {
			t.Errorf("got %d, want 2", ret.I)
		}
	})

	t.Run("base receiver gets the base method", func(t *testing.T) {
		ret, err := th.InvokeMethod(call, []*Oop{NewInst(base)})
		if err != nil {
			t.Fatalf("call(base): %v", err)
		}
		if ret.I != 1 {
			t.Errorf("got %d, want 1", ret.I)
		}
	})

	t.Run("null receiver raises NPE", func(t *testing.T) {
		_, err := th.InvokeMethod(call, []*Oop{NewNull()})
		exc, ok := err.(*JavaException)
		if !ok || exc.Class.Name != "java/lang/NullPointerException" {
			t.Fatalf("expected NullPointerException, got %v", err)
		}
	})
}

func TestInvokeinterface(t *testing.T) {
	v, _ := newTestVM()
	object := registerThrowables(v)

	iface := buildClass(t, v, "Greeter", object, newPoolBuilder(), nil, []testMethod{{
		name: "m", descriptor: "()I", flags: classfile.AccAbstract,
	}})
	iface.AccessFlags |= classfile.AccInterface

	impl := buildClass(t, v, "Impl", object, newPoolBuilder(), nil, []testMethod{{
		name: "m", descriptor: "()I",
		maxLocals: 1, maxStack: 1,
		code: []byte{OpIconst5, OpIreturn},
	}})
	impl.Interfaces = []*Class{iface}

	pool := newPoolBuilder()
	mref := pool.interfaceMethodref("Greeter", "m", "()I")
	hi, lo := u16(mref)
	caller := buildClass(t, v, "IfaceCaller", object, pool, nil, []testMethod{{
		name: "call", descriptor: "(LGreeter;)I", flags: classfile.AccStatic,
		maxLocals: 1, maxStack: 2,
		code: []byte{OpAload0, OpInvokeinterface, hi, lo, 1, 0, OpIreturn},
	}})

	th := v.NewThread()
	ret, err := th.InvokeMethod(caller.FindMethod("call", "(LGreeter;)I"), []*Oop{NewInst(impl)})
	if err != nil {
		t.Fatalf("interface call: %v", err)
	}
	if ret.I != 5 {
		t.Errorf("got %d, want 5", ret.I)
	}
}

func TestInvokestaticWideArgs(t *testing.T) {
	v, _ := newTestVM()
	object := registerThrowables(v)

	// static long sum(long a, int b) { return a + b; }
	callee := buildClass(t, v, "Math2", object, newPoolBuilder(), nil, []testMethod{{
		name: "sum", descriptor: "(JI)J", flags: classfile.AccStatic,
		maxLocals: 3, maxStack: 4,
		code: []byte{
			OpLload0,
			OpIload2,
			OpI2l,
			OpLadd,
			OpLreturn,
		},
	}})

	pool := newPoolBuilder()
	mref := pool.methodref("Math2", "sum", "(JI)J")
	hi, lo := u16(mref)
	caller := buildClass(t, v, "SumCaller", object, pool, nil, []testMethod{{
		name: "call", descriptor: "()J", flags: classfile.AccStatic,
		maxLocals: 0, maxStack: 4,
		code: []byte{
			OpLconst1,
			OpIconst5,
			OpInvokestatic, hi, lo,
			OpLreturn,
		},
	}})
	_ = callee

	th := v.NewThread()
	ret, err := th.InvokeMethod(caller.FindMethod("call", "()J"), nil)
	if err != nil {
		t.Fatalf("static call: %v", err)
	}
	if ret.J != 6 {
		t.Errorf("sum(1L, 5): got %d, want 6", ret.J)
	}
}

func TestInvokespecialInit(t *testing.T) {
	v, _ := newTestVM()
	object := registerThrowables(v)

	// class V { int n; V(int n) { this.n = n; } }
	pool := newPoolBuilder()
	fn := pool.fieldref("V", "n", "I")
	fnHi, fnLo := u16(fn)
	cls := buildClass(t, v, "V", object, pool,
		[]classfile.FieldInfo{{Name: "n", Descriptor: "I"}},
		[]testMethod{{
			name: "<init>", descriptor: "(I)V",
			maxLocals: 2, maxStack: 2,
			code: []byte{OpAload0, OpIload1, OpPutfield, fnHi, fnLo, OpReturn},
		}})

	callerPool := newPoolBuilder()
	clsIdx := callerPool.class("V")
	ctorRef := callerPool.methodref("V", "<init>", "(I)V")
	getN := callerPool.fieldref("V", "n", "I")
	clsHi, clsLo := u16(clsIdx)
	ctorHi, ctorLo := u16(ctorRef)
	getHi, getLo := u16(getN)
	caller := buildClass(t, v, "VCaller", object, callerPool, nil, []testMethod{{
		name: "make", descriptor: "()I", flags: classfile.AccStatic,
		maxLocals: 0, maxStack: 3,
		code: []byte{
			OpNew, clsHi, clsLo,
			OpDup,
			OpBipush, 42,
			OpInvokespecial, ctorHi, ctorLo,
			OpGetfield, getHi, getLo,
			OpIreturn,
		},
	}})
	_ = cls

	th := v.NewThread()
	ret, err := th.InvokeMethod(caller.FindMethod("make", "()I"), nil)
	if err != nil {
		t.Fatalf("new V(42): %v", err)
	}
	if ret.I != 42 {
		t.Errorf("got %d, want 42", ret.I)
	}
}

func TestNativeDispatchThroughInvoke(t *testing.T) {
	v, _ := newTestVM()
	object := registerThrowables(v)

	nat := buildClass(t, v, "Nat", object, newPoolBuilder(), nil, []testMethod{{
		name: "answer", descriptor: "()I", flags: classfile.AccStatic | classfile.AccNative,
	}})
	v.RegisterNative("Nat", "answer", "()I", func(t *Thread, args []*Oop) (*Oop, error) {
		return NewInt(42), nil
	})

	th := v.NewThread()
	ret, err := th.InvokeMethod(nat.FindMethod("answer", "()I"), nil)
	if err != nil {
		t.Fatalf("native: %v", err)
	}
	if ret.I != 42 {
		t.Errorf("got %d, want 42", ret.I)
	}

	t.Run("unregistered native fails with a host error", func(t *testing.T) {
		miss := buildClass(t, v, "Miss", object, newPoolBuilder(), nil, []testMethod{{
			name: "gone", descriptor: "()V", flags: classfile.AccStatic | classfile.AccNative,
		}})
		_, err := th.InvokeMethod(miss.FindMethod("gone", "()V"), nil)
		if err == nil {
			t.Fatal("expected an error for an unregistered native")
		}
	})
}

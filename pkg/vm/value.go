package vm

import "fmt"

// ValueType identifies a JVM value type as encoded in descriptors.
type ValueType byte

const (
	ValueTypeByte    ValueType = 'B'
	ValueTypeBoolean ValueType = 'Z'
	ValueTypeChar    ValueType = 'C'
	ValueTypeShort   ValueType = 'S'
	ValueTypeInt     ValueType = 'I'
	ValueTypeLong    ValueType = 'J'
	ValueTypeFloat   ValueType = 'F'
	ValueTypeDouble  ValueType = 'D'
	ValueTypeVoid    ValueType = 'V'
	ValueTypeObject  ValueType = 'L'
	ValueTypeArray   ValueType = '['
)

// ValueTypeFromDescriptor maps the first character of a field descriptor to
// its value type.
func ValueTypeFromDescriptor(desc string) (ValueType, error) {
	if len(desc) == 0 {
		return 0, fmt.Errorf("empty descriptor")
	}
	switch desc[0] {
	case 'B', 'Z', 'C', 'S', 'I', 'J', 'F', 'D', 'V', 'L', '[':
		return ValueType(desc[0]), nil
	}
	return 0, fmt.Errorf("invalid descriptor %q", desc)
}

// IsWideType reports whether the type occupies two local/stack slots.
func (vt ValueType) IsWideType() bool {
	return vt == ValueTypeLong || vt == ValueTypeDouble
}

// PrimitiveName returns the Java source name of a primitive value type.
func (vt ValueType) PrimitiveName() string {
	switch vt {
	case ValueTypeByte:
		return "byte"
	case ValueTypeBoolean:
		return "boolean"
	case ValueTypeChar:
		return "char"
	case ValueTypeShort:
		return "short"
	case ValueTypeInt:
		return "int"
	case ValueTypeLong:
		return "long"
	case ValueTypeFloat:
		return "float"
	case ValueTypeDouble:
		return "double"
	case ValueTypeVoid:
		return "void"
	}
	return ""
}

// primitiveSignatures maps Java source names to descriptor characters,
// the dictionary behind Class.getPrimitiveClass.
var primitiveSignatures = map[string]string{
	"byte":    "B",
	"boolean": "Z",
	"char":    "C",
	"short":   "S",
	"int":     "I",
	"float":   "F",
	"long":    "J",
	"double":  "D",
	"void":    "V",
}

// DescriptorArgs splits a method descriptor's parameter list into individual
// type descriptors. "(I[JLjava/lang/String;)V" yields ["I", "[J",
// "Ljava/lang/String;"].
func DescriptorArgs(descriptor string) ([]string, error) {
	if len(descriptor) == 0 || descriptor[0] != '(' {
		return nil, fmt.Errorf("invalid method descriptor: %s", descriptor)
	}
	var args []string
	i := 1
	for i < len(descriptor) && descriptor[i] != ')' {
		start := i
		for i < len(descriptor) && descriptor[i] == '[' {
			i++
		}
		if i >= len(descriptor) {
			return nil, fmt.Errorf("truncated method descriptor: %s", descriptor)
		}
		switch descriptor[i] {
		case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
			i++
		case 'L':
			for i < len(descriptor) && descriptor[i] != ';' {
				i++
			}
			if i >= len(descriptor) {
				return nil, fmt.Errorf("unterminated object type in descriptor: %s", descriptor)
			}
			i++ // skip ';'
		default:
			return nil, fmt.Errorf("invalid type char '%c' in descriptor %s", descriptor[i], descriptor)
		}
		args = append(args, descriptor[start:i])
	}
	if i >= len(descriptor) || descriptor[i] != ')' {
		return nil, fmt.Errorf("unterminated parameter list in descriptor: %s", descriptor)
	}
	return args, nil
}

// DescriptorReturn returns the return-type descriptor of a method descriptor.
func DescriptorReturn(descriptor string) string {
	for i := 0; i < len(descriptor); i++ {
		if descriptor[i] == ')' {
			return descriptor[i+1:]
		}
	}
	return ""
}

// ArgSlotCount returns the number of local-variable slots the parameters of
// a method descriptor occupy. long and double take two slots.
func ArgSlotCount(descriptor string) (int, error) {
	args, err := DescriptorArgs(descriptor)
	if err != nil {
		return 0, err
	}
	slots := 0
	for _, a := range args {
		if a == "J" || a == "D" {
			slots += 2
		} else {
			slots++
		}
	}
	return slots, nil
}

// IsVoidReturn checks if a method descriptor has void return type.
func IsVoidReturn(descriptor string) bool {
	return DescriptorReturn(descriptor) == "V"
}

// DottedName converts a JVM internal name to the user-facing dotted form.
func DottedName(internal string) string {
	out := []byte(internal)
	for i := range out {
		if out[i] == '/' {
			out[i] = '.'
		}
	}
	return string(out)
}

// InternalName converts a dotted class name to JVM internal form.
func InternalName(dotted string) string {
	out := []byte(dotted)
	for i := range out {
		if out[i] == '.' {
			out[i] = '/'
		}
	}
	return string(out)
}

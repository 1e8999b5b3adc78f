package classfile

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// Constant pool tags
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagInvokeDynamic      = 18
)

// parseConstantPool reads constant_pool_count-1 entries from the reader.
// The returned slice is 1-indexed: index 0 is nil. Long and Double entries
// occupy two slots; the second slot stays nil.
func parseConstantPool(r io.Reader, count uint16) ([]ConstantPoolEntry, error) {
	pool := make([]ConstantPoolEntry, count)

	for i := uint16(1); i < count; i++ {
		var tag uint8
		if err := binary.Read(r, binary.BigEndian, &tag); err != nil {
			return nil, errors.Wrapf(err, "reading constant pool tag at index %d", i)
		}

		switch tag {
		case TagUtf8:
			var length uint16
			if err := binary.Read(r, binary.BigEndian, &length); err != nil {
				return nil, errors.Wrapf(err, "reading Utf8 length at index %d", i)
			}
			b := make([]byte, length)
			if _, err := io.ReadFull(r, b); err != nil {
				return nil, errors.Wrapf(err, "reading Utf8 bytes at index %d", i)
			}
			pool[i] = &ConstantUtf8{Value: string(b)}

		case TagInteger:
			var val int32
			if err := binary.Read(r, binary.BigEndian, &val); err != nil {
				return nil, errors.Wrapf(err, "reading Integer at index %d", i)
			}
			pool[i] = &ConstantInteger{Value: val}

		case TagFloat:
			var bits uint32
			if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
				return nil, errors.Wrapf(err, "reading Float at index %d", i)
			}
			pool[i] = &ConstantFloat{Value: math.Float32frombits(bits)}

		case TagLong:
			var val int64
			if err := binary.Read(r, binary.BigEndian, &val); err != nil {
				return nil, errors.Wrapf(err, "reading Long at index %d", i)
			}
			pool[i] = &ConstantLong{Value: val}
			i++ // long takes 2 slots

		case TagDouble:
			var bits uint64
			if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
				return nil, errors.Wrapf(err, "reading Double at index %d", i)
			}
			pool[i] = &ConstantDouble{Value: math.Float64frombits(bits)}
			i++ // double takes 2 slots

		case TagClass:
			var nameIndex uint16
			if err := binary.Read(r, binary.BigEndian, &nameIndex); err != nil {
				return nil, errors.Wrapf(err, "reading Class at index %d", i)
			}
			pool[i] = &ConstantClass{NameIndex: nameIndex}

		case TagString:
			var stringIndex uint16
			if err := binary.Read(r, binary.BigEndian, &stringIndex); err != nil {
				return nil, errors.Wrapf(err, "reading String at index %d", i)
			}
			pool[i] = &ConstantString{StringIndex: stringIndex}

		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			var classIndex, natIndex uint16
			if err := binary.Read(r, binary.BigEndian, &classIndex); err != nil {
				return nil, errors.Wrapf(err, "reading ref class_index at index %d", i)
			}
			if err := binary.Read(r, binary.BigEndian, &natIndex); err != nil {
				return nil, errors.Wrapf(err, "reading ref name_and_type_index at index %d", i)
			}
			switch tag {
			case TagFieldref:
				pool[i] = &ConstantFieldref{ClassIndex: classIndex, NameAndTypeIndex: natIndex}
			case TagMethodref:
				pool[i] = &ConstantMethodref{ClassIndex: classIndex, NameAndTypeIndex: natIndex}
			default:
				pool[i] = &ConstantInterfaceMethodref{ClassIndex: classIndex, NameAndTypeIndex: natIndex}
			}

		case TagNameAndType:
			var nameIndex, descIndex uint16
			if err := binary.Read(r, binary.BigEndian, &nameIndex); err != nil {
				return nil, errors.Wrapf(err, "reading NameAndType name_index at index %d", i)
			}
			if err := binary.Read(r, binary.BigEndian, &descIndex); err != nil {
				return nil, errors.Wrapf(err, "reading NameAndType descriptor_index at index %d", i)
			}
			pool[i] = &ConstantNameAndType{NameIndex: nameIndex, DescriptorIndex: descIndex}

		case TagMethodHandle:
			var kind uint8
			var refIndex uint16
			if err := binary.Read(r, binary.BigEndian, &kind); err != nil {
				return nil, errors.Wrapf(err, "reading MethodHandle kind at index %d", i)
			}
			if err := binary.Read(r, binary.BigEndian, &refIndex); err != nil {
				return nil, errors.Wrapf(err, "reading MethodHandle reference at index %d", i)
			}
			pool[i] = &ConstantMethodHandle{ReferenceKind: kind, ReferenceIndex: refIndex}

		case TagMethodType:
			var descIndex uint16
			if err := binary.Read(r, binary.BigEndian, &descIndex); err != nil {
				return nil, errors.Wrapf(err, "reading MethodType at index %d", i)
			}
			pool[i] = &ConstantMethodType{DescriptorIndex: descIndex}

		case TagInvokeDynamic:
			var bsmIndex, natIndex uint16
			if err := binary.Read(r, binary.BigEndian, &bsmIndex); err != nil {
				return nil, errors.Wrapf(err, "reading InvokeDynamic bsm_index at index %d", i)
			}
			if err := binary.Read(r, binary.BigEndian, &natIndex); err != nil {
				return nil, errors.Wrapf(err, "reading InvokeDynamic name_and_type_index at index %d", i)
			}
			pool[i] = &ConstantInvokeDynamic{BootstrapMethodAttrIndex: bsmIndex, NameAndTypeIndex: natIndex}

		default:
			return nil, errors.Errorf("unknown constant pool tag %d at index %d", tag, i)
		}
	}

	return pool, nil
}

// GetUtf8 returns the Utf8 string at the given constant pool index.
func GetUtf8(pool []ConstantPoolEntry, index uint16) (string, error) {
	if int(index) >= len(pool) || pool[index] == nil {
		return "", errors.Errorf("invalid constant pool index %d", index)
	}
	utf8, ok := pool[index].(*ConstantUtf8)
	if !ok {
		return "", errors.Errorf("constant pool index %d is not Utf8 (tag=%d)", index, pool[index].Tag())
	}
	return utf8.Value, nil
}

// GetClassName returns the class name referenced by a CONSTANT_Class entry.
func GetClassName(pool []ConstantPoolEntry, classIndex uint16) (string, error) {
	if int(classIndex) >= len(pool) || pool[classIndex] == nil {
		return "", errors.Errorf("invalid constant pool index %d", classIndex)
	}
	class, ok := pool[classIndex].(*ConstantClass)
	if !ok {
		return "", errors.Errorf("constant pool index %d is not Class", classIndex)
	}
	return GetUtf8(pool, class.NameIndex)
}

// getNameAndType resolves a CONSTANT_NameAndType into (name, descriptor).
func getNameAndType(pool []ConstantPoolEntry, index uint16) (string, string, error) {
	if int(index) >= len(pool) || pool[index] == nil {
		return "", "", errors.Errorf("invalid NameAndType index %d", index)
	}
	nat, ok := pool[index].(*ConstantNameAndType)
	if !ok {
		return "", "", errors.Errorf("constant pool index %d is not NameAndType", index)
	}
	name, err := GetUtf8(pool, nat.NameIndex)
	if err != nil {
		return "", "", errors.Wrap(err, "resolving NameAndType name")
	}
	desc, err := GetUtf8(pool, nat.DescriptorIndex)
	if err != nil {
		return "", "", errors.Wrap(err, "resolving NameAndType descriptor")
	}
	return name, desc, nil
}

// MemberRefInfo holds a symbolic field, method, or interface-method reference.
type MemberRefInfo struct {
	ClassName  string
	Name       string
	Descriptor string
}

// ResolveFieldref resolves a CONSTANT_Fieldref entry.
func ResolveFieldref(pool []ConstantPoolEntry, index uint16) (*MemberRefInfo, error) {
	if int(index) >= len(pool) || pool[index] == nil {
		return nil, errors.Errorf("invalid constant pool index %d", index)
	}
	fref, ok := pool[index].(*ConstantFieldref)
	if !ok {
		return nil, errors.Errorf("constant pool index %d is not Fieldref", index)
	}
	return resolveMemberRef(pool, fref.ClassIndex, fref.NameAndTypeIndex)
}

// ResolveMethodref resolves a CONSTANT_Methodref entry.
func ResolveMethodref(pool []ConstantPoolEntry, index uint16) (*MemberRefInfo, error) {
	if int(index) >= len(pool) || pool[index] == nil {
		return nil, errors.Errorf("invalid constant pool index %d", index)
	}
	mref, ok := pool[index].(*ConstantMethodref)
	if !ok {
		return nil, errors.Errorf("constant pool index %d is not Methodref", index)
	}
	return resolveMemberRef(pool, mref.ClassIndex, mref.NameAndTypeIndex)
}

// ResolveInterfaceMethodref resolves a CONSTANT_InterfaceMethodref entry.
func ResolveInterfaceMethodref(pool []ConstantPoolEntry, index uint16) (*MemberRefInfo, error) {
	if int(index) >= len(pool) || pool[index] == nil {
		return nil, errors.Errorf("invalid constant pool index %d", index)
	}
	mref, ok := pool[index].(*ConstantInterfaceMethodref)
	if !ok {
		return nil, errors.Errorf("constant pool index %d is not InterfaceMethodref", index)
	}
	return resolveMemberRef(pool, mref.ClassIndex, mref.NameAndTypeIndex)
}

// ResolveAnyMethodref resolves either a Methodref or an InterfaceMethodref.
// Some compilers emit invokestatic against interface methods.
func ResolveAnyMethodref(pool []ConstantPoolEntry, index uint16) (*MemberRefInfo, error) {
	if ref, err := ResolveMethodref(pool, index); err == nil {
		return ref, nil
	}
	return ResolveInterfaceMethodref(pool, index)
}

func resolveMemberRef(pool []ConstantPoolEntry, classIndex, natIndex uint16) (*MemberRefInfo, error) {
	className, err := GetClassName(pool, classIndex)
	if err != nil {
		return nil, errors.Wrap(err, "resolving member ref class")
	}
	name, desc, err := getNameAndType(pool, natIndex)
	if err != nil {
		return nil, err
	}
	return &MemberRefInfo{ClassName: className, Name: name, Descriptor: desc}, nil
}

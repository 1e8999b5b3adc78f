package classfile

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

const classMagic = 0xCAFEBABE

// maxSupportedMajor is Java 8's class-file version.
const maxSupportedMajor = 52

// ParseFile opens and parses a .class file from the given path.
func ParseFile(path string) (*ClassFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a .class file from the given reader and returns a ClassFile.
func Parse(r io.Reader) (*ClassFile, error) {
	cf := &ClassFile{}

	var magic uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return nil, errors.Wrap(err, "reading magic number")
	}
	if magic != classMagic {
		return nil, errors.Errorf("invalid magic number: 0x%X (expected 0xCAFEBABE)", magic)
	}

	if err := binary.Read(r, binary.BigEndian, &cf.MinorVersion); err != nil {
		return nil, errors.Wrap(err, "reading minor version")
	}
	if err := binary.Read(r, binary.BigEndian, &cf.MajorVersion); err != nil {
		return nil, errors.Wrap(err, "reading major version")
	}
	if cf.MajorVersion > maxSupportedMajor {
		return nil, errors.Errorf("unsupported class file version %d.%d (max major %d)",
			cf.MajorVersion, cf.MinorVersion, maxSupportedMajor)
	}

	var cpCount uint16
	if err := binary.Read(r, binary.BigEndian, &cpCount); err != nil {
		return nil, errors.Wrap(err, "reading constant pool count")
	}
	pool, err := parseConstantPool(r, cpCount)
	if err != nil {
		return nil, errors.Wrap(err, "parsing constant pool")
	}
	cf.ConstantPool = pool

	if err := binary.Read(r, binary.BigEndian, &cf.AccessFlags); err != nil {
		return nil, errors.Wrap(err, "reading access flags")
	}
	if err := binary.Read(r, binary.BigEndian, &cf.ThisClass); err != nil {
		return nil, errors.Wrap(err, "reading this_class")
	}
	if err := binary.Read(r, binary.BigEndian, &cf.SuperClass); err != nil {
		return nil, errors.Wrap(err, "reading super_class")
	}

	var interfacesCount uint16
	if err := binary.Read(r, binary.BigEndian, &interfacesCount); err != nil {
		return nil, errors.Wrap(err, "reading interfaces count")
	}
	cf.Interfaces = make([]uint16, interfacesCount)
	for i := uint16(0); i < interfacesCount; i++ {
		if err := binary.Read(r, binary.BigEndian, &cf.Interfaces[i]); err != nil {
			return nil, errors.Wrapf(err, "reading interface %d", i)
		}
	}

	var fieldsCount uint16
	if err := binary.Read(r, binary.BigEndian, &fieldsCount); err != nil {
		return nil, errors.Wrap(err, "reading fields count")
	}
	cf.Fields, err = parseFields(r, cf.ConstantPool, fieldsCount)
	if err != nil {
		return nil, errors.Wrap(err, "parsing fields")
	}

	var methodsCount uint16
	if err := binary.Read(r, binary.BigEndian, &methodsCount); err != nil {
		return nil, errors.Wrap(err, "reading methods count")
	}
	cf.Methods, err = parseMethods(r, cf.ConstantPool, methodsCount)
	if err != nil {
		return nil, errors.Wrap(err, "parsing methods")
	}

	if err := cf.parseClassAttributes(r); err != nil {
		return nil, errors.Wrap(err, "parsing class attributes")
	}

	return cf, nil
}

func parseFields(r io.Reader, pool []ConstantPoolEntry, count uint16) ([]FieldInfo, error) {
	fields := make([]FieldInfo, count)
	for i := uint16(0); i < count; i++ {
		var accessFlags, nameIndex, descIndex, attrCount uint16
		if err := binary.Read(r, binary.BigEndian, &accessFlags); err != nil {
			return nil, errors.Wrapf(err, "reading field %d access flags", i)
		}
		if err := binary.Read(r, binary.BigEndian, &nameIndex); err != nil {
			return nil, errors.Wrapf(err, "reading field %d name index", i)
		}
		if err := binary.Read(r, binary.BigEndian, &descIndex); err != nil {
			return nil, errors.Wrapf(err, "reading field %d descriptor index", i)
		}
		if err := binary.Read(r, binary.BigEndian, &attrCount); err != nil {
			return nil, errors.Wrapf(err, "reading field %d attributes count", i)
		}

		name, err := GetUtf8(pool, nameIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving field %d name", i)
		}
		desc, err := GetUtf8(pool, descIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving field %d descriptor", i)
		}

		attrs, err := parseAttributeInfos(r, pool, attrCount)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing field %d attributes", i)
		}

		fi := FieldInfo{
			AccessFlags: accessFlags,
			Name:        name,
			Descriptor:  desc,
			Attributes:  attrs,
		}
		for _, attr := range attrs {
			if attr.Name == "ConstantValue" && len(attr.Data) >= 2 {
				fi.ConstantValueIndex = binary.BigEndian.Uint16(attr.Data[0:2])
			}
		}
		fields[i] = fi
	}
	return fields, nil
}

func parseMethods(r io.Reader, pool []ConstantPoolEntry, count uint16) ([]MethodInfo, error) {
	methods := make([]MethodInfo, count)
	for i := uint16(0); i < count; i++ {
		var accessFlags, nameIndex, descIndex, attrCount uint16
		if err := binary.Read(r, binary.BigEndian, &accessFlags); err != nil {
			return nil, errors.Wrapf(err, "reading method %d access flags", i)
		}
		if err := binary.Read(r, binary.BigEndian, &nameIndex); err != nil {
			return nil, errors.Wrapf(err, "reading method %d name index", i)
		}
		if err := binary.Read(r, binary.BigEndian, &descIndex); err != nil {
			return nil, errors.Wrapf(err, "reading method %d descriptor index", i)
		}
		if err := binary.Read(r, binary.BigEndian, &attrCount); err != nil {
			return nil, errors.Wrapf(err, "reading method %d attributes count", i)
		}

		name, err := GetUtf8(pool, nameIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving method %d name", i)
		}
		desc, err := GetUtf8(pool, descIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving method %d descriptor", i)
		}

		attrs, err := parseAttributeInfos(r, pool, attrCount)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing method %d attributes", i)
		}

		m := MethodInfo{
			AccessFlags: accessFlags,
			Name:        name,
			Descriptor:  desc,
			Attributes:  attrs,
		}

		for _, attr := range attrs {
			switch attr.Name {
			case "Code":
				code, err := parseCodeAttribute(attr.Data, pool)
				if err != nil {
					return nil, errors.Wrapf(err, "parsing Code attribute for method %s", name)
				}
				m.Code = code
			case "Exceptions":
				m.Exceptions = parseExceptionsAttribute(attr.Data)
			}
		}

		methods[i] = m
	}
	return methods, nil
}

func parseAttributeInfos(r io.Reader, pool []ConstantPoolEntry, count uint16) ([]AttributeInfo, error) {
	attrs := make([]AttributeInfo, count)
	for i := uint16(0); i < count; i++ {
		var nameIndex uint16
		if err := binary.Read(r, binary.BigEndian, &nameIndex); err != nil {
			return nil, errors.Wrapf(err, "reading attribute %d name index", i)
		}
		var length uint32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, errors.Wrapf(err, "reading attribute %d length", i)
		}
		data := make([]byte, length)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, errors.Wrapf(err, "reading attribute %d data", i)
		}

		name, err := GetUtf8(pool, nameIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving attribute %d name", i)
		}

		attrs[i] = AttributeInfo{Name: name, Data: data}
	}
	return attrs, nil
}

func parseCodeAttribute(data []byte, pool []ConstantPoolEntry) (*CodeAttribute, error) {
	if len(data) < 8 {
		return nil, errors.Errorf("Code attribute too short: %d bytes", len(data))
	}

	maxStack := binary.BigEndian.Uint16(data[0:2])
	maxLocals := binary.BigEndian.Uint16(data[2:4])
	codeLength := binary.BigEndian.Uint32(data[4:8])

	if len(data) < 8+int(codeLength) {
		return nil, errors.Errorf("Code attribute data too short for code_length %d", codeLength)
	}

	code := make([]byte, codeLength)
	copy(code, data[8:8+codeLength])

	offset := 8 + int(codeLength)
	if offset+2 > len(data) {
		return nil, errors.New("Code attribute truncated before exception table")
	}
	exTableLen := binary.BigEndian.Uint16(data[offset : offset+2])
	offset += 2
	handlers := make([]ExceptionHandler, exTableLen)
	for i := uint16(0); i < exTableLen; i++ {
		if offset+8 > len(data) {
			return nil, errors.Errorf("exception table truncated at entry %d", i)
		}
		handlers[i] = ExceptionHandler{
			StartPC:   binary.BigEndian.Uint16(data[offset : offset+2]),
			EndPC:     binary.BigEndian.Uint16(data[offset+2 : offset+4]),
			HandlerPC: binary.BigEndian.Uint16(data[offset+4 : offset+6]),
			CatchType: binary.BigEndian.Uint16(data[offset+6 : offset+8]),
		}
		offset += 8
	}

	ca := &CodeAttribute{
		MaxStack:          maxStack,
		MaxLocals:         maxLocals,
		Code:              code,
		ExceptionHandlers: handlers,
	}

	// Nested Code attributes: LineNumberTable, LocalVariableTable, StackMapTable
	if offset+2 <= len(data) {
		attrCount := binary.BigEndian.Uint16(data[offset : offset+2])
		offset += 2
		for i := uint16(0); i < attrCount; i++ {
			if offset+6 > len(data) {
				break
			}
			nameIndex := binary.BigEndian.Uint16(data[offset : offset+2])
			length := binary.BigEndian.Uint32(data[offset+2 : offset+6])
			offset += 6
			if offset+int(length) > len(data) {
				break
			}
			attrData := data[offset : offset+int(length)]
			offset += int(length)

			name, err := GetUtf8(pool, nameIndex)
			if err != nil {
				continue
			}
			ca.Attributes = append(ca.Attributes, AttributeInfo{Name: name, Data: attrData})
			if name == "LineNumberTable" {
				ca.LineNumbers = parseLineNumberTable(attrData)
			}
		}
	}

	return ca, nil
}

func parseLineNumberTable(data []byte) []LineNumberEntry {
	if len(data) < 2 {
		return nil
	}
	count := binary.BigEndian.Uint16(data[0:2])
	entries := make([]LineNumberEntry, 0, count)
	offset := 2
	for i := uint16(0); i < count && offset+4 <= len(data); i++ {
		entries = append(entries, LineNumberEntry{
			StartPC:    binary.BigEndian.Uint16(data[offset : offset+2]),
			LineNumber: binary.BigEndian.Uint16(data[offset+2 : offset+4]),
		})
		offset += 4
	}
	return entries
}

func parseExceptionsAttribute(data []byte) []uint16 {
	if len(data) < 2 {
		return nil
	}
	count := binary.BigEndian.Uint16(data[0:2])
	out := make([]uint16, 0, count)
	offset := 2
	for i := uint16(0); i < count && offset+2 <= len(data); i++ {
		out = append(out, binary.BigEndian.Uint16(data[offset:offset+2]))
		offset += 2
	}
	return out
}

func (cf *ClassFile) parseClassAttributes(r io.Reader) error {
	var count uint16
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return err
	}
	attrs, err := parseAttributeInfos(r, cf.ConstantPool, count)
	if err != nil {
		return err
	}
	cf.Attributes = attrs

	for _, attr := range attrs {
		switch attr.Name {
		case "SourceFile":
			if len(attr.Data) >= 2 {
				idx := binary.BigEndian.Uint16(attr.Data[0:2])
				cf.SourceFile, _ = GetUtf8(cf.ConstantPool, idx)
			}
		case "Signature":
			if len(attr.Data) >= 2 {
				idx := binary.BigEndian.Uint16(attr.Data[0:2])
				cf.Signature, _ = GetUtf8(cf.ConstantPool, idx)
			}
		case "InnerClasses":
			cf.InnerClasses = parseInnerClasses(attr.Data)
		case "EnclosingMethod":
			if len(attr.Data) >= 4 {
				cf.EnclosingMethod = &EnclosingMethod{
					ClassIndex:  binary.BigEndian.Uint16(attr.Data[0:2]),
					MethodIndex: binary.BigEndian.Uint16(attr.Data[2:4]),
				}
			}
		case "BootstrapMethods":
			bsm, err := parseBootstrapMethods(attr.Data)
			if err != nil {
				return errors.Wrap(err, "parsing BootstrapMethods")
			}
			cf.BootstrapMethods = bsm
		}
	}
	return nil
}

func parseInnerClasses(data []byte) []InnerClass {
	if len(data) < 2 {
		return nil
	}
	count := binary.BigEndian.Uint16(data[0:2])
	out := make([]InnerClass, 0, count)
	offset := 2
	for i := uint16(0); i < count && offset+8 <= len(data); i++ {
		out = append(out, InnerClass{
			InnerClassInfoIndex:   binary.BigEndian.Uint16(data[offset : offset+2]),
			OuterClassInfoIndex:   binary.BigEndian.Uint16(data[offset+2 : offset+4]),
			InnerNameIndex:        binary.BigEndian.Uint16(data[offset+4 : offset+6]),
			InnerClassAccessFlags: binary.BigEndian.Uint16(data[offset+6 : offset+8]),
		})
		offset += 8
	}
	return out
}

func parseBootstrapMethods(data []byte) ([]BootstrapMethod, error) {
	if len(data) < 2 {
		return nil, errors.New("BootstrapMethods data too short")
	}
	numMethods := binary.BigEndian.Uint16(data[0:2])
	offset := 2
	methods := make([]BootstrapMethod, numMethods)
	for i := uint16(0); i < numMethods; i++ {
		if offset+4 > len(data) {
			return nil, errors.Errorf("BootstrapMethods truncated at method %d", i)
		}
		methodRef := binary.BigEndian.Uint16(data[offset : offset+2])
		numArgs := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		offset += 4
		args := make([]uint16, numArgs)
		for j := uint16(0); j < numArgs; j++ {
			if offset+2 > len(data) {
				return nil, errors.Errorf("BootstrapMethods truncated at arg %d of method %d", j, i)
			}
			args[j] = binary.BigEndian.Uint16(data[offset : offset+2])
			offset += 2
		}
		methods[i] = BootstrapMethod{MethodRef: methodRef, BootstrapArguments: args}
	}
	return methods, nil
}

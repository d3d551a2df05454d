package script

import (
	"fmt"
	"strings"
)

// TypeTag identifies the base kind of a script type. Tag values are part of
// the capture wire format and must not be renumbered.
type TypeTag uint8

const (
	TypeVoid   TypeTag = 0
	TypeBool   TypeTag = 1
	TypeInt    TypeTag = 2
	TypeCount  TypeTag = 3
	TypeDouble TypeTag = 4
	TypeString TypeTag = 5
	TypeTable  TypeTag = 6
	TypeVector TypeTag = 7
	TypeAny    TypeTag = 8
	TypeFunc   TypeTag = 9
)

var typeTagNames = map[TypeTag]string{
	TypeVoid:   "void",
	TypeBool:   "bool",
	TypeInt:    "int",
	TypeCount:  "count",
	TypeDouble: "double",
	TypeString: "string",
	TypeTable:  "table",
	TypeVector: "vector",
	TypeAny:    "any",
	TypeFunc:   "func",
}

// String returns the script-level name of the tag.
func (t TypeTag) String() string {
	if name, ok := typeTagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TypeTag(%d)", uint8(t))
}

// Valid reports whether t is a known tag.
func (t TypeTag) Valid() bool {
	_, ok := typeTagNames[t]
	return ok
}

// Param is a named function parameter.
type Param struct {
	Name string
	Type *Type
}

// Type describes a script type.
type Type struct {
	Tag    TypeTag
	Index  *Type   // table key type
	Yield  *Type   // table value, vector element, function return
	Params []Param // function parameters
}

// Base types are shared; compare them with SameType rather than by pointer.
var (
	VoidType   = &Type{Tag: TypeVoid}
	BoolType   = &Type{Tag: TypeBool}
	IntType    = &Type{Tag: TypeInt}
	CountType  = &Type{Tag: TypeCount}
	DoubleType = &Type{Tag: TypeDouble}
	StringType = &Type{Tag: TypeString}
	AnyType    = &Type{Tag: TypeAny}
)

// BaseType returns the shared type for a non-composite tag.
func BaseType(tag TypeTag) *Type {
	switch tag {
	case TypeVoid:
		return VoidType
	case TypeBool:
		return BoolType
	case TypeInt:
		return IntType
	case TypeCount:
		return CountType
	case TypeDouble:
		return DoubleType
	case TypeString:
		return StringType
	case TypeAny:
		return AnyType
	}
	panic(fmt.Sprintf("BaseType: %s is not a base type", tag))
}

// TableOf returns the type table[index] of yield.
func TableOf(index, yield *Type) *Type {
	return &Type{Tag: TypeTable, Index: index, Yield: yield}
}

// VectorOf returns the type vector of elem.
func VectorOf(elem *Type) *Type {
	return &Type{Tag: TypeVector, Yield: elem}
}

// FuncOf returns a function type.
func FuncOf(params []Param, yield *Type) *Type {
	if yield == nil {
		yield = VoidType
	}
	return &Type{Tag: TypeFunc, Params: params, Yield: yield}
}

// IsManaged reports whether values of this type may hold a managed object.
func (t *Type) IsManaged() bool {
	switch t.Tag {
	case TypeTable, TypeVector, TypeFunc, TypeAny:
		return true
	}
	return false
}

// IsNumeric reports whether t is int, count or double.
func (t *Type) IsNumeric() bool {
	return t.Tag == TypeInt || t.Tag == TypeCount || t.Tag == TypeDouble
}

// IsAtomic reports whether t can be used as a table index or switch key.
func (t *Type) IsAtomic() bool {
	switch t.Tag {
	case TypeBool, TypeInt, TypeCount, TypeDouble, TypeString:
		return true
	}
	return false
}

func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Tag {
	case TypeTable:
		return fmt.Sprintf("table[%s] of %s", t.Index, t.Yield)
	case TypeVector:
		return fmt.Sprintf("vector of %s", t.Yield)
	case TypeFunc:
		var sb strings.Builder
		sb.WriteString("function(")
		for i, p := range t.Params {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s: %s", p.Name, p.Type)
		}
		sb.WriteString(")")
		if t.Yield != nil && t.Yield.Tag != TypeVoid {
			fmt.Fprintf(&sb, ": %s", t.Yield)
		}
		return sb.String()
	}
	return t.Tag.String()
}

// SameType reports structural type equality.
func SameType(a, b *Type) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil || a.Tag != b.Tag {
		return false
	}
	switch a.Tag {
	case TypeTable:
		return SameType(a.Index, b.Index) && SameType(a.Yield, b.Yield)
	case TypeVector:
		return SameType(a.Yield, b.Yield)
	case TypeFunc:
		if len(a.Params) != len(b.Params) || !SameType(a.Yield, b.Yield) {
			return false
		}
		for i := range a.Params {
			if !SameType(a.Params[i].Type, b.Params[i].Type) {
				return false
			}
		}
	}
	return true
}

// Promote returns the numeric type that results from combining a and b:
// count < int < double.
func Promote(a, b *Type) *Type {
	if a.Tag == TypeDouble || b.Tag == TypeDouble {
		return DoubleType
	}
	if a.Tag == TypeInt || b.Tag == TypeInt {
		return IntType
	}
	return CountType
}

// CanHold reports whether a value whose dynamic type is have may be used
// where want is expected. This is the check applied when unpacking an any.
func CanHold(want, have *Type) bool {
	if want.Tag == TypeAny {
		return true
	}
	if have == nil {
		return false
	}
	return SameType(want, have)
}

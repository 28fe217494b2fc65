package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// ShapeKind enumerates the result shapes a call can expect.
type ShapeKind int

const (
	ShapeNone ShapeKind = iota // notification, no result
	ShapeEmpty
	ShapeString
	ShapeDouble
	ShapeBoolean
	ShapeDTO
	ShapeStringList
	ShapeBooleanList
	ShapeDTOList
)

var shapeNames = [...]string{"none", "empty", "string", "double", "boolean", "dto", "list<string>", "list<boolean>", "list<dto>"}

func (k ShapeKind) String() string {
	if int(k) < len(shapeNames) {
		return shapeNames[k]
	}
	return fmt.Sprintf("ShapeKind(%d)", int(k))
}

// Shape describes the expected result of a call and the Go type it decodes into:
//
//	Empty        struct{}
//	String       string
//	Double       float64
//	Boolean      bool
//	DTO(T)       T
//	StringList   []string
//	BooleanList  []bool
//	DTOList(T)   []T
type Shape struct {
	kind ShapeKind
	elem reflect.Type
}

func None() Shape        { return Shape{kind: ShapeNone} }
func Empty() Shape       { return Shape{kind: ShapeEmpty} }
func String() Shape      { return Shape{kind: ShapeString} }
func Double() Shape      { return Shape{kind: ShapeDouble} }
func Boolean() Shape     { return Shape{kind: ShapeBoolean} }
func StringList() Shape  { return Shape{kind: ShapeStringList} }
func BooleanList() Shape { return Shape{kind: ShapeBooleanList} }

// DTO expects a single value of type t. A nil t makes the shape invalid.
func DTO(t reflect.Type) Shape { return Shape{kind: ShapeDTO, elem: t} }

// DTOList expects an ordered list of values of type t. A nil t makes the shape invalid.
func DTOList(t reflect.Type) Shape { return Shape{kind: ShapeDTOList, elem: t} }

func DTOOf[T any]() Shape     { return DTO(reflect.TypeFor[T]()) }
func DTOListOf[T any]() Shape { return DTOList(reflect.TypeFor[T]()) }

func (s Shape) Kind() ShapeKind { return s.kind }

func (s Shape) String() string {
	if s.elem != nil {
		return fmt.Sprintf("%s(%s)", s.kind, s.elem)
	}
	return s.kind.String()
}

// Validate reports whether a call can be registered for this shape.
func (s Shape) Validate() error {
	switch s.kind {
	case ShapeNone:
		return fmt.Errorf("%w: a notification expects no result", ErrInvalidArgument)
	case ShapeDTO, ShapeDTOList:
		if s.elem == nil {
			return fmt.Errorf("%w: result type of %s shape must not be nil", ErrInvalidArgument, s.kind)
		}
	case ShapeEmpty, ShapeString, ShapeDouble, ShapeBoolean, ShapeStringList, ShapeBooleanList:
	default:
		return fmt.Errorf("%w: unknown shape %s", ErrInvalidArgument, s.kind)
	}
	return nil
}

// GoType is the type a result of this shape decodes into.
func (s Shape) GoType() reflect.Type {
	switch s.kind {
	case ShapeEmpty:
		return reflect.TypeFor[struct{}]()
	case ShapeString:
		return reflect.TypeFor[string]()
	case ShapeDouble:
		return reflect.TypeFor[float64]()
	case ShapeBoolean:
		return reflect.TypeFor[bool]()
	case ShapeStringList:
		return reflect.TypeFor[[]string]()
	case ShapeBooleanList:
		return reflect.TypeFor[[]bool]()
	case ShapeDTO:
		return s.elem
	case ShapeDTOList:
		if s.elem != nil {
			return reflect.SliceOf(s.elem)
		}
	}
	return nil
}

func (s Shape) isList() bool {
	return s.kind == ShapeStringList || s.kind == ShapeBooleanList || s.kind == ShapeDTOList
}

var jsonNull = []byte("null")

// decode unmarshals raw into dst, a pointer to the shape's Go type.
func (s Shape) decode(raw json.RawMessage, dst any) error {
	if s.kind == ShapeEmpty {
		return nil
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, jsonNull) {
		if s.isList() {
			return nil
		}
		return fmt.Errorf("%w: %s result is missing", ErrDecodeMismatch, s)
	}
	if err := json.Unmarshal(trimmed, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDecodeMismatch, s, err)
	}
	return nil
}

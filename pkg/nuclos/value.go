package nuclos

import "encoding/json"

// ValueKind tags what a field access resolved to.
type ValueKind int

const (
	KindScalar ValueKind = iota
	KindReference
	KindDependencies
)

// Value is the tagged result of reading a record field by name or id. It is
// either a scalar attribute value, a reference to another record, or the list
// of dependent child records.
type Value struct {
	kind   ValueKind
	scalar any
	ref    *Record
	deps   []*Record
}

func scalarValue(v any) Value {
	return Value{kind: KindScalar, scalar: v}
}

func referenceValue(r *Record) Value {
	return Value{kind: KindReference, ref: r}
}

func dependenciesValue(records []*Record) Value {
	return Value{kind: KindDependencies, deps: records}
}

func (v Value) Kind() ValueKind {
	return v.kind
}

// IsNil reports whether the field is unset (null scalar or cleared reference).
func (v Value) IsNil() bool {
	switch v.kind {
	case KindScalar:
		return v.scalar == nil
	case KindReference:
		return v.ref == nil
	default:
		return false
	}
}

// Scalar returns the raw attribute value as decoded from JSON.
func (v Value) Scalar() any {
	return v.scalar
}

func (v Value) String() string {
	s, _ := v.scalar.(string)

	return s
}

func (v Value) Bool() bool {
	b, _ := v.scalar.(bool)

	return b
}

func (v Value) Int() int64 {
	n, _ := toInt64(v.scalar)

	return n
}

func (v Value) Float() float64 {
	switch n := v.scalar.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()

		return f
	default:
		return 0
	}
}

// Reference returns the referenced record. It is nil for a cleared reference
// and for non-reference values.
func (v Value) Reference() *Record {
	return v.ref
}

// Dependencies returns the dependent child records in server order.
func (v Value) Dependencies() []*Record {
	return v.deps
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()

		return i, err == nil
	default:
		return 0, false
	}
}

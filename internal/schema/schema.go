// Package schema implements ELSPETH's schema model: named, typed
// field sets and the producer/consumer compatibility check every edge in
// the execution graph is validated against.
package schema

import "sort"

// FieldType is a scalar or structured field type. Numeric types widen
// according to widensTo below; everything else requires an exact match.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInt     FieldType = "int"
	TypeFloat   FieldType = "float"
	TypeBool    FieldType = "bool"
	TypeBytes   FieldType = "bytes"
	TypeObject  FieldType = "object"
	TypeArray   FieldType = "array"
	TypeAny     FieldType = "any"
)

// Field is a single typed field definition.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	Default  any
}

// Schema is a named ordered set of typed fields. A nil *Schema is the
// "dynamic" sentinel: any concrete shape is acceptable, and compatibility
// against it holds trivially in both directions.
type Schema struct {
	Name    string
	Fields  []Field
	Dynamic bool
}

// IsDynamic reports whether s should bypass compatibility checking — either
// because s itself is nil (no schema declared) or its Dynamic flag is set.
func (s *Schema) IsDynamic() bool {
	return s == nil || s.Dynamic
}

// Field looks up a field by name.
func (s *Schema) Field(name string) (Field, bool) {
	if s == nil {
		return Field{}, false
	}
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// widensTo reports whether "from" may be substituted where "to" is
// required: an exact type match, numeric widening (int -> float), or a
// required type of any, which accepts every type.
func widensTo(from, to FieldType) bool {
	if from == to {
		return true
	}
	if from == TypeInt && to == TypeFloat {
		return true
	}
	if to == TypeAny {
		return true
	}
	return false
}

// MissingRequiredFields implements the single compatibility function all
// edge checks route through: produces(P) ⊇ requires(C). Returns a sorted
// list of consumer field names that P cannot satisfy; empty iff compatible.
//
// If either schema is dynamic, compatibility holds trivially and this
// returns nil.
func MissingRequiredFields(producer, consumer *Schema) []string {
	if producer.IsDynamic() || consumer.IsDynamic() {
		return nil
	}

	var missing []string
	for _, cf := range consumer.Fields {
		if !cf.Required {
			continue
		}
		pf, ok := producer.Field(cf.Name)
		if !ok {
			missing = append(missing, cf.Name)
			continue
		}
		if !widensTo(pf.Type, cf.Type) {
			missing = append(missing, cf.Name)
		}
	}
	sort.Strings(missing)
	return missing
}

// Compatible reports whether producer satisfies consumer's requirements.
func Compatible(producer, consumer *Schema) bool {
	return len(MissingRequiredFields(producer, consumer)) == 0
}

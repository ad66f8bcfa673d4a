package controlplane

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"time"
	"unicode/utf8"
)

// Tipos de campo soportados.
const (
	TypeString   = "string"
	TypeInteger  = "integer"
	TypeNumber   = "number"
	TypeBoolean  = "boolean"
	TypeDuration = "duration" // string en formato time.ParseDuration ("30s")
	TypeObject   = "object"
	TypeArray    = "array"
)

// SchemaAny acepta cualquier objeto JSON. Siempre está registrado.
const SchemaAny = "any"

// Field describe un campo. Min/Max aplican al valor en integer/number, a la
// longitud en string/array y a los segundos en duration.
type Field struct {
	Type     string           `yaml:"type" json:"type"`
	Required bool             `yaml:"required,omitempty" json:"required,omitempty"`
	Min      *float64         `yaml:"min,omitempty" json:"min,omitempty"`
	Max      *float64         `yaml:"max,omitempty" json:"max,omitempty"`
	Enum     []any            `yaml:"enum,omitempty" json:"enum,omitempty"`
	Pattern  string           `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Fields   map[string]Field `yaml:"fields,omitempty" json:"fields,omitempty"` // object
	Items    *Field           `yaml:"items,omitempty" json:"items,omitempty"`   // array

	re *regexp.Regexp
}

// Schema es el contrato de un payload de configuración.
type Schema struct {
	ID                   string           `yaml:"id" json:"id"`
	Description          string           `yaml:"description,omitempty" json:"description,omitempty"`
	Fields               map[string]Field `yaml:"fields" json:"fields"`
	AdditionalProperties bool             `yaml:"additional_properties" json:"additionalProperties"`
}

// Registry es el conjunto inmutable de schemas conocidos.
type Registry struct {
	schemas map[string]*Schema
}

// NewRegistry valida y compila schemas (patterns incluidos).
func NewRegistry(schemas ...Schema) (*Registry, error) {
	r := &Registry{schemas: map[string]*Schema{
		SchemaAny: {ID: SchemaAny, Description: "cualquier objeto JSON", AdditionalProperties: true},
	}}
	for i := range schemas {
		s := schemas[i]
		if s.ID == "" {
			return nil, fmt.Errorf("%w: schema #%d without id", ErrBadInput, i)
		}
		if _, dup := r.schemas[s.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate schema %q", ErrBadInput, s.ID)
		}
		fields, err := compileFields(s.Fields, "")
		if err != nil {
			return nil, fmt.Errorf("schema %q: %w", s.ID, err)
		}
		s.Fields = fields
		r.schemas[s.ID] = &s
	}
	return r, nil
}

func compileFields(in map[string]Field, prefix string) (map[string]Field, error) {
	out := make(map[string]Field, len(in))
	for name, f := range in {
		path := join(prefix, name)
		cf, err := compileField(f, path)
		if err != nil {
			return nil, err
		}
		out[name] = cf
	}
	return out, nil
}

func compileField(f Field, path string) (Field, error) {
	switch f.Type {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeDuration, TypeObject, TypeArray:
	default:
		return f, fmt.Errorf("%w: field %q: unknown type %q", ErrBadInput, path, f.Type)
	}
	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		return f, fmt.Errorf("%w: field %q: min > max", ErrBadInput, path)
	}
	if f.Pattern != "" {
		re, err := regexp.Compile(f.Pattern)
		if err != nil {
			return f, fmt.Errorf("%w: field %q: pattern: %v", ErrBadInput, path, err)
		}
		f.re = re
	}
	if len(f.Fields) > 0 {
		sub, err := compileFields(f.Fields, path)
		if err != nil {
			return f, err
		}
		f.Fields = sub
	}
	if f.Items != nil {
		it, err := compileField(*f.Items, path+"[]")
		if err != nil {
			return f, err
		}
		f.Items = &it
	}
	return f, nil
}

// Get retorna un schema por id.
func (r *Registry) Get(id string) (*Schema, bool) {
	s, ok := r.schemas[id]
	return s, ok
}

// IDs retorna los ids registrados, ordenados.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.schemas))
	for id := range r.schemas {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Validate verifica payload contra el schema id. Retorna ErrUnknownSchema o
// un *SchemaValidationError con todas las violaciones.
func (r *Registry) Validate(id string, payload json.RawMessage) error {
	s, ok := r.schemas[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSchema, id)
	}
	return s.Validate(payload)
}

// Validate verifica que payload sea un objeto JSON que cumpla el schema.
func (s *Schema) Validate(payload json.RawMessage) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return &SchemaValidationError{SchemaID: s.ID, Violations: []Violation{{Rule: "type", Message: "payload is not valid JSON"}}}
	}
	if dec.More() {
		return &SchemaValidationError{SchemaID: s.ID, Violations: []Violation{{Rule: "type", Message: "trailing data after JSON value"}}}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return &SchemaValidationError{SchemaID: s.ID, Violations: []Violation{{Rule: "type", Message: "payload must be a JSON object"}}}
	}

	var vs []Violation
	checkObject(obj, s.Fields, s.AdditionalProperties, "", &vs)
	if len(vs) == 0 {
		return nil
	}
	sort.SliceStable(vs, func(i, j int) bool { return vs[i].Field < vs[j].Field })
	return &SchemaValidationError{SchemaID: s.ID, Violations: vs}
}

func checkObject(obj map[string]any, fields map[string]Field, additional bool, prefix string, vs *[]Violation) {
	for name, f := range fields {
		val, present := obj[name]
		if !present || val == nil {
			if f.Required {
				*vs = append(*vs, Violation{Field: join(prefix, name), Rule: "required", Message: "field is required"})
			}
			continue
		}
		checkValue(val, f, join(prefix, name), vs)
	}
	if additional {
		return
	}
	for name := range obj {
		if _, known := fields[name]; !known {
			*vs = append(*vs, Violation{Field: join(prefix, name), Rule: "additional_properties", Message: "unknown field"})
		}
	}
}

func checkValue(val any, f Field, path string, vs *[]Violation) {
	bad := func(rule, format string, args ...any) {
		*vs = append(*vs, Violation{Field: path, Rule: rule, Message: fmt.Sprintf(format, args...)})
	}

	var measure float64 // valor que se compara con min/max
	switch f.Type {
	case TypeString:
		s, ok := val.(string)
		if !ok {
			bad("type", "expected string")
			return
		}
		measure = float64(utf8.RuneCountInString(s))
		if f.re != nil && !f.re.MatchString(s) {
			bad("pattern", "does not match %s", f.Pattern)
		}
	case TypeInteger:
		n, ok := val.(json.Number)
		if !ok {
			bad("type", "expected integer")
			return
		}
		i, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			bad("type", "expected integer, got %s", n)
			return
		}
		measure = float64(i)
	case TypeNumber:
		n, ok := val.(json.Number)
		if !ok {
			bad("type", "expected number")
			return
		}
		fv, err := n.Float64()
		if err != nil || math.IsInf(fv, 0) {
			bad("type", "expected number, got %s", n)
			return
		}
		measure = fv
	case TypeBoolean:
		if _, ok := val.(bool); !ok {
			bad("type", "expected boolean")
		}
	case TypeDuration:
		s, ok := val.(string)
		if !ok {
			bad("type", "expected duration string")
			return
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			bad("type", "invalid duration %q", s)
			return
		}
		measure = d.Seconds()
	case TypeObject:
		obj, ok := val.(map[string]any)
		if !ok {
			bad("type", "expected object")
			return
		}
		// sin fields declarados, el objeto es libre
		checkObject(obj, f.Fields, len(f.Fields) == 0, path, vs)
	case TypeArray:
		arr, ok := val.([]any)
		if !ok {
			bad("type", "expected array")
			return
		}
		measure = float64(len(arr))
		if f.Items != nil {
			for i, item := range arr {
				checkValue(item, *f.Items, fmt.Sprintf("%s[%d]", path, i), vs)
			}
		}
	}

	switch f.Type {
	case TypeString, TypeInteger, TypeNumber, TypeDuration, TypeArray:
		if f.Min != nil && measure < *f.Min {
			bad("min", "%s below minimum %v", describe(f.Type), *f.Min)
		}
		if f.Max != nil && measure > *f.Max {
			bad("max", "%s above maximum %v", describe(f.Type), *f.Max)
		}
	}
	if len(f.Enum) > 0 && !inEnum(val, f.Enum) {
		bad("enum", "value not in %v", f.Enum)
	}
}

func describe(typ string) string {
	switch typ {
	case TypeString, TypeArray:
		return "length"
	case TypeDuration:
		return "seconds"
	}
	return "value"
}

// inEnum compara por representación canónica: YAML decodifica 3 como int y
// el payload lo trae como json.Number.
func inEnum(val any, enum []any) bool {
	want := canonical(val)
	for _, e := range enum {
		if canonical(e) == want {
			return true
		}
	}
	return false
}

func canonical(v any) string {
	switch x := v.(type) {
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
		}
		return "n:" + x.String()
	case int:
		return "n:" + strconv.FormatFloat(float64(x), 'g', -1, 64)
	case int64:
		return "n:" + strconv.FormatFloat(float64(x), 'g', -1, 64)
	case float64:
		return "n:" + strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return "s:" + x
	case bool:
		return "b:" + strconv.FormatBool(x)
	}
	return fmt.Sprintf("?:%v", v)
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

package validation

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Validator checks request structs against their validate tags.
//
// Supported rules: required, max=N, oneof=a b c, hex, prefix (hex digits
// with an optional /bits mask suffix) and color (#rgb or #rrggbb). Pointer
// fields are optional: nil passes every rule except required. Deep checks
// (mask ranges, prefix widths) stay with the storage layer; this catches
// obvious garbage before it gets there.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a struct or a pointer to one
func (v *Validator) Validate(s interface{}) error {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return fmt.Errorf("validate expects a struct")
	}

	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		tag := fieldType.Tag.Get("validate")

		if tag == "" {
			continue
		}

		if err := v.validateField(field, tag); err != nil {
			return fmt.Errorf("%s: %w", fieldName(fieldType), err)
		}
	}

	return nil
}

// validateField applies each comma-separated rule to a single field
func (v *Validator) validateField(field reflect.Value, tag string) error {
	for _, rule := range strings.Split(tag, ",") {
		name, arg, _ := strings.Cut(rule, "=")

		if name == "required" {
			if field.IsZero() {
				return fmt.Errorf("field is required")
			}
			continue
		}

		// 其余规则只约束非空字符串
		str, ok := stringValue(field)
		if !ok || str == "" {
			continue
		}

		switch name {
		case "max":
			n, err := strconv.Atoi(arg)
			if err != nil {
				return fmt.Errorf("bad max rule %q", arg)
			}
			if len(str) > n {
				return fmt.Errorf("longer than %d characters", n)
			}

		case "oneof":
			if !oneOf(str, strings.Fields(arg)) {
				return fmt.Errorf("must be one of: %s", arg)
			}

		case "hex":
			if !isHex(str) {
				return fmt.Errorf("must be hexadecimal")
			}

		case "prefix":
			if err := checkPrefix(str); err != nil {
				return err
			}

		case "color":
			if !isHexColor(str) {
				return fmt.Errorf("must be a hex color like #1E90FF")
			}
		}
	}

	return nil
}

// fieldName prefers the json tag so errors match what the caller sent
func fieldName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" || tag == "-" {
		return f.Name
	}
	if idx := strings.IndexByte(tag, ','); idx >= 0 {
		tag = tag[:idx]
	}
	if tag == "" {
		return f.Name
	}
	return tag
}

func stringValue(field reflect.Value) (string, bool) {
	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			return "", false
		}
		field = field.Elem()
	}
	if field.Kind() != reflect.String {
		return "", false
	}
	return field.String(), true
}

func oneOf(s string, allowed []string) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// checkPrefix accepts 1-16 hex digits with an optional /bits suffix
func checkPrefix(s string) error {
	hexPart := s
	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		hexPart = s[:idx]
		bits, err := strconv.Atoi(s[idx+1:])
		if err != nil || bits < 1 || bits > 64 {
			return fmt.Errorf("bad prefix length in %q", s)
		}
	}
	if len(hexPart) < 1 || len(hexPart) > 16 || !isHex(hexPart) {
		return fmt.Errorf("bad prefix %q", s)
	}
	return nil
}

func isHexColor(s string) bool {
	if len(s) != 4 && len(s) != 7 {
		return false
	}
	if s[0] != '#' {
		return false
	}
	return isHex(s[1:])
}

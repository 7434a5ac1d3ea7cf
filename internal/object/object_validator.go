package object

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/microcosm-cc/bluemonday"
)

// Limits bounds the shape of a single object's attributes. Zero disables a check.
type Limits struct {
	MaxDepth    int
	MaxElements int
}

// Validator: complexity checks and optional sanitization of drawing objects
type Validator struct {
	limits    Limits
	sanitizer *bluemonday.Policy
}

// NewValidator creates a validator. With sanitize set, every string value is
// passed through a strict policy that strips all HTML.
func NewValidator(limits Limits, sanitize bool) *Validator {
	v := &Validator{limits: limits}
	if sanitize {
		v.sanitizer = bluemonday.StrictPolicy()
	}
	return v
}

// Check: validates complexity and returns the object to store and forward.
// Without sanitization the input is returned unchanged.
func (v *Validator) Check(obj Object) (Object, error) {
	if v.limits.MaxDepth > 0 || v.limits.MaxElements > 0 {
		depth, keys, err := complexity(obj)
		if err != nil {
			return nil, err
		}
		if v.limits.MaxDepth > 0 && depth > v.limits.MaxDepth {
			return nil, fmt.Errorf("object nesting too deep: %d levels (max %d)", depth, v.limits.MaxDepth)
		}
		if v.limits.MaxElements > 0 && keys > v.limits.MaxElements {
			return nil, fmt.Errorf("object too complex: %d keys (max %d)", keys, v.limits.MaxElements)
		}
	}

	if v.sanitizer == nil {
		return obj, nil
	}
	return v.sanitize(obj)
}

// Sanitizing reports whether Check rewrites string values.
func (v *Validator) Sanitizing() bool {
	return v.sanitizer != nil
}

func complexity(obj Object) (int, int, error) {
	maxDepth := 1
	keys := len(obj)
	for k, raw := range obj {
		var val interface{}
		if err := json.Unmarshal(raw, &val); err != nil {
			return 0, 0, fmt.Errorf("attribute %q: %w", k, err)
		}
		d, n := walkComplexity(val, 1)
		if d > maxDepth {
			maxDepth = d
		}
		keys += n
	}
	return maxDepth, keys, nil
}

// walkComplexity: recursively checks depth and counts keys (array lengths are not counted)
func walkComplexity(data interface{}, depth int) (int, int) {
	maxDepth := depth
	keyCount := 0

	switch v := data.(type) {
	case map[string]interface{}:
		keyCount = len(v)
		for _, val := range v {
			d, n := walkComplexity(val, depth+1)
			if d > maxDepth {
				maxDepth = d
			}
			keyCount += n
		}
	case []interface{}:
		for _, val := range v {
			d, n := walkComplexity(val, depth+1)
			if d > maxDepth {
				maxDepth = d
			}
			keyCount += n
		}
	}

	return maxDepth, keyCount
}

func (v *Validator) sanitize(obj Object) (Object, error) {
	out := make(Object, len(obj))
	for k, raw := range obj {
		if k == IDKey {
			out[k] = raw
			continue
		}
		var val interface{}
		if err := json.Unmarshal(raw, &val); err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		clean, err := json.Marshal(v.sanitizeValue(val))
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		out[k] = clean
	}
	return out, nil
}

func (v *Validator) sanitizeValue(value interface{}) interface{} {
	switch val := value.(type) {
	case string:
		return v.sanitizer.Sanitize(val)
	case map[string]interface{}:
		result := make(map[string]interface{}, len(val))
		for key, item := range val {
			result[key] = v.sanitizeValue(item)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(val))
		for i, item := range val {
			result[i] = v.sanitizeValue(item)
		}
		return result
	default:
		// numbers, bools, nil
		return value
	}
}

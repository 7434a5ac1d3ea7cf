package object

import (
	"bytes"
	"strconv"

	"github.com/goccy/go-json"
)

// Object is a drawable on a slide. Only "id" is interpreted; every other
// attribute is kept as the raw JSON the client sent.
type Object map[string]json.RawMessage

// IDKey is the attribute used to address objects on update/remove.
const IDKey = "id"

// ID: canonical form of the object's id (string ids verbatim, numbers formatted)
func (o Object) ID() (string, bool) {
	raw, ok := o[IDKey]
	if !ok {
		return "", false
	}
	return CanonicalID(raw)
}

// CanonicalID normalises a raw JSON id value so "x1" and 7 / 7.0 compare the
// way clients compare them. Objects, arrays and null are not valid ids.
func CanonicalID(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return "s:" + s, true
	case '{', '[', 'n', 't', 'f':
		return "", false
	default:
		f, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return "", false
		}
		return "n:" + strconv.FormatFloat(f, 'g', -1, 64), true
	}
}

// Merge: shallow merge, patch keys overwrite, the rest is kept. o is not modified.
func (o Object) Merge(patch Object) Object {
	merged := make(Object, len(o)+len(patch))
	for k, v := range o {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}

// Clone: deep copy, raw values included
func (o Object) Clone() Object {
	if o == nil {
		return nil
	}
	c := make(Object, len(o))
	for k, v := range o {
		if v == nil {
			c[k] = nil
			continue
		}
		buf := make(json.RawMessage, len(v))
		copy(buf, v)
		c[k] = buf
	}
	return c
}

// CloneList deep copies a slide's object list. A nil list becomes empty so
// it serialises as [] rather than null.
func CloneList(list []Object) []Object {
	out := make([]Object, len(list))
	for i, obj := range list {
		out[i] = obj.Clone()
	}
	return out
}

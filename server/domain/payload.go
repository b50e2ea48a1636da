package domain

import (
	"bytes"
	"encoding/json"

	"github.com/tidwall/gjson"
	"golang.org/x/xerrors"
)

type FieldKind int

const (
	KindString FieldKind = iota
	// KindID is a non-empty string identifying an entity, e.g. a shape.
	KindID
	KindNumber
	KindBool
)

func (k FieldKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindID:
		return "id"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

func (k FieldKind) matches(v gjson.Result) bool {
	switch k {
	case KindString:
		return v.Type == gjson.String
	case KindID:
		return v.Type == gjson.String && v.Str != ""
	case KindNumber:
		return v.Type == gjson.Number
	case KindBool:
		return v.IsBool()
	default:
		return false
	}
}

// PayloadSchema is the declared field set of one delta type. Anything outside
// Required and Optional is rejected.
type PayloadSchema struct {
	Required map[string]FieldKind
	Optional map[string]FieldKind
	// MinOptional is the number of optional fields that must be present.
	MinOptional int
	// Content deltas change the diagram and need an editor role.
	Content bool
}

const (
	PayloadTypeCursor       = "cursor"
	PayloadTypeTyping       = "typing"
	PayloadTypeShapeMoved   = "shape_moved"
	PayloadTypeShapeResized = "shape_resized"
	PayloadTypeShapeRotated = "shape_rotated"
	PayloadTypeShapeAdded   = "shape_added"
	PayloadTypeShapeDeleted = "shape_deleted"
	PayloadTypeTextChanged  = "text_changed"
	PayloadTypeStyleChanged = "style_changed"
)

var PayloadSchemas = map[string]PayloadSchema{
	PayloadTypeCursor: {
		Required: map[string]FieldKind{"x": KindNumber, "y": KindNumber},
	},
	PayloadTypeTyping: {
		Required: map[string]FieldKind{"is_typing": KindBool},
	},
	PayloadTypeShapeMoved: {
		Required: map[string]FieldKind{"shape_id": KindID, "x": KindNumber, "y": KindNumber},
		Content:  true,
	},
	PayloadTypeShapeResized: {
		Required: map[string]FieldKind{"shape_id": KindID, "width": KindNumber, "height": KindNumber},
		Content:  true,
	},
	PayloadTypeShapeRotated: {
		Required: map[string]FieldKind{"shape_id": KindID, "angle": KindNumber},
		Content:  true,
	},
	PayloadTypeShapeAdded: {
		Required: map[string]FieldKind{"shape_id": KindID, "kind": KindID, "x": KindNumber, "y": KindNumber},
		Optional: map[string]FieldKind{
			"width": KindNumber, "height": KindNumber, "text": KindString,
			"fill": KindString, "stroke": KindString,
		},
		Content: true,
	},
	PayloadTypeShapeDeleted: {
		Required: map[string]FieldKind{"shape_id": KindID},
		Content:  true,
	},
	PayloadTypeTextChanged: {
		Required: map[string]FieldKind{"shape_id": KindID, "text": KindString},
		Content:  true,
	},
	PayloadTypeStyleChanged: {
		Required: map[string]FieldKind{"shape_id": KindID},
		Optional: map[string]FieldKind{
			"fill": KindString, "stroke": KindString,
			"stroke_width": KindNumber, "opacity": KindNumber,
		},
		MinOptional: 1,
		Content:     true,
	},
}

// Delta is a validated, compacted change payload.
type Delta struct {
	Type string
	Raw  json.RawMessage
}

func (d Delta) MarshalJSON() ([]byte, error) {
	return d.Raw, nil
}

// Content reports whether the delta changes diagram content.
func (d Delta) Content() bool {
	return PayloadSchemas[d.Type].Content
}

// Get returns a field of the delta.
func (d Delta) Get(path string) gjson.Result {
	return gjson.GetBytes(d.Raw, path)
}

// ValidatePayload checks data against the schema of its type and returns the
// compacted delta. Payloads larger than maxBytes are refused outright so a
// client cannot push a whole document through the delta channel.
func ValidatePayload(data []byte, maxBytes int) (Delta, error) {
	if maxBytes > 0 && len(data) > maxBytes {
		return Delta{}, xerrors.Errorf("payload is %d bytes, limit is %d: %w", len(data), maxBytes, ErrMalformedPayload)
	}
	if !gjson.ValidBytes(data) {
		return Delta{}, xerrors.Errorf("payload is not valid json: %w", ErrMalformedPayload)
	}
	obj := gjson.ParseBytes(data)
	if !obj.IsObject() {
		return Delta{}, xerrors.Errorf("payload must be an object: %w", ErrMalformedPayload)
	}
	typ := obj.Get("type")
	if typ.Type != gjson.String || typ.Str == "" {
		return Delta{}, xerrors.Errorf("payload has no type: %w", ErrMalformedPayload)
	}
	schema, ok := PayloadSchemas[typ.Str]
	if !ok {
		return Delta{}, xerrors.Errorf("unknown payload type %q: %w", typ.Str, ErrMalformedPayload)
	}

	var (
		fieldErr error
		optional int
		seen     = make(map[string]struct{}, len(schema.Required)+1)
	)
	obj.ForEach(func(key, value gjson.Result) bool {
		name := key.Str
		if _, dup := seen[name]; dup {
			fieldErr = xerrors.Errorf("duplicate field %q: %w", name, ErrMalformedPayload)
			return false
		}
		seen[name] = struct{}{}
		if name == "type" {
			return true
		}
		kind, required := schema.Required[name]
		if !required {
			kind, ok = schema.Optional[name]
			if !ok {
				fieldErr = xerrors.Errorf("field %q is not part of %s: %w", name, typ.Str, ErrMalformedPayload)
				return false
			}
			optional++
		}
		if !kind.matches(value) {
			fieldErr = xerrors.Errorf("field %q must be %s: %w", name, kind, ErrMalformedPayload)
			return false
		}
		return true
	})
	if fieldErr != nil {
		return Delta{}, fieldErr
	}
	for name := range schema.Required {
		if _, ok := seen[name]; !ok {
			return Delta{}, xerrors.Errorf("%s is missing field %q: %w", typ.Str, name, ErrMalformedPayload)
		}
	}
	if optional < schema.MinOptional {
		return Delta{}, xerrors.Errorf("%s needs at least %d changed field(s): %w", typ.Str, schema.MinOptional, ErrMalformedPayload)
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return Delta{}, xerrors.Errorf("compact payload: %w", ErrMalformedPayload)
	}
	return Delta{Type: typ.Str, Raw: buf.Bytes()}, nil
}

// NewCursorDelta builds the delta carried for a cursor_move event.
func NewCursorDelta(x, y float64) Delta {
	raw, _ := json.Marshal(struct {
		Type string  `json:"type"`
		X    float64 `json:"x"`
		Y    float64 `json:"y"`
	}{PayloadTypeCursor, x, y})
	return Delta{Type: PayloadTypeCursor, Raw: raw}
}

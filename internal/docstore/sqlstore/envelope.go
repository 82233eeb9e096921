package sqlstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/charlesng35/lensfusion/internal/docstore"
)

const (
	kindNull   = "null"
	kindString = "string"
	kindBool   = "bool"
	kindInt    = "int"
	kindFloat  = "float"
	kindTime   = "time"
)

// envelope is the JSON layout of the fields column. Values are stored at
// $.values.<name> so string equality can be evaluated by the database.
type envelope struct {
	Values map[string]any    `json:"values"`
	Kinds  map[string]string `json:"kinds"`
}

type rawEnvelope struct {
	Values map[string]json.RawMessage `json:"values"`
	Kinds  map[string]string          `json:"kinds"`
}

func encodeFields(fields docstore.Fields) (datatypes.JSON, error) {
	env := envelope{
		Values: make(map[string]any, len(fields)),
		Kinds:  make(map[string]string, len(fields)),
	}
	for key, value := range fields {
		switch v := value.(type) {
		case nil:
			env.Values[key] = nil
			env.Kinds[key] = kindNull
		case string:
			env.Values[key] = v
			env.Kinds[key] = kindString
		case bool:
			env.Values[key] = v
			env.Kinds[key] = kindBool
		case int64:
			env.Values[key] = v
			env.Kinds[key] = kindInt
		case float64:
			env.Values[key] = v
			env.Kinds[key] = kindFloat
		case time.Time:
			env.Values[key] = v.UTC().Format(time.RFC3339Nano)
			env.Kinds[key] = kindTime
		default:
			return nil, fmt.Errorf("%w: %T", docstore.ErrInvalidValue, value)
		}
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(payload), nil
}

func decodeFields(payload datatypes.JSON) (docstore.Fields, error) {
	var raw rawEnvelope
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}

	fields := make(docstore.Fields, len(raw.Values))
	for key, message := range raw.Values {
		value, err := decodeValue(raw.Kinds[key], message)
		if err != nil {
			return nil, fmt.Errorf("decode field %q: %w", key, err)
		}
		fields[key] = value
	}
	return fields, nil
}

func decodeValue(kind string, message json.RawMessage) (any, error) {
	if kind == kindNull || string(message) == "null" {
		return nil, nil
	}
	switch kind {
	case kindString:
		var s string
		err := json.Unmarshal(message, &s)
		return s, err
	case kindBool:
		var b bool
		err := json.Unmarshal(message, &b)
		return b, err
	case kindInt:
		var n json.Number
		if err := json.Unmarshal(message, &n); err != nil {
			return nil, err
		}
		return n.Int64()
	case kindFloat:
		var f float64
		err := json.Unmarshal(message, &f)
		return f, err
	case kindTime:
		var s string
		if err := json.Unmarshal(message, &s); err != nil {
			return nil, err
		}
		return time.Parse(time.RFC3339Nano, s)
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
}

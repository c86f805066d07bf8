package flatjson

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/sugawarayuuta/sonnet"
)

// Map is an ordered mapping from string keys to JSON scalars. It is the
// universal shape for error details, mail bodies and service event
// payloads. Values are restricted to bool, int64, float64, string and
// nil; nesting is not supported.
type Map struct {
	keys []string
	vals map[string]any
}

func New() *Map {
	return &Map{vals: make(map[string]any)}
}

// Set stores a scalar under key and returns the map for chaining.
// Setting an existing key overwrites its value but keeps its position.
// Integer and float variants are normalized to int64 and float64; any
// other type is stored as its string rendering.
func (m *Map) Set(key string, value any) *Map {
	if _, exists := m.vals[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = normalize(value)
	return m
}

func normalize(value any) any {
	switch v := value.(type) {
	case nil, bool, int64, float64, string:
		return v
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	case uint:
		return int64(v)
	case float32:
		return float64(v)
	default:
		return fmt.Sprint(v)
	}
}

func (m *Map) Has(key string) bool {
	_, ok := m.vals[key]
	return ok
}

func (m *Map) Len() int {
	return len(m.keys)
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

func (m *Map) Get(key string) (any, bool) {
	v, ok := m.vals[key]
	return v, ok
}

func (m *Map) GetBool(key string) (bool, bool) {
	v, ok := m.vals[key].(bool)
	return v, ok
}

// GetInt returns an integer value. Integral float64 values are
// accepted too, so maps decoded from JSON text behave like maps built
// in process.
func (m *Map) GetInt(key string) (int64, bool) {
	switch v := m.vals[key].(type) {
	case int64:
		return v, true
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
	}
	return 0, false
}

func (m *Map) GetFloat(key string) (float64, bool) {
	switch v := m.vals[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func (m *Map) GetString(key string) (string, bool) {
	v, ok := m.vals[key].(string)
	return v, ok
}

// Clone returns a deep, independent copy. Scalars make this a plain
// key-by-key copy.
func (m *Map) Clone() *Map {
	out := New()
	for _, k := range m.keys {
		out.Set(k, m.vals[k])
	}
	return out
}

// MarshalJSON renders the map as a JSON object preserving key order.
func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := sonnet.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := sonnet.Marshal(m.vals[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a flat JSON object. JSON text carries no
// insertion order, so keys are stored sorted to keep decoding
// deterministic. Non-scalar values are rejected.
func (m *Map) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := sonnet.Unmarshal(data, &raw); err != nil {
		return err
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	m.keys = nil
	m.vals = make(map[string]any, len(raw))
	for _, k := range keys {
		switch raw[k].(type) {
		case nil, bool, float64, string:
			m.Set(k, raw[k])
		default:
			return fmt.Errorf("flatjson: value for %q is not a scalar", k)
		}
	}
	return nil
}

func (m *Map) String() string {
	b, err := m.MarshalJSON()
	if err != nil {
		return "{}"
	}
	return string(b)
}

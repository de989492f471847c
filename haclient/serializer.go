package haclient

import "encoding/json"

// Serializer is the pluggable encode/decode collaborator named in
// spec.md §1. It is treated as opaque: the coordinator and per-broker
// client never inspect its internals, only call Encode/Decode.
type Serializer interface {
	Encode(packet interface{}) ([]byte, error)
	Decode(data []byte) (interface{}, error)
}

// JSONSerializer is the default Serializer, backed by stdlib
// encoding/json. Decode produces a map[string]interface{} unless the
// caller wraps it to decode into a concrete type.
type JSONSerializer struct{}

func (JSONSerializer) Encode(packet interface{}) ([]byte, error) {
	return json.Marshal(packet)
}

func (JSONSerializer) Decode(data []byte) (interface{}, error) {
	var v map[string]interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// packetTypeName extracts the decoded packet's type name for the
// allowed-types check in spec.md §4.2: it consults Describable first,
// then a "type" map key, and otherwise returns "".
func packetTypeName(packet interface{}) string {
	if d, ok := packet.(Describable); ok {
		return d.Type()
	}
	if m, ok := packet.(map[string]interface{}); ok {
		if t, ok := m["type"].(string); ok {
			return t
		}
	}
	return ""
}

package packet

import "strings"

// KeyValue is one "key:value" pair of a semicolon separated payload, such
// as the body of a 'T' stop reply or of a qRegisterInfo response.
type KeyValue struct {
	Key   string
	Value string
}

// KeyValues is an ordered list of pairs.
type KeyValues []KeyValue

// ParseKeyValues splits s on ';' and every element on its first ':'.
// Elements without a colon are kept with an empty value.
func ParseKeyValues(s string) KeyValues {
	var kvs KeyValues
	for len(s) > 0 {
		keyval := s
		semicolon := strings.Index(s, ";")
		if semicolon >= 0 {
			keyval = s[:semicolon]
			s = s[semicolon+1:]
		} else {
			s = ""
		}
		if keyval == "" {
			continue
		}
		colon := strings.Index(keyval, ":")
		if colon < 0 {
			kvs = append(kvs, KeyValue{Key: keyval})
			continue
		}
		kvs = append(kvs, KeyValue{Key: keyval[:colon], Value: keyval[colon+1:]})
	}
	return kvs
}

// Get returns the value of the first pair with the given key.
func (kvs KeyValues) Get(key string) (string, bool) {
	for _, kv := range kvs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Has reports whether key is present.
func (kvs KeyValues) Has(key string) bool {
	_, ok := kvs.Get(key)
	return ok
}

// String formats the pairs back into "key:value;" form.
func (kvs KeyValues) String() string {
	var sb strings.Builder
	for _, kv := range kvs {
		sb.WriteString(kv.Key)
		sb.WriteByte(':')
		sb.WriteString(kv.Value)
		sb.WriteByte(';')
	}
	return sb.String()
}

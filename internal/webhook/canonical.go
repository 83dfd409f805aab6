package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CanonicalJSON renders a payload in the form both sides sign: object keys
// sorted, no insignificant whitespace, numbers passed through verbatim.
// Producing the signature over any other rendering of the same payload will
// not verify.
func CanonicalJSON(v interface{}) ([]byte, error) {
	first, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	// Round-trip through a generic value so map keys come back sorted.
	// UseNumber keeps integers byte-for-byte stable.
	dec := json.NewDecoder(bytes.NewReader(first))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	return out, nil
}

package fetcher

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// MaxJSONBytes bounds a JSON document read by DecodeJSONObject. The daily
// bulletin index is a few hundred kilobytes.
const MaxJSONBytes = 32 << 20

// DecodeJSONObject reads exactly one JSON value of type T from r. Unknown
// fields are ignored; trailing data after the value, such as an HTML error
// page glued to the body, is an error.
func DecodeJSONObject[T any](r io.Reader) (*T, error) {
	dec := json.NewDecoder(io.LimitReader(r, MaxJSONBytes))
	out := new(T)
	if err := dec.Decode(out); err != nil {
		return nil, eris.Wrap(err, "json: decode object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, eris.New("json: trailing data after object")
	}
	return out, nil
}

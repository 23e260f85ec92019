package pb

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// Name is the content-subtype the wire messages travel under
// (application/grpc+json). The messages in this package are hand-written
// structs, so a JSON codec keeps the wire format debuggable with plain
// tooling.
const Name = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("pb: unmarshal %T: %w", v, err)
	}
	return nil
}

func (jsonCodec) Name() string { return Name }

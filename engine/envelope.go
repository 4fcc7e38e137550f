package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// envelopeMetadata is the bookkeeping the engine stores alongside
// every user value: the sorted set of cache-key paths the evaluator
// actually read while computing it, and when it was created.
type envelopeMetadata struct {
	RequestedCacheKeyPaths []string `json:"requested_cache_key_paths"`
	CreationDate           *string  `json:"creation_date"`
}

// envelope is the internal value envelope from §3: the engine's own
// CAS object wrapping a user value's opaque payload and metadata. Its
// own CAS refs equal the user value's refs; only the payload differs
// from what the user Value.Encode produced.
type envelope struct {
	Value    []byte           `json:"value"`
	Metadata envelopeMetadata `json:"metadata"`
}

// encodeEnvelope builds and canonically JSON-serializes the envelope
// around a user value's already-encoded payload.
func encodeEnvelope(payload []byte, requestedCacheKeyPaths []string) ([]byte, error) {
	sorted := append([]string(nil), requestedCacheKeyPaths...)
	sort.Strings(sorted)

	created := time.Now().UTC().Format(time.RFC3339)
	env := envelope{
		Value: payload,
		Metadata: envelopeMetadata{
			RequestedCacheKeyPaths: sorted,
			CreationDate:           &created,
		},
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding value envelope: %w", err)
	}
	return data, nil
}

// decodeEnvelope reverses encodeEnvelope, returning the user payload
// bytes and the envelope metadata.
func decodeEnvelope(data []byte) ([]byte, envelopeMetadata, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, envelopeMetadata{}, fmt.Errorf("decoding value envelope: %w", err)
	}
	return env.Value, env.Metadata, nil
}

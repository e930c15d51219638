// Package payloadcodec converts entity payload trees to and from the opaque
// compressed blobs the version store persists.
package payloadcodec

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
)

// Encode serializes a payload tree into a gzip-compressed JSON blob. A nil
// payload encodes to a nil blob, which the store persists as a NULL column
// marking a deletion.
func Encode(payload map[string]any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	var buffer bytes.Buffer
	writer := gzip.NewWriter(&buffer)
	if _, err := writer.Write(encoded); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize payload blob: %w", err)
	}

	return buffer.Bytes(), nil
}

// Decode restores a payload tree from a stored blob. A nil or empty blob
// decodes to a nil payload.
func Decode(blob []byte) (map[string]any, error) {
	if len(blob) == 0 {
		return nil, nil
	}

	reader, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("open payload blob: %w", err)
	}
	defer reader.Close()

	decoded, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	return payload, nil
}

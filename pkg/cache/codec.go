package cache

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// First byte of every encoded value
const (
	formatPlain byte = 0
	formatGzip  byte = 1
)

// encode serializes value with msgpack, compressing it when it exceeds
// threshold. A threshold of zero disables compression. The second return
// value is the number of bytes saved.
func encode(value any, threshold int) ([]byte, uint64, error) {
	raw, err := msgpack.Marshal(value)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}

	if threshold > 0 && len(raw) > threshold {
		compressed, err := compressData(raw)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to compress value: %w", err)
		}
		// Use compressed version if it's smaller
		if len(compressed) < len(raw) {
			return append([]byte{formatGzip}, compressed...), uint64(len(raw) - len(compressed)), nil
		}
	}

	return append([]byte{formatPlain}, raw...), 0, nil
}

func decode(data []byte, dest any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrSerializationFailed)
	}

	payload := data[1:]
	switch data[0] {
	case formatPlain:
	case formatGzip:
		var err error
		payload, err = decompressData(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSerializationFailed, err)
		}
	default:
		return fmt.Errorf("%w: unknown format %d", ErrSerializationFailed, data[0])
	}

	if err := msgpack.Unmarshal(payload, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	return nil
}

// compressData compresses data using gzip
func compressData(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, err
	}

	if err := writer.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// decompressData decompresses gzip data
func decompressData(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

// Package codec turns a JSON-serializable document into a compact byte
// string for the chunked record store and back. Compression keeps the chunk
// count down; a one-byte format flag records whether it was applied so
// Decode never has to guess.
package codec

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"

	"github.com/tillsync/tillsync/pkg/errors"
)

const (
	// FormatRaw marks a plain JSON body.
	FormatRaw byte = 0x00
	// FormatGzip marks a gzip-compressed JSON body.
	FormatGzip byte = 0x01
)

// ErrUnknownFormat is returned when the leading flag byte is not a format
// this codec writes.
var ErrUnknownFormat = errors.Sentinel("codec: unknown format flag")

// Encode serializes v to JSON and gzips it when that actually shrinks the
// payload. The first byte of the result is the format flag.
func Encode(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "could not serialize document")
	}

	compressed, err := compress(raw)
	if err != nil || len(compressed) >= len(raw) {
		// fall back to the raw serialized bytes, flagged so Decode still
		// works
		out := make([]byte, 0, len(raw)+1)
		out = append(out, FormatRaw)
		return append(out, raw...), nil
	}

	out := make([]byte, 0, len(compressed)+1)
	out = append(out, FormatGzip)
	return append(out, compressed...), nil
}

// Decode reverses Encode into v, branching on the format flag.
func Decode(data []byte, v interface{}) error {
	if len(data) == 0 {
		return errors.New("codec: empty payload")
	}

	body := data[1:]

	switch data[0] {
	case FormatRaw:
	case FormatGzip:
		raw, err := uncompress(body)
		if err != nil {
			return errors.Wrap(err, "could not uncompress document")
		}
		body = raw
	default:
		return ErrUnknownFormat
	}

	if err := json.Unmarshal(body, v); err != nil {
		return errors.Wrap(err, "could not deserialize document")
	}
	return nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func uncompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

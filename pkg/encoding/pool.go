// Package encoding serializes JSON through pooled buffers.
package encoding

import (
	"bytes"
	"encoding/json"
	"io"
	"sync"
)

// Buffers that grew past this are dropped instead of pooled.
const maxPooledCap = 64 * 1024

var bufferPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func putBuffer(buf *bytes.Buffer) {
	if buf.Cap() > maxPooledCap {
		return
	}
	bufferPool.Put(buf)
}

// EncodeJSON returns the JSON encoding of v followed by a newline.
func EncodeJSON(v interface{}) ([]byte, error) {
	buf := getBuffer()
	defer putBuffer(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}

// WriteJSON encodes v fully before writing it to w in one call, so an encoding
// failure leaves w untouched.
func WriteJSON(w io.Writer, v interface{}) error {
	buf := getBuffer()
	defer putBuffer(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

package codec

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"fmt"
	"io"
)

// deflateToB64 compresses a UTF-8 string with zlib and encodes the result in
// standard base64. The inverse is inflateFromB64; the round trip preserves
// the input byte-for-byte.
func deflateToB64(s string) (string, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write([]byte(s)); err != nil {
		return "", fmt.Errorf("codec: zlib compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("codec: zlib compress: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func inflateFromB64(s string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("codec: base64 decode: %w", err)
	}
	r, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("codec: zlib inflate: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("codec: zlib inflate: %w", err)
	}
	return string(out), nil
}

package ota

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// HashContent returns the lowercase hex SHA256 digest of data. The digest is
// both the blob store key and the record's content hash.
func HashContent(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashReader streams r through SHA256 and returns the digest in the same form
// as HashContent along with the number of bytes read.
func HashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

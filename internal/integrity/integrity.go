// Package integrity computes and compares content digests of evidence files.
package integrity

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// Digest holds the lower-hex content digests of one file.
type Digest struct {
	SHA256 string `json:"sha256Hash"`
	MD5    string `json:"md5Hash"`
}

// Compute reads r to EOF and returns its SHA-256 and MD5 digests in one pass.
func Compute(r io.Reader) (Digest, error) {
	s := sha256.New()
	m := md5.New()
	if _, err := io.Copy(io.MultiWriter(s, m), r); err != nil {
		return Digest{}, fmt.Errorf("read content: %w", err)
	}
	return Digest{
		SHA256: hex.EncodeToString(s.Sum(nil)),
		MD5:    hex.EncodeToString(m.Sum(nil)),
	}, nil
}

// Normalize lower-cases and trims a hex digest supplied by a client.
func Normalize(digest string) string {
	return strings.ToLower(strings.TrimSpace(digest))
}

// ValidSHA256 reports whether s is a well-formed hex SHA-256 digest.
func ValidSHA256(s string) bool {
	return validHex(s, sha256.Size)
}

// ValidMD5 reports whether s is a well-formed hex MD5 digest.
func ValidMD5(s string) bool {
	return validHex(s, md5.Size)
}

func validHex(s string, size int) bool {
	if len(s) != size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// EqualSHA256 compares two hex SHA-256 digests over their full decoded length.
// Malformed or truncated input never matches.
func EqualSHA256(a, b string) bool {
	da, err := hex.DecodeString(Normalize(a))
	if err != nil || len(da) != sha256.Size {
		return false
	}
	db, err := hex.DecodeString(Normalize(b))
	if err != nil || len(db) != sha256.Size {
		return false
	}
	return subtle.ConstantTimeCompare(da, db) == 1
}

// Verify hashes candidate and reports whether it matches the stored SHA-256
// digest. It also returns the digest it computed.
func Verify(stored string, candidate io.Reader) (bool, string, error) {
	d, err := Compute(candidate)
	if err != nil {
		return false, "", err
	}
	return EqualSHA256(stored, d.SHA256), d.SHA256, nil
}

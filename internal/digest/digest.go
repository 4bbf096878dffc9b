package digest

import (
	"crypto/md5"  //nolint:gosec // content addressing, not security
	"crypto/sha1" //nolint:gosec // content addressing, not security
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"
)

// ErrUnknownAlgorithm is returned by Parse for unsupported names.
var ErrUnknownAlgorithm = errors.New("digest: unknown algorithm")

// Algorithm names a content digest.
type Algorithm string

const (
	MD5    Algorithm = "MD5"
	SHA1   Algorithm = "SHA-1"
	SHA256 Algorithm = "SHA-256"
)

// Default is the algorithm used when none is configured.
const Default = MD5

// Parse resolves a configured algorithm name. Matching ignores case and
// dashes so "sha256", "SHA-256" and "Sha256" are equivalent.
func Parse(name string) (Algorithm, error) {
	switch strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(name)), "-", "") {
	case "":
		return Default, nil
	case "MD5":
		return MD5, nil
	case "SHA1":
		return SHA1, nil
	case "SHA256":
		return SHA256, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}

// HexLen is the length of a hex encoded digest.
func (a Algorithm) HexLen() int {
	switch a {
	case MD5:
		return md5.Size * 2
	case SHA1:
		return sha1.Size * 2
	case SHA256:
		return sha256.Size * 2
	default:
		return 0
	}
}

// New returns a fresh hash for the algorithm. It panics on an unknown
// algorithm; values obtained from Parse are always valid.
func (a Algorithm) New() hash.Hash {
	switch a {
	case MD5:
		return md5.New() //nolint:gosec
	case SHA1:
		return sha1.New() //nolint:gosec
	case SHA256:
		return sha256.New()
	default:
		panic("digest: unknown algorithm " + string(a))
	}
}

// IsValid reports whether key has the shape of a digest of this algorithm:
// exactly HexLen hex characters in either case.
func (a Algorithm) IsValid(key string) bool {
	n := a.HexLen()
	if n == 0 || len(key) != n {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// Sum returns the lower-case hex digest of data.
func (a Algorithm) Sum(data []byte) string {
	h := a.New()
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Reader hashes r to EOF and returns the hex digest and byte count.
func (a Algorithm) Reader(r io.Reader) (string, int64, error) {
	h := a.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Equal compares two hex digests ignoring case.
func Equal(a, b string) bool {
	return strings.EqualFold(a, b)
}

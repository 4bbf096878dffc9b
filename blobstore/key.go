package blobstore

import (
	"strconv"
	"strings"
)

// PrefixSeparator separates path components of object names.
const PrefixSeparator = "/"

// ByteRangeSeparator separates a key from its byte-range suffix.
const ByteRangeSeparator = ";"

// ByteRange is an end-inclusive byte interval.
type ByteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes in the range.
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// ParseByteRange splits "<key>;<start>-<end>". ok is false when key carries
// no well-formed range, in which case the key is returned unchanged.
func ParseByteRange(key string) (string, ByteRange, bool) {
	i := strings.LastIndex(key, ByteRangeSeparator)
	if i < 0 {
		return key, ByteRange{}, false
	}
	startStr, endStr, found := strings.Cut(key[i+1:], "-")
	if !found {
		return key, ByteRange{}, false
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return key, ByteRange{}, false
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return key, ByteRange{}, false
	}
	return key[:i], ByteRange{Start: start, End: end}, true
}

// KeyWithByteRange builds the key addressing bytes start..end of key.
func KeyWithByteRange(key string, start, end int64) string {
	return key + ByteRangeSeparator + strconv.FormatInt(start, 10) + "-" + strconv.FormatInt(end, 10)
}

// NormalizePrefix makes a non-empty prefix end with exactly one separator.
func NormalizePrefix(prefix string) string {
	trimmed := strings.TrimRight(prefix, PrefixSeparator)
	if trimmed == "" {
		return ""
	}
	return trimmed + PrefixSeparator
}

// JoinPrefix appends namespace to prefix and normalizes the result.
func JoinPrefix(prefix, namespace string) string {
	prefix = NormalizePrefix(prefix)
	namespace = strings.Trim(namespace, PrefixSeparator)
	if namespace == "" {
		return prefix
	}
	return NormalizePrefix(prefix + namespace)
}

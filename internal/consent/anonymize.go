package consent

import (
	"strconv"
	"unicode/utf16"
)

// Fields replaced by a digest of their value.
var hashedFields = []string{"userAgent", "email"}

// Fields removed outright.
var droppedFields = []string{"exactLocation"}

// Anonymize returns a copy of record with identifying fields rewritten.
//
// With anonymization disabled the copy is returned unchanged. Otherwise
// string userAgent/email values become HashString digests, values of those
// fields that are not strings are dropped, and exactLocation is removed.
// Nested mappings are processed the same way. The input is never modified.
func (g *Gate) Anonymize(record map[string]any) map[string]any {
	if record == nil {
		return nil
	}
	if !g.Settings().Anonymize {
		out := make(map[string]any, len(record))
		for k, v := range record {
			out[k] = v
		}
		return out
	}
	return anonymizeMap(record)
}

func anonymizeMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if nested, ok := v.(map[string]any); ok {
			out[k] = anonymizeMap(nested)
			continue
		}
		out[k] = v
	}
	for _, k := range hashedFields {
		v, ok := out[k]
		if !ok {
			continue
		}
		s, isStr := v.(string)
		if !isStr {
			delete(out, k)
			continue
		}
		out[k] = HashString(s)
	}
	for _, k := range droppedFields {
		delete(out, k)
	}
	return out
}

// HashString is a deterministic 32-bit rolling hash (h = h*31 + c over UTF-16
// code units, wrapping at int32) rendered as lowercase hex of its absolute
// value. It is checksum grade, not a cryptographic digest.
func HashString(s string) string {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 16)
}

package follower

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// SequenceKey is the reserved key holding the progress marker. It never
// collides with dependency keys, which always carry a namespace prefix.
const SequenceKey = "sequence"

const keySeparator = "/"

const upperHex = "0123456789ABCDEF"

// EncodeKey percent-encodes every part the way ECMAScript encodeURIComponent
// does and joins them with "/". Stored keys depend on this exact encoding.
func EncodeKey(parts ...string) string {
	encoded := make([]string, len(parts))
	for i, part := range parts {
		encoded[i] = escapeComponent(part)
	}
	return strings.Join(encoded, keySeparator)
}

// DependencyKey returns the persisted key for one package version.
func DependencyKey(packageName, packageVersion string) string {
	return EncodeKey("dependencies", packageName, packageVersion)
}

// EncodeDependencies renders a dependency map as the stored value. Keys are
// sorted and range operators such as < > & are written verbatim, matching
// JSON.stringify output for the same map.
func EncodeDependencies(deps map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(deps); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func escapeComponent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}

// FormatSequence renders a marker value for storage.
func FormatSequence(seq int64) []byte {
	return []byte(strconv.FormatInt(seq, 10))
}

// ParseStoredSequence decodes a marker value written by FormatSequence.
func ParseStoredSequence(raw []byte) (int64, error) {
	seq, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil || seq < 0 {
		return 0, fmt.Errorf("%w: stored value %q", ErrInvalidSequence, raw)
	}
	return seq, nil
}

// ParseSequence validates a caller-supplied starting sequence. nil, zero and
// the empty string mean "from the beginning". Negative, fractional and
// non-numeric values are rejected.
func ParseSequence(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return checkSigned(int64(n))
	case int8:
		return checkSigned(int64(n))
	case int16:
		return checkSigned(int64(n))
	case int32:
		return checkSigned(int64(n))
	case int64:
		return checkSigned(n)
	case uint:
		return checkUnsigned(uint64(n))
	case uint8:
		return checkUnsigned(uint64(n))
	case uint16:
		return checkUnsigned(uint64(n))
	case uint32:
		return checkUnsigned(uint64(n))
	case uint64:
		return checkUnsigned(n)
	case float32:
		return checkFloat(float64(n))
	case float64:
		return checkFloat(n)
	case json.Number:
		return parseSequenceString(n.String())
	case string:
		return parseSequenceString(n)
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidSequence, v)
	}
}

func checkSigned(n int64) (int64, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: %d is negative", ErrInvalidSequence, n)
	}
	return n, nil
}

func checkUnsigned(n uint64) (int64, error) {
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d overflows int64", ErrInvalidSequence, n)
	}
	return int64(n), nil
}

func checkFloat(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %v is not an integer", ErrInvalidSequence, f)
	}
	if f < 0 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: %v out of range", ErrInvalidSequence, f)
	}
	return int64(f), nil
}

func parseSequenceString(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSequence, s)
	}
	return checkSigned(n)
}

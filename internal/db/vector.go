package db

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
)

// Vector adapts a []float32 to the pgvector text format ("[1,2,3]")
// for use as a query parameter or scanned column.
type Vector []float32

// Value renders the vector in pgvector input syntax.
func (v Vector) Value() (driver.Value, error) {
	return v.String(), nil
}

// String renders the vector in pgvector input syntax.
func (v Vector) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// Scan parses a pgvector column value.
func (v *Vector) Scan(src any) error {
	var s string
	switch val := src.(type) {
	case []byte:
		s = string(val)
	case string:
		s = val
	case nil:
		*v = nil
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Vector", src)
	}

	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return fmt.Errorf("malformed vector literal %q", s)
	}
	s = s[1 : len(s)-1]
	if s == "" {
		*v = Vector{}
		return nil
	}

	parts := strings.Split(s, ",")
	out := make(Vector, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return fmt.Errorf("malformed vector element %q: %w", p, err)
		}
		out[i] = float32(f)
	}
	*v = out
	return nil
}

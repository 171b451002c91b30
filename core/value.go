package core

import (
	"cmp"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind tags the interpretation chosen by Coerce.
type Kind int

const (
	KindFloat Kind = iota
	KindDate
	KindText
)

func (kind Kind) String() string {
	switch kind {
	case KindFloat:
		return "float"
	case KindDate:
		return "date"
	default:
		return "text"
	}
}

// Coerced is a field value interpreted through the coercion cascade.
type Coerced struct {
	Kind  Kind
	Float float64
	Date  time.Time
	Text  string
}

// Coerce tries a float, then an ISO-8601 calendar date, then keeps the text.
func Coerce(s string) Coerced {
	if f, ok := ParseFloat(s); ok {
		return Coerced{Kind: KindFloat, Float: f, Text: s}
	}
	if d, ok := ParseDate(s); ok {
		return Coerced{Kind: KindDate, Date: d, Text: s}
	}
	return Coerced{Kind: KindText, Text: s}
}

// ParseFloat accepts surrounding spaces, "inf" and "nan".
func ParseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ParseDate accepts YYYY-MM-DD.
func ParseDate(s string) (time.Time, bool) {
	d, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

func FormatDate(d time.Time) string {
	return d.Format(time.DateOnly)
}

// FormatFloat renders f the way values are stored after arithmetic:
// integral values keep one decimal ("72.0"), infinities are "inf" and
// "-inf", NaN is "nan", very large or small magnitudes use an exponent.
func FormatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}

	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}

	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Compare orders two raw values using the first interpretation that works
// for both: float, then date, then plain string comparison. ordered is false
// when either value is NaN, which no relational operator holds for.
func Compare(a, b string) (c int, ordered bool) {
	if af, ok := ParseFloat(a); ok {
		if bf, ok := ParseFloat(b); ok {
			if math.IsNaN(af) || math.IsNaN(bf) {
				return 0, false
			}
			return cmp.Compare(af, bf), true
		}
	}
	if ad, ok := ParseDate(a); ok {
		if bd, ok := ParseDate(b); ok {
			return ad.Compare(bd), true
		}
	}
	return strings.Compare(a, b), true
}

// CompareAs orders two coerced values under a fixed kind. Values of a
// different kind are compared by their text.
func CompareAs(kind Kind, a, b Coerced) int {
	if a.Kind == kind && b.Kind == kind {
		switch kind {
		case KindFloat:
			return cmp.Compare(a.Float, b.Float)
		case KindDate:
			return a.Date.Compare(b.Date)
		}
	}
	return strings.Compare(a.Text, b.Text)
}

package core

import (
	"math"
	"testing"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		input string
		kind  Kind
	}{
		{"12", KindFloat},
		{"-0.5", KindFloat},
		{" 7 ", KindFloat},
		{"inf", KindFloat},
		{"nan", KindFloat},
		{"2024-08-20", KindDate},
		{"1594-08-15", KindDate},
		{"06-11-2000", KindText},
		{"Lucas", KindText},
		{"", KindText},
		{"28BAD", KindText},
	}

	for _, tt := range tests {
		got := Coerce(tt.input)
		if got.Kind != tt.kind {
			t.Errorf("Coerce(%q) kind = %v, want %v", tt.input, got.Kind, tt.kind)
		}
		if got.Text != tt.input {
			t.Errorf("Coerce(%q) lost the raw text: %q", tt.input, got.Text)
		}
	}
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		input float64
		want  string
	}{
		{72, "72.0"},
		{206465, "206465.0"},
		{-3, "-3.0"},
		{0, "0.0"},
		{2.5, "2.5"},
		{0.1 + 0.2, "0.30000000000000004"},
		{math.Inf(1), "inf"},
		{math.Inf(-1), "-inf"},
		{math.NaN(), "nan"},
		{1e16, "1e+16"},
		{0.00001, "1e-05"},
	}

	for _, tt := range tests {
		if got := FormatFloat(tt.input); got != tt.want {
			t.Errorf("FormatFloat(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b    string
		want    int
		ordered bool
	}{
		{"9", "10", -1, true},
		{"0.0", "0", 0, true},
		{"2024-08-20", "2024-08-21", -1, true},
		{"2024-08-20", "06-11-2000", 1, true},
		{"4", "test", -1, true},
		{"b", "a", 1, true},
		{"inf", "1e308", 1, true},
		{"nan", "nan", 0, false},
		{"nan", "1", 0, false},
		{"-5", "NaN", 0, false},
		{"nan", "text", -1, true},
	}

	for _, tt := range tests {
		got, ordered := Compare(tt.a, tt.b)
		if got != tt.want || ordered != tt.ordered {
			t.Errorf("Compare(%q, %q) = %d, %v, want %d, %v", tt.a, tt.b, got, ordered, tt.want, tt.ordered)
		}
	}
}

func TestIndexField(t *testing.T) {
	if got := IndexField(8); got != "[8]" {
		t.Fatalf("IndexField(8) = %q", got)
	}
	if k, ok := ParseIndexField("[12]"); !ok || k != 12 {
		t.Errorf("ParseIndexField([12]) = %d, %v", k, ok)
	}
	for _, bad := range []string{"12", "[0]", "[x]", "[]", "[-1]"} {
		if _, ok := ParseIndexField(bad); ok {
			t.Errorf("ParseIndexField(%q) should fail", bad)
		}
	}
	if got := StripIndex("[3]"); got != "3" {
		t.Errorf("StripIndex([3]) = %q", got)
	}
	if got := StripIndex("plain"); got != "plain" {
		t.Errorf("StripIndex(plain) = %q", got)
	}
}

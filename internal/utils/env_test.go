package utils

import "testing"

func TestGetEnv(t *testing.T) {
	t.Setenv("COURSECRAFT_TEST_STR", "value")
	if got := GetEnv("COURSECRAFT_TEST_STR", "fallback", nil); got != "value" {
		t.Fatalf("got %q, want value", got)
	}
	if got := GetEnv("COURSECRAFT_TEST_STR_MISSING", "fallback", nil); got != "fallback" {
		t.Fatalf("got %q, want fallback", got)
	}
}

func TestGetEnvAsInt(t *testing.T) {
	t.Setenv("COURSECRAFT_TEST_INT", "25")
	t.Setenv("COURSECRAFT_TEST_INT_BAD", "not-a-number")

	cases := []struct {
		name string
		key  string
		def  int
		want int
	}{
		{name: "parses", key: "COURSECRAFT_TEST_INT", def: 10, want: 25},
		{name: "missing_uses_default", key: "COURSECRAFT_TEST_INT_MISSING", def: 10, want: 10},
		{name: "unparsable_uses_default", key: "COURSECRAFT_TEST_INT_BAD", def: 10, want: 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := GetEnvAsInt(tc.key, tc.def, nil); got != tc.want {
				t.Fatalf("GetEnvAsInt(%s)=%d, want %d", tc.key, got, tc.want)
			}
		})
	}
}

func TestGetEnvAsFloat(t *testing.T) {
	t.Setenv("COURSECRAFT_TEST_FLOAT", "72.5")
	t.Setenv("COURSECRAFT_TEST_FLOAT_BAD", "seventy")

	cases := []struct {
		name string
		key  string
		def  float64
		want float64
	}{
		{name: "parses", key: "COURSECRAFT_TEST_FLOAT", def: 70, want: 72.5},
		{name: "missing_uses_default", key: "COURSECRAFT_TEST_FLOAT_MISSING", def: 70, want: 70},
		{name: "unparsable_uses_default", key: "COURSECRAFT_TEST_FLOAT_BAD", def: 70, want: 70},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := GetEnvAsFloat(tc.key, tc.def, nil); got != tc.want {
				t.Fatalf("GetEnvAsFloat(%s)=%v, want %v", tc.key, got, tc.want)
			}
		})
	}
}

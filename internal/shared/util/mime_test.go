package util

import "testing"

func TestNormalizeMIME(t *testing.T) {
	cases := map[string]string{
		"application/pdf":          "application/pdf",
		" Application/PDF ; x=y":   "application/pdf",
		"image/PNG;charset=binary": "image/png",
		"":                         "",
	}
	for in, want := range cases {
		if got := NormalizeMIME(in); got != want {
			t.Fatalf("NormalizeMIME(%q) = %q, want %q", in, got, want)
		}
	}
}

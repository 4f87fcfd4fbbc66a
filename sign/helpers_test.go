package sign

import (
	"crypto"
	"testing"
	"time"
)

func TestPDFString(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"plain", "(plain)"},
		{"with (parens)", "(with \\(parens\\))"},
		{"back\\slash", "(back\\\\slash)"},
		{"line\rreturn", "(line\\rreturn)"},
		{"héllo", "(\xfe\xff\x00h\x00\xe9\x00l\x00l\x00o)"},
	}

	for _, c := range cases {
		if got := pdfString(c.in); got != c.want {
			t.Errorf("pdfString(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestPDFDateTime(t *testing.T) {
	cases := []struct {
		zone *time.Location
		want string
	}{
		{time.UTC, "(D:20260115103045+00'00')"},
		{time.FixedZone("IST", 2*3600), "(D:20260115103045+02'00')"},
		{time.FixedZone("NST", -(3*3600 + 30*60)), "(D:20260115103045-03'30')"},
	}

	for _, c := range cases {
		date := time.Date(2026, 1, 15, 10, 30, 45, 0, c.zone)
		if got := pdfDateTime(date); got != c.want {
			t.Errorf("pdfDateTime(%v) = %q, want %q", c.zone, got, c.want)
		}
	}
}

func TestGetOIDFromHashAlgorithm(t *testing.T) {
	oid := getOIDFromHashAlgorithm(crypto.SHA256)
	if oid == nil {
		t.Fatal("no OID for SHA-256")
	}
	if oid.String() != "2.16.840.1.101.3.4.2.1" {
		t.Errorf("SHA-256 OID = %s", oid)
	}
	if getOIDFromHashAlgorithm(crypto.MD5) != nil {
		t.Error("expected no OID for MD5")
	}
}

func TestIsASCII(t *testing.T) {
	if !isASCII("plain text 123") {
		t.Error("plain text reported as non-ASCII")
	}
	if isASCII("héllo") {
		t.Error("accented text reported as ASCII")
	}
}

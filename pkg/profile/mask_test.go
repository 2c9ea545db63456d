package profile

import (
	"strings"
	"testing"
)

func TestMaskString(t *testing.T) {
	if got := MaskString("hello"); got != "[string len=5]" {
		t.Fatalf("unexpected mask: %s", got)
	}
	if got := MaskString(""); got != "[string len=0]" {
		t.Fatalf("unexpected mask: %s", got)
	}
}

func TestMaskDate(t *testing.T) {
	if got := MaskDate("1990-04-01"); got != "[date]" {
		t.Fatalf("unexpected mask: %s", got)
	}
}

func TestMaskFreeText(t *testing.T) {
	if got := MaskFreeText("sensitive clinical note"); got != "[text redacted len=23]" {
		t.Fatalf("unexpected mask: %s", got)
	}
}

func TestMaskIdentifierDeterministic(t *testing.T) {
	m := NewMasker([]byte("run-scoped-secret"))

	a := m.Identifier("patient-123")
	b := m.Identifier("patient-123")
	c := m.Identifier("patient-456")

	if a != b {
		t.Fatalf("expected deterministic digest, got %s vs %s", a, b)
	}
	if a == c {
		t.Fatal("different inputs must produce different digests")
	}
	if len(a) != 16 {
		t.Fatalf("digest must be exactly 16 characters, got %d", len(a))
	}
	for _, sub := range []string{"patient-123", "patient"} {
		if strings.Contains(a, sub) {
			t.Fatalf("digest %q contains input substring %q", a, sub)
		}
	}
}

func TestMaskIdentifierKeyed(t *testing.T) {
	a := NewMasker([]byte("key-one")).Identifier("patient-123")
	b := NewMasker([]byte("key-two")).Identifier("patient-123")
	if a == b {
		t.Fatal("digests under different keys must differ")
	}
}

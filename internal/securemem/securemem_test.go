package securemem

import (
	"testing"
)

func TestNewString(t *testing.T) {
	plaintext := "test-secret-123"
	s := NewString(plaintext)
	defer s.Destroy()

	if s == nil {
		t.Fatal("NewString returned nil")
	}

	if s.String() != plaintext {
		t.Errorf("expected %q, got %q", plaintext, s.String())
	}

	if s.Len() != len(plaintext) {
		t.Errorf("expected length %d, got %d", len(plaintext), s.Len())
	}
}

func TestNewStringFromBytes(t *testing.T) {
	original := []byte{0x01, 0x02, 0x03, 0x04}
	expected := make([]byte, len(original))
	copy(expected, original) // Save expected values before memguard wipes the input
	s := NewStringFromBytes(original)
	defer s.Destroy()

	if s == nil {
		t.Fatal("NewStringFromBytes returned nil")
	}

	result := s.Bytes()
	if len(result) != len(expected) {
		t.Fatalf("expected length %d, got %d", len(expected), len(result))
	}

	for i := range expected {
		if result[i] != expected[i] {
			t.Errorf("byte %d: expected %x, got %x", i, expected[i], result[i])
		}
	}
}

func TestStringEqual(t *testing.T) {
	s1 := NewString("secret")
	defer s1.Destroy()

	if !s1.Equal("secret") {
		t.Error("Equal should return true for matching strings")
	}

	if s1.Equal("different") {
		t.Error("Equal should return false for non-matching strings")
	}
}

func TestStringClone(t *testing.T) {
	original := NewString("original")
	defer original.Destroy()

	clone := original.Clone()

	if original.String() != clone.String() {
		t.Error("clone should have same value as original")
	}

	// Destroying the clone must not affect the original
	clone.Destroy()
	if original.String() != "original" {
		t.Error("destroying clone should not affect original")
	}
}

func TestStringWithValue(t *testing.T) {
	s := NewString("test-value")
	defer s.Destroy()

	var captured string
	s.WithValue(func(str string) {
		captured = str
	})

	if captured != "test-value" {
		t.Errorf("expected 'test-value', got '%s'", captured)
	}
}

func TestStringDestroy(t *testing.T) {
	s := NewString("to-be-destroyed")
	s.Destroy()

	if !s.invalid {
		t.Error("string should be marked as invalid after destroy")
	}

	if s.String() != "" {
		t.Error("destroyed string should return empty")
	}
}

func TestStringEmpty(t *testing.T) {
	s1 := NewString("")
	defer s1.Destroy()

	if !s1.IsEmpty() {
		t.Error("empty string should return true for IsEmpty")
	}

	s2 := NewString("not-empty")
	defer s2.Destroy()

	if s2.IsEmpty() {
		t.Error("non-empty string should return false for IsEmpty")
	}

	var s3 *String
	if !s3.IsEmpty() {
		t.Error("nil string should return true for IsEmpty")
	}
}

// Package securemem holds login credentials in memguard-protected memory so
// they cannot be recovered from swap or a core dump while a session runs.
package securemem

import (
	"crypto/subtle"

	"github.com/awnumar/memguard"
)

// String is a secure string wrapper that stores sensitive data in encrypted memory.
type String struct {
	buf     *memguard.LockedBuffer
	invalid bool
}

// NewString creates a new secure string from the given plaintext.
func NewString(plaintext string) *String {
	return &String{
		buf: memguard.NewBufferFromBytes([]byte(plaintext)),
	}
}

// NewStringFromBytes creates a new secure string from the given bytes.
// NOTE: memguard may wipe the input slice for security.
func NewStringFromBytes(data []byte) *String {
	return &String{
		buf: memguard.NewBufferFromBytes(data),
	}
}

// String returns the plaintext string value.
// WARNING: The returned string is a copy that lives in regular memory.
func (s *String) String() string {
	if s == nil || s.invalid || s.buf == nil {
		return ""
	}
	return string(s.buf.Bytes())
}

// Bytes returns a copy of the plaintext bytes.
// WARNING: The returned bytes live in regular memory; wipe them when done.
func (s *String) Bytes() []byte {
	if s == nil || s.invalid || s.buf == nil {
		return nil
	}
	b := s.buf.Bytes()
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// IsEmpty returns true if the string is empty or invalid.
func (s *String) IsEmpty() bool {
	if s == nil || s.invalid || s.buf == nil {
		return true
	}
	return len(s.buf.Bytes()) == 0
}

// Len returns the length of the string.
func (s *String) Len() int {
	if s == nil || s.invalid || s.buf == nil {
		return 0
	}
	return len(s.buf.Bytes())
}

// Equal returns true if the secure string equals the given plaintext string.
// The comparison is done in constant time.
func (s *String) Equal(other string) bool {
	if s == nil || s.invalid || s.buf == nil {
		return other == ""
	}
	return subtle.ConstantTimeCompare(s.buf.Bytes(), []byte(other)) == 1
}

// Clone creates a copy of the secure string.
func (s *String) Clone() *String {
	if s == nil || s.invalid || s.buf == nil {
		return NewString("")
	}
	b := s.buf.Bytes()
	data := make([]byte, len(b))
	copy(data, b)
	return NewStringFromBytes(data)
}

// WithValue executes a function with access to the plaintext value.
// The function should not retain references to it.
func (s *String) WithValue(fn func(string)) {
	if s == nil || s.invalid || s.buf == nil {
		return
	}
	fn(string(s.buf.Bytes()))
}

// Destroy securely wipes the string from memory.
// After calling this, the string should not be used.
func (s *String) Destroy() {
	if s == nil || s.invalid {
		return
	}
	if s.buf != nil {
		s.buf.Destroy()
		s.buf = nil
	}
	s.invalid = true
}

// Init initializes the memguard library. Called once at startup via the
// package init below; safe to call again.
func Init() {
	memguard.CatchInterrupt()
}

// Cleanup purges memguard's internal buffers. Call before process exit.
func Cleanup() {
	memguard.Purge()
}

// SecureWipe wipes a byte slice from memory.
func SecureWipe(data []byte) {
	memguard.WipeBytes(data)
}

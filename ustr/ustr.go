// Package ustr implements the bounded name strings used for task and
// device names, copied in from (simulated) user memory and compared
// without ever trusting an unterminated or oversized buffer.
package ustr

import "github.com/AndrewD/prex/defs"

// Ustr_t is an immutable, length-bounded name.
type Ustr_t struct {
	s string
}

// New builds a Ustr_t from s, failing if it exceeds max bytes.
func New(s string, max int) (Ustr_t, defs.Err_t) {
	if len(s) == 0 || len(s) > max {
		return Ustr_t{}, defs.ENAMETOOLONG
	}
	for _, b := range []byte(s) {
		if b == 0 {
			return Ustr_t{}, defs.EINVAL
		}
	}
	return Ustr_t{s: s}, 0
}

// String returns the underlying Go string.
func (u Ustr_t) String() string { return u.s }

// Eq reports whether two names are identical.
func (u Ustr_t) Eq(o Ustr_t) bool { return u.s == o.s }

// Empty reports whether the name was never set.
func (u Ustr_t) Empty() bool { return u.s == "" }

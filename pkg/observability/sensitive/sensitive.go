// Package sensitive controls how values that may carry customer data render
// in logs and diagnostics.
//
// The redaction Policy is resolved once from configuration at startup and
// threaded into every wrapper; there is no global switch. Redaction replaces
// the whole value with a fixed marker and never inspects its content.
package sensitive

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Redacted is the marker emitted in place of a redacted value.
const Redacted = "{redacted}"

// Policy selects between masking and revealing wrapped values.
// The zero value redacts.
type Policy uint8

const (
	// PolicyRedact replaces every wrapped value with Redacted.
	PolicyRedact Policy = iota
	// PolicyReveal renders wrapped values verbatim. It must be an explicit opt-in.
	PolicyReveal
)

func (p Policy) String() string {
	if p == PolicyReveal {
		return "reveal"
	}
	return "redact"
}

// ParsePolicy validates a configured policy name. An empty name redacts.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "redact", "redacted":
		return PolicyRedact, nil
	case "reveal", "unredacted":
		return PolicyReveal, nil
	default:
		return PolicyRedact, fmt.Errorf("invalid redaction policy %q (must be one of: redact, reveal)", name)
	}
}

// Sensitive wraps a value whose textual forms obey a Policy.
type Sensitive[T any] struct {
	value  T
	policy Policy
}

// Wrap wraps v under policy p.
func Wrap[T any](p Policy, v T) Sensitive[T] {
	return Sensitive[T]{value: v, policy: p}
}

// Value wraps v under p. It is the non-generic shorthand used when building
// log fields.
func (p Policy) Value(v any) Sensitive[any] {
	return Sensitive[any]{value: v, policy: p}
}

// Unwrap returns the inner value.
func (s Sensitive[T]) Unwrap() T {
	return s.value
}

func (s Sensitive[T]) String() string {
	if s.policy == PolicyReveal {
		return fmt.Sprint(s.value)
	}
	return Redacted
}

// GoString renders the %#v form.
func (s Sensitive[T]) GoString() string {
	if s.policy == PolicyReveal {
		return fmt.Sprintf("%#v", s.value)
	}
	return strconv.Quote(Redacted)
}

// Format defers to the inner value's own formatting under PolicyReveal.
func (s Sensitive[T]) Format(f fmt.State, verb rune) {
	format(f, verb, s.policy, s.value)
}

// MarshalJSON keeps structured log encoders from bypassing the policy.
func (s Sensitive[T]) MarshalJSON() ([]byte, error) {
	if s.policy == PolicyReveal {
		return json.Marshal(s.value)
	}
	return json.Marshal(Redacted)
}

// Ref wraps a pointer so the value need not be copied or consumed. Its
// rendering is that of the pointee, not of the address.
type Ref[T any] struct {
	ptr    *T
	policy Policy
}

// WrapRef wraps the value behind v under policy p.
func WrapRef[T any](p Policy, v *T) Ref[T] {
	return Ref[T]{ptr: v, policy: p}
}

func (r Ref[T]) String() string {
	if r.policy == PolicyReveal {
		return fmt.Sprint(r.target())
	}
	return Redacted
}

// GoString renders the %#v form.
func (r Ref[T]) GoString() string {
	if r.policy == PolicyReveal {
		return fmt.Sprintf("%#v", r.target())
	}
	return strconv.Quote(Redacted)
}

// Format defers to the pointee's own formatting under PolicyReveal.
func (r Ref[T]) Format(f fmt.State, verb rune) {
	format(f, verb, r.policy, r.target())
}

// MarshalJSON encodes the pointee or the marker.
func (r Ref[T]) MarshalJSON() ([]byte, error) {
	if r.policy == PolicyReveal {
		return json.Marshal(r.ptr)
	}
	return json.Marshal(Redacted)
}

func (r Ref[T]) target() any {
	if r.ptr == nil {
		return nil
	}
	return *r.ptr
}

func format(f fmt.State, verb rune, p Policy, v any) {
	if p == PolicyReveal {
		fmt.Fprintf(f, fmt.FormatString(f, verb), v)
		return
	}
	if verb == 'q' || (verb == 'v' && f.Flag('#')) {
		_, _ = io.WriteString(f, strconv.Quote(Redacted))
		return
	}
	_, _ = io.WriteString(f, Redacted)
}

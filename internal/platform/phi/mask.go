package phi

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ehr/surgery-scheduler/internal/platform/auth"
)

// Redacted replaces fields that are masked wholesale.
const Redacted = "[REDACTED]"

type fieldClass int

const (
	fieldPlain fieldClass = iota
	fieldEmail
	fieldPhone
	fieldName
	fieldNamePart
	fieldRedact
)

// classify decides how a record field is masked from its key alone.
func classify(key string) fieldClass {
	k := strings.ToLower(key)
	switch {
	case k == "ssn" || k == "address":
		return fieldRedact
	case strings.Contains(k, "email"):
		return fieldEmail
	case strings.Contains(k, "phone"):
		return fieldPhone
	case strings.Contains(k, "name"):
		return fieldName
	default:
		return fieldPlain
	}
}

// MaskForRole returns a copy of v with PHI fields masked unless role may
// view PHI. The input is never modified. A field's class comes from its
// key and holds for everything beneath it: a redacted key collapses its
// whole subtree, and email, phone and name keys mask every nested leaf.
// Masking is idempotent.
func MaskForRole(v Value, role auth.Role) Value {
	if auth.CanViewPHI(role) {
		return v.Clone()
	}
	return maskValue(fieldPlain, v)
}

func maskValue(class fieldClass, v Value) Value {
	if v.IsNull() {
		return v
	}
	if class == fieldRedact {
		return String(Redacted)
	}
	switch v.kind {
	case KindArray:
		out := make([]Value, len(v.arr))
		for i, item := range v.arr {
			out[i] = maskValue(class, item)
		}
		return Value{kind: KindArray, arr: out}
	case KindRecord:
		inherited := class
		if inherited == fieldName {
			// Parts of a structured name are reduced to initials.
			inherited = fieldNamePart
		}
		out := make(map[string]Value, len(v.rec))
		for k, f := range v.rec {
			c := classify(k)
			if c == fieldPlain {
				c = inherited
			}
			out[k] = maskValue(c, f)
		}
		return Value{kind: KindRecord, rec: out}
	default:
		return maskLeaf(class, v)
	}
}

func maskLeaf(class fieldClass, leaf Value) Value {
	var s string
	switch leaf.Kind() {
	case KindString:
		s, _ = leaf.Str()
	case KindNumber:
		if class != fieldPhone {
			return leaf
		}
		n, _ := leaf.Num()
		s = n.String()
	default:
		return leaf
	}
	if s == "" {
		return leaf
	}

	switch class {
	case fieldEmail:
		return String(MaskEmail(s))
	case fieldPhone:
		return String(MaskPhone(s))
	case fieldName:
		return String(MaskName(s))
	case fieldNamePart:
		return String(maskInitials(s))
	default:
		return leaf
	}
}

// MaskEmail keeps up to two leading characters of the local part and the
// domain: "jane.doe@hospital.com" becomes "ja***@hospital.com". Values
// without an @ are redacted.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return Redacted
	}
	local, domain := email[:at], email[at+1:]

	var prefix strings.Builder
	n := 0
	for _, r := range local {
		if r == '*' || n == 2 {
			break
		}
		prefix.WriteRune(r)
		n++
	}
	return prefix.String() + "***@" + domain
}

// MaskPhone keeps the last four digits: "5551234567" becomes "***-***-4567".
func MaskPhone(phone string) string {
	digits := make([]rune, 0, len(phone))
	for _, r := range phone {
		if unicode.IsDigit(r) {
			digits = append(digits, r)
		}
	}
	if len(digits) < 4 {
		return "***-***-****"
	}
	return "***-***-" + string(digits[len(digits)-4:])
}

// MaskName keeps the first token and reduces the rest to an initial:
// "Jane Mary Doe" becomes "Jane M*** D***".
func MaskName(name string) string {
	tokens := strings.Fields(name)
	if len(tokens) == 0 {
		return name
	}
	for i := 1; i < len(tokens); i++ {
		r, _ := utf8.DecodeRuneInString(tokens[i])
		tokens[i] = string(r) + "***"
	}
	return strings.Join(tokens, " ")
}

// maskInitials reduces every token to its first letter: "Doe" becomes
// "D***".
func maskInitials(s string) string {
	tokens := strings.Fields(s)
	if len(tokens) == 0 {
		return s
	}
	for i, tok := range tokens {
		r, _ := utf8.DecodeRuneInString(tok)
		tokens[i] = string(r) + "***"
	}
	return strings.Join(tokens, " ")
}

// MaskJSON masks an encoded JSON document for role.
func MaskJSON(data []byte, role auth.Role) ([]byte, error) {
	v, err := ParseJSON(data)
	if err != nil {
		return nil, err
	}
	return MaskForRole(v, role).MarshalJSON()
}

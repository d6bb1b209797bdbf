package mapping

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode"
)

const (
	TransformUppercase   = "uppercase"
	TransformLowercase   = "lowercase"
	TransformTrim        = "trim"
	TransformFormatPhone = "format_phone"
)

// ValidTransform accepts the known transforms and the empty string.
func ValidTransform(kind string) bool {
	switch kind {
	case "", TransformUppercase, TransformLowercase, TransformTrim, TransformFormatPhone:
		return true
	}
	return false
}

// Transform stringifies value and applies kind to it. Unknown kinds leave the
// string untouched.
func Transform(value any, kind string) string {
	s := Stringify(value)
	switch kind {
	case TransformUppercase:
		return strings.ToUpper(s)
	case TransformLowercase:
		return strings.ToLower(s)
	case TransformTrim:
		return strings.TrimSpace(s)
	case TransformFormatPhone:
		return FormatPhone(s)
	default:
		return s
	}
}

// FormatPhone normalizes Brazilian numbers to E.164. 11 digits get a +55
// prefix, 13 digits starting with 55 get a +. Anything else is returned as is.
func FormatPhone(s string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)

	switch {
	case len(digits) == 11:
		return "+55" + digits
	case len(digits) == 13 && strings.HasPrefix(digits, "55"):
		return "+" + digits
	default:
		return s
	}
}

// Stringify renders a decoded JSON value as text. nil becomes "".
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// ParseValue reads a monetary amount. Currency symbols are ignored and
// either "," or "." may be the decimal mark, whichever comes last. A mark
// that repeats with no other mark present groups thousands. Hex literals
// and anything unparseable yield 0.
func ParseValue(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" || hasHexPrefix(s) {
		return 0
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return finite(f)
	}

	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == '.' || r == ',' || r == '-' {
			return r
		}
		return -1
	}, s)

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0 && lastComma > lastDot:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	case lastComma >= 0 && lastDot >= 0:
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	case lastDot >= 0 && strings.Count(cleaned, ".") > 1:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
	case lastComma >= 0 && strings.Count(cleaned, ",") == 1:
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	case lastComma >= 0:
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return finite(f)
}

// hasHexPrefix reports whether the first number in s is written as 0x...
func hasHexPrefix(s string) bool {
	i := strings.IndexFunc(s, unicode.IsDigit)
	if i < 0 || i+1 >= len(s) {
		return false
	}
	return s[i] == '0' && (s[i+1] == 'x' || s[i+1] == 'X')
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

package destino

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Destination kinds, derived from the product category.
const (
	KindCubacel = "cubacel"
	KindNauta   = "nauta"
)

var (
	ErrInvalidDestino       = errors.New("invalid destino")
	ErrInvalidCubacelNumber = errors.New("invalid cubacel number")
	ErrInvalidNautaEmail    = errors.New("invalid nauta email")
)

const maxDestinoLen = 128

var (
	cubacelRe = regexp.MustCompile(`^5\d{7}$`)
	nautaRe   = regexp.MustCompile(`^[^\s@]+@nauta\.(?:cu|com\.cu)$`)
	nonDigit  = regexp.MustCompile(`[^\d]`)
)

// Normalize validates raw against the rules for the given kind and returns
// the canonical form: "+53" + 8 digits for cubacel, lowercased address for
// nauta. Unknown kinds pass through with only the generic checks applied.
func Normalize(kind string, raw string) (string, error) {
	d := strings.TrimSpace(raw)
	if d == "" || utf8.RuneCountInString(d) > maxDestinoLen {
		return "", ErrInvalidDestino
	}

	switch kind {
	case KindCubacel:
		n := normalizeCubacel(d)
		if !cubacelRe.MatchString(n) {
			return "", ErrInvalidCubacelNumber
		}
		return "+53" + n, nil
	case KindNauta:
		e := strings.ToLower(d)
		if !nautaRe.MatchString(e) {
			return "", ErrInvalidNautaEmail
		}
		return e, nil
	default:
		return d, nil
	}
}

// normalizeCubacel strips everything but digits and removes the country
// prefix when the number is longer than a bare local one.
func normalizeCubacel(s string) string {
	s = nonDigit.ReplaceAllString(s, "")
	if strings.HasPrefix(s, "53") && len(s) > 8 {
		s = s[2:]
	}
	return s
}

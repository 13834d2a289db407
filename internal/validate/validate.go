// Package validate normalizes raw field readings against the domain rules
// an intake form implies: identity numbers, South African phone numbers,
// email addresses, dates, and medical aid member numbers. Validators are
// pure and deterministic; a failure is a per-field outcome, never an error.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/duncanmillerza/hadada-intake/constants"
)

// Options carries the per-field knobs a template may set.
type Options struct {
	DateFormatHint string
	MinLength      int
	MaxLength      int
}

// Result of one field validation. Normalized is empty when Valid is false.
// BirthDate is set by the identity number rule only: the ISO calendar date
// the number encodes.
type Result struct {
	Valid      bool
	Normalized string
	BirthDate  string
	Message    string
}

// nowFunc is swapped in tests that pin the century inference.
var nowFunc = time.Now

// Field applies the named rule to a raw reading.
func Field(name constants.ValidatorName, raw string, opts Options) Result {
	switch name {
	case constants.ValidatorNationalID:
		return nationalID(raw)
	case constants.ValidatorPhone:
		return phone(raw)
	case constants.ValidatorEmail:
		return email(raw)
	case constants.ValidatorDate:
		return date(raw, opts.DateFormatHint)
	case constants.ValidatorMemberNumber:
		return memberNumber(raw, opts)
	case constants.ValidatorNumeric:
		return numeric(raw)
	default:
		return text(raw)
	}
}

func invalid(format string, args ...any) Result {
	return Result{Message: fmt.Sprintf(format, args...)}
}

var reNonDigit = regexp.MustCompile(`\D`)

// text accepts anything: free text has no universal structure to check.
func text(raw string) Result {
	return Result{Valid: true, Normalized: strings.TrimSpace(raw)}
}

func numeric(raw string) Result {
	cleaned := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	if cleaned == "" {
		return invalid("value is empty")
	}
	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return invalid("non-digit character %q", r)
		}
	}
	return Result{Valid: true, Normalized: cleaned}
}

// nationalID checks a 13-digit identity number: a weighted checksum over the
// first 12 digits (digits at even 0-indexed positions counted directly, odd
// positions doubled then digit-summed) whose digital fold must equal the
// 13th digit, then the embedded YYMMDD birth date must be a real calendar
// date.
func nationalID(raw string) Result {
	digits := reNonDigit.ReplaceAllString(raw, "")
	if len(digits) != 13 {
		return invalid("identity number must have 13 digits, found %d", len(digits))
	}

	var sum int
	for i := 0; i < 12; i++ {
		d := int(digits[i] - '0')
		if i%2 == 1 {
			d *= 2
			if d >= 10 {
				d = d/10 + d%10
			}
		}
		sum += d
	}
	if digitalRoot(sum) != int(digits[12]-'0') {
		return invalid("identity number checksum mismatch")
	}

	birth, err := birthDateFromID(digits)
	if err != nil {
		return invalid("identity number birth date: %v", err)
	}
	return Result{
		Valid:      true,
		Normalized: digits,
		BirthDate:  birth.Format("2006-01-02"),
	}
}

// digitalRoot folds n down to a single digit.
func digitalRoot(n int) int {
	for n > 9 {
		n = n/10 + n%10
	}
	return n
}

// birthDateFromID decodes the leading YYMMDD. Century rule: a two-digit year
// at or below the current two-digit year is 2000s, above it 1900s.
func birthDateFromID(digits string) (time.Time, error) {
	yy := int(digits[0]-'0')*10 + int(digits[1]-'0')
	mm := int(digits[2]-'0')*10 + int(digits[3]-'0')
	dd := int(digits[4]-'0')*10 + int(digits[5]-'0')

	century := 1900
	if yy <= nowFunc().Year()%100 {
		century = 2000
	}
	year := century + yy

	t := time.Date(year, time.Month(mm), dd, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != mm || t.Day() != dd {
		return time.Time{}, fmt.Errorf("%02d%02d%02d is not a calendar date", yy, mm, dd)
	}
	return t, nil
}

// phone accepts the forms patients actually write: local 10-digit with a
// leading 0, international 11-digit with the 27 country code, or 9 digits
// with the leading zero dropped. Everything normalizes to +27XXXXXXXXX.
func phone(raw string) Result {
	digits := reNonDigit.ReplaceAllString(raw, "")
	switch {
	case len(digits) == 10 && digits[0] == '0':
		return Result{Valid: true, Normalized: "+27" + digits[1:]}
	case len(digits) == 11 && strings.HasPrefix(digits, "27"):
		return Result{Valid: true, Normalized: "+" + digits}
	case len(digits) == 9 && digits[0] != '0':
		return Result{Valid: true, Normalized: "+27" + digits}
	default:
		return invalid("unrecognized phone number format (%d digits)", len(digits))
	}
}

var reEmail = regexp.MustCompile(`^[a-z0-9][a-z0-9._%+\-]*@[a-z0-9.\-]+\.[a-z]{2,}$`)

func email(raw string) Result {
	addr := strings.ToLower(strings.TrimSpace(raw))
	if !reEmail.MatchString(addr) {
		return invalid("not a valid email address")
	}
	return Result{Valid: true, Normalized: addr}
}

// Accepted date layouts, tried in order; the first successful parse wins.
var dateLayouts = []string{
	"02.01.2006",
	"02/01/2006",
	"02-01-2006",
	"2006-01-02",
}

// Years outside this window are OCR misreads ("0985" for "1985"), not
// plausible intake entries.
const (
	minSaneYear = 1900
	maxSaneYear = 2099
)

func date(raw, hint string) Result {
	v := strings.TrimSpace(raw)
	if v == "" {
		return invalid("value is empty")
	}

	layouts := dateLayouts
	if h := layoutFromHint(hint); h != "" {
		layouts = append([]string{h}, dateLayouts...)
	}
	for _, layout := range layouts {
		t, err := time.Parse(layout, v)
		if err != nil {
			continue
		}
		if t.Year() < minSaneYear || t.Year() > maxSaneYear {
			return invalid("year %04d outside plausible range", t.Year())
		}
		return Result{Valid: true, Normalized: t.Format("2006-01-02")}
	}
	return invalid("unrecognized date format")
}

var hintLayouts = map[string]string{
	"dd.mm.yyyy": "02.01.2006",
	"dd/mm/yyyy": "02/01/2006",
	"dd-mm-yyyy": "02-01-2006",
	"yyyy-mm-dd": "2006-01-02",
	"yyyy/mm/dd": "2006/01/02",
	"mm/dd/yyyy": "01/02/2006",
}

func layoutFromHint(hint string) string {
	return hintLayouts[strings.ToLower(strings.TrimSpace(hint))]
}

const (
	defaultMemberMinLen = 4
	defaultMemberMaxLen = 16
)

// memberNumber strips a medical aid member number to uppercase letters,
// digits and hyphens, then checks the length against the plausible range.
func memberNumber(raw string, opts Options) Result {
	minLen, maxLen := opts.MinLength, opts.MaxLength
	if minLen <= 0 {
		minLen = defaultMemberMinLen
	}
	if maxLen <= 0 {
		maxLen = defaultMemberMaxLen
	}

	var sb strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(raw)) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			sb.WriteRune(r)
		}
	}
	cleaned := sb.String()
	if len(cleaned) < minLen || len(cleaned) > maxLen {
		return invalid("member number length %d outside %d..%d", len(cleaned), minLen, maxLen)
	}
	return Result{Valid: true, Normalized: cleaned}
}

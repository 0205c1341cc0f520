package phone

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// Normalized is the canonical storage form of a phone number.
type Normalized struct {
	CountryCode    string // "+" followed by the country calling code digits
	NationalNumber string // national significant number, digits only
	Valid          bool
}

var nonDigit = regexp.MustCompile(`\D`)

// Normalize canonicalizes a (country code, mobile) pair. Non-digits are
// stripped from the mobile input and the country code is "+"-prefixed, then
// the numbering-plan metadata resolves the true calling code, national
// significant number and validity. Parsing failures return the cleaned
// best-effort values with Valid=false instead of an error; the caller decides
// whether to abort. Normalize is deterministic and idempotent.
func Normalize(countryCode, mobile string) Normalized {
	cleaned := nonDigit.ReplaceAllString(mobile, "")
	cc := strings.TrimSpace(countryCode)
	if !strings.HasPrefix(cc, "+") {
		cc = "+" + cc
	}

	parsed, err := phonenumbers.Parse(cc+cleaned, "")
	if err != nil {
		return Normalized{CountryCode: cc, NationalNumber: cleaned}
	}

	return Normalized{
		CountryCode:    fmt.Sprintf("+%d", parsed.GetCountryCode()),
		NationalNumber: phonenumbers.GetNationalSignificantNumber(parsed),
		Valid:          phonenumbers.IsValidNumber(parsed),
	}
}

package currency

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency describes a supported currency code.
type Currency struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	Fiat          bool   `json:"is_fiat"`
	DecimalDigits int32  `json:"decimal_digits"`
}

const (
	IRR  = "IRR"
	USD  = "USD"
	EUR  = "EUR"
	GBP  = "GBP"
	BTC  = "BTC"
	ETH  = "ETH"
	USDT = "USDT"
)

var supported = map[string]Currency{
	IRR:  {Code: IRR, Name: "Iranian Rial", Symbol: "﷼", Fiat: true, DecimalDigits: 0},
	USD:  {Code: USD, Name: "US Dollar", Symbol: "$", Fiat: true, DecimalDigits: 2},
	EUR:  {Code: EUR, Name: "Euro", Symbol: "€", Fiat: true, DecimalDigits: 2},
	GBP:  {Code: GBP, Name: "British Pound", Symbol: "£", Fiat: true, DecimalDigits: 2},
	BTC:  {Code: BTC, Name: "Bitcoin", Symbol: "₿", Fiat: false, DecimalDigits: 8},
	ETH:  {Code: ETH, Name: "Ethereum", Symbol: "Ξ", Fiat: false, DecimalDigits: 18},
	USDT: {Code: USDT, Name: "Tether", Symbol: "₮", Fiat: false, DecimalDigits: 6},
}

// Lookup returns the currency for code.
func Lookup(code string) (Currency, bool) {
	c, ok := supported[code]
	return c, ok
}

func IsSupported(code string) bool {
	_, ok := supported[code]
	return ok
}

func IsFiat(code string) bool {
	c, ok := supported[code]
	return ok && c.Fiat
}

func IsCrypto(code string) bool {
	c, ok := supported[code]
	return ok && !c.Fiat
}

// Codes lists the supported codes in sorted order.
func Codes() []string {
	codes := make([]string, 0, len(supported))
	for code := range supported {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// FiatCodes lists the supported fiat codes in sorted order.
func FiatCodes() []string {
	var codes []string
	for _, code := range Codes() {
		if supported[code].Fiat {
			codes = append(codes, code)
		}
	}
	return codes
}

func CryptoCodes() []string {
	var codes []string
	for _, code := range Codes() {
		if !supported[code].Fiat {
			codes = append(codes, code)
		}
	}
	return codes
}

// Round rounds amount half away from zero to the currency's decimal digits.
// Unknown codes round to 2 digits.
func Round(code string, amount float64) float64 {
	digits := int32(2)
	if c, ok := supported[code]; ok {
		digits = c.DecimalDigits
	}
	f, _ := decimal.NewFromFloat(amount).Round(digits).Float64()
	return f
}

// FormatAmount renders amount for display: IRR as grouped integer followed by
// the symbol, major fiat with a leading symbol, everything else with a trailing symbol.
func FormatAmount(code string, amount float64) string {
	c, ok := supported[code]
	if !ok {
		return decimal.NewFromFloat(amount).StringFixed(2) + " " + code
	}
	fixed := decimal.NewFromFloat(amount).StringFixed(c.DecimalDigits)
	switch c.Code {
	case IRR:
		return groupThousands(fixed) + " " + c.Symbol
	case USD, EUR, GBP:
		if strings.HasPrefix(fixed, "-") {
			return "-" + c.Symbol + groupThousands(fixed[1:])
		}
		return c.Symbol + groupThousands(fixed)
	default:
		return fixed + " " + c.Symbol
	}
}

func groupThousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	if len(intPart) <= 3 {
		return sign + intPart + frac
	}
	var b strings.Builder
	lead := len(intPart) % 3
	if lead > 0 {
		b.WriteString(intPart[:lead])
	}
	for i := lead; i < len(intPart); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}
	return sign + b.String() + frac
}

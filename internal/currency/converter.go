// Package currency normalises amounts into a base currency.
package currency

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/wakala/tradeguard/internal/domain"
)

// DefaultRates are units of each currency per 1 USD.
var DefaultRates = map[string]string{
	"USD": "1",
	"EUR": "0.92",
	"GBP": "0.79",
	"KES": "129.5",
	"NGN": "1580",
	"ZAR": "18.6",
}

// Converter holds a rate table relative to Base. It is read-only after
// construction and safe for concurrent use.
type Converter struct {
	base  string
	rates map[string]decimal.Decimal
}

// NewConverter builds a converter from units-per-reference rates. base must
// appear in rates; amounts are rebased through it.
func NewConverter(base string, rates map[string]string) (*Converter, error) {
	base = strings.ToUpper(base)
	c := &Converter{base: base, rates: make(map[string]decimal.Decimal, len(rates))}
	for code, raw := range rates {
		r, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("rate for %s: %w", code, err)
		}
		if !r.IsPositive() {
			return nil, fmt.Errorf("rate for %s must be positive", code)
		}
		c.rates[strings.ToUpper(code)] = r
	}
	if _, ok := c.rates[base]; !ok {
		return nil, fmt.Errorf("base currency %s has no rate", base)
	}
	return c, nil
}

func (c *Converter) Base() string { return c.base }

// ToBase converts amount in currency to the base currency.
func (c *Converter) ToBase(amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	currency = strings.ToUpper(currency)
	if currency == c.base {
		return amount, nil
	}
	rate, ok := c.rates[currency]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: unsupported currency %s", domain.ErrValidation, currency)
	}
	return amount.Div(rate).Mul(c.rates[c.base]), nil
}

// Rate returns units of currency per 1 unit of the base currency.
func (c *Converter) Rate(currency string) (decimal.Decimal, error) {
	rate, ok := c.rates[strings.ToUpper(currency)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: unsupported currency %s", domain.ErrValidation, currency)
	}
	return rate.Div(c.rates[c.base]), nil
}

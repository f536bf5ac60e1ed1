// Package currency converts transfer amounts with a yearly rate table.
package currency

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Base is the currency all rates are quoted against.
const Base = "EUR"

// Rate is how many units of Currency one EUR bought on average during Year.
type Rate struct {
	Currency string          `json:"currency"`
	Year     int             `json:"year"`
	PerBase  decimal.Decimal `json:"per_eur"`
}

type Table struct {
	rates      map[string]map[int]decimal.Decimal
	currencies []string
}

func NewTable(rates []Rate) (*Table, error) {
	t := &Table{rates: map[string]map[int]decimal.Decimal{}}
	for _, r := range rates {
		code := strings.ToUpper(strings.TrimSpace(r.Currency))
		if code == "" || !r.PerBase.IsPositive() {
			return nil, fmt.Errorf("invalid rate for %q in %d: %s", r.Currency, r.Year, r.PerBase)
		}
		if code == Base {
			continue
		}
		if t.rates[code] == nil {
			t.rates[code] = map[int]decimal.Decimal{}
			t.currencies = append(t.currencies, code)
		}
		t.rates[code][r.Year] = r.PerBase
	}
	t.currencies = append(t.currencies, Base)
	sort.Strings(t.currencies)
	return t, nil
}

// LoadTable reads a JSON array of rates.
func LoadTable(r io.Reader) (*Table, error) {
	var rates []Rate
	if err := json.NewDecoder(r).Decode(&rates); err != nil {
		return nil, fmt.Errorf("failed to decode currency rates: %w", err)
	}
	return NewTable(rates)
}

func (t *Table) Currencies() []string {
	return append([]string(nil), t.currencies...)
}

// rate returns the rate for year, falling back to the closest year on record.
func (t *Table) rate(code string, year int) (decimal.Decimal, bool) {
	if code == Base {
		return decimal.NewFromInt(1), true
	}
	years, ok := t.rates[code]
	if !ok || len(years) == 0 {
		return decimal.Zero, false
	}
	if r, ok := years[year]; ok {
		return r, true
	}
	best, bestDist := 0, -1
	for y := range years {
		dist := y - year
		if dist < 0 {
			dist = -dist
		}
		if bestDist < 0 || dist < bestDist || (dist == bestDist && y < best) {
			best, bestDist = y, dist
		}
	}
	return years[best], true
}

// Convert expresses amount in another currency, rounded to cents.
func (t *Table) Convert(amount decimal.Decimal, from, to string, year int) (decimal.Decimal, bool) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return amount, true
	}
	fromRate, ok := t.rate(from, year)
	if !ok {
		return decimal.Zero, false
	}
	toRate, ok := t.rate(to, year)
	if !ok {
		return decimal.Zero, false
	}
	return amount.Div(fromRate).Mul(toRate).Round(2), true
}

// AmountsFor returns the amount in every currency of the table, the original included.
func (t *Table) AmountsFor(amount decimal.Decimal, from string, year int) map[string]decimal.Decimal {
	out := map[string]decimal.Decimal{strings.ToUpper(from): amount}
	for _, code := range t.currencies {
		if converted, ok := t.Convert(amount, from, code, year); ok {
			out[code] = converted
		}
	}
	return out
}

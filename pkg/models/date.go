package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Precision is the granularity a date was reported with. Lower values are finer.
type Precision int

const (
	PrecisionDay Precision = iota + 1
	PrecisionMonth
	PrecisionYear
)

func (p Precision) String() string {
	switch p {
	case PrecisionDay:
		return "day"
	case PrecisionMonth:
		return "month"
	case PrecisionYear:
		return "year"
	default:
		return ""
	}
}

func ParsePrecision(s string) (Precision, error) {
	switch s {
	case "day", "":
		return PrecisionDay, nil
	case "month":
		return PrecisionMonth, nil
	case "year":
		return PrecisionYear, nil
	default:
		return 0, fmt.Errorf("unknown date precision %q", s)
	}
}

func (p Precision) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Precision) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParsePrecision(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func (p Precision) Value() (driver.Value, error) {
	return p.String(), nil
}

func (p *Precision) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = 0
		return nil
	case string:
		parsed, err := ParsePrecision(v)
		*p = parsed
		return err
	case []byte:
		parsed, err := ParsePrecision(string(v))
		*p = parsed
		return err
	default:
		return fmt.Errorf("Precision.Scan: unsupported type %T", src)
	}
}

// Coarser returns the less precise of a and b.
func Coarser(a, b Precision) Precision {
	return max(a, b)
}

// Finer returns the more precise of a and b.
func Finer(a, b Precision) Precision {
	return min(a, b)
}

// PreciseDate is a calendar date together with the precision it was reported at.
// A month-precision date stores the first day of its month, a year-precision date January 1st.
type PreciseDate struct {
	Time      time.Time `json:"date"`
	Precision Precision `json:"precision"`
}

func NewPreciseDate(year int, month time.Month, day int, precision Precision) PreciseDate {
	d := PreciseDate{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), Precision: precision}
	d.Time = d.truncate(precision)
	return d
}

func (d PreciseDate) truncate(p Precision) time.Time {
	t := d.Time.UTC()
	switch p {
	case PrecisionYear:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	case PrecisionMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// Compare orders d and other after widening both to the coarser of their precisions.
func (d PreciseDate) Compare(other PreciseDate) int {
	p := Coarser(d.Precision, other.Precision)
	return d.truncate(p).Compare(other.truncate(p))
}

func (d PreciseDate) Equal(other PreciseDate) bool {
	return d.Compare(other) == 0
}

// Within reports whether d falls inside [start, end], each bound compared at the coarser precision.
func (d PreciseDate) Within(start, end PreciseDate) bool {
	return start.Compare(d) <= 0 && d.Compare(end) <= 0
}

func (d PreciseDate) String() string {
	switch d.Precision {
	case PrecisionYear:
		return d.Time.Format("2006")
	case PrecisionMonth:
		return d.Time.Format("2006-01")
	default:
		return d.Time.Format("2006-01-02")
	}
}

func (d *PreciseDate) UnmarshalJSON(b []byte) error {
	var raw struct {
		Date      string    `json:"date"`
		Precision Precision `json:"precision"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Precision == 0 {
		raw.Precision = PrecisionDay
	}
	t, err := parseDate(raw.Date)
	if err != nil {
		return err
	}
	d.Time = t
	d.Precision = raw.Precision
	d.Time = d.truncate(d.Precision)
	return nil
}

func (d PreciseDate) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Date      string    `json:"date"`
		Precision Precision `json:"precision"`
	}{Date: d.Time.Format("2006-01-02"), Precision: d.Precision})
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006-01", "2006", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// DateField names one of the dates a transfer can carry.
type DateField string

const (
	DateAgreement DateField = "date_agreement"
	DateInvoice   DateField = "date_invoice"
	DatePayment   DateField = "date_payment"
	DateStart     DateField = "date_start"
	DateEnd       DateField = "date_end"
)

// DateFields lists the transfer dates in the order they are compared.
var DateFields = []DateField{DateAgreement, DateInvoice, DatePayment, DateStart, DateEnd}

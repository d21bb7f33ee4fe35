// Package projection turns a sparse deposit log into dense balance series:
// a reconstructed month-by-month history with assumed market growth, and
// multi-scenario forward forecasts.
package projection

import (
	"errors"
	"fmt"
	"math"
	"time"

	"risparmi/internal/core"
)

var (
	// ErrRecordOrder reports records that are not sorted ascending by date.
	ErrRecordOrder = errors.New("deposit records not in ascending date order")
	// ErrInvalidParameter reports a forecast or rate parameter outside its domain.
	ErrInvalidParameter = errors.New("invalid projection parameter")
)

// monthStep approximates one calendar month when synthesizing dates between
// sparse records. Deliberately not calendar-accurate: the forecast axis uses
// the same stepping, and keeping both axes consistent matters more than exact
// month lengths for month-granularity input data.
const monthStep = 30 * 24 * time.Hour

// MonthlyRate converts an annual growth rate to its compound-equivalent
// monthly rate, such that twelve compoundings reproduce the annual rate
// exactly: (1+annual)^(1/12) - 1.
func MonthlyRate(annual float64) (float64, error) {
	if annual <= -1 {
		return 0, fmt.Errorf("%w: annual rate %v must be greater than -1", ErrInvalidParameter, annual)
	}
	return math.Pow(1+annual, 1.0/12) - 1, nil
}

// Reconstruct converts a date-ordered deposit log into a dense balance series.
// Gaps between records are filled with one synthetic point per whole calendar
// month, compounding the running value at the monthly equivalent of
// annualRate with no contribution. A total record replaces the running value;
// an incremental record adds to it. Records must be sorted ascending by date;
// a regression fails fast with ErrRecordOrder.
func Reconstruct(records []core.DepositRecord, annualRate float64) ([]core.BalancePoint, error) {
	monthly, err := MonthlyRate(annualRate)
	if err != nil {
		return nil, err
	}

	var (
		points   []core.BalancePoint
		value    float64
		lastDate time.Time
	)
	for i, r := range records {
		if !lastDate.IsZero() && r.Date.Before(lastDate) {
			return nil, fmt.Errorf("%w: record %d (%s) predates %s",
				ErrRecordOrder, i, r.Date.Format("2006-01-02"), lastDate.Format("2006-01-02"))
		}
		if !lastDate.IsZero() {
			months := wholeMonthsBetween(lastDate, r.Date)
			for k := 1; k <= months; k++ {
				value *= 1 + monthly
				points = append(points, core.BalancePoint{
					Date:  lastDate.Add(time.Duration(k) * monthStep),
					Value: value,
				})
			}
		}
		if tot, ok := r.Total(); ok {
			value = tot
		} else {
			value += r.Amount
		}
		points = append(points, core.BalancePoint{Date: r.Date, Value: value})
		lastDate = r.Date
	}
	return points, nil
}

// Cumulative returns one running total per record, in record order. Total
// records replace the running total, incremental records add to it. This is
// the interpolation-free companion to Reconstruct, used to seed forecasts
// with the last known balance.
func Cumulative(records []core.DepositRecord) ([]float64, error) {
	totals := make([]float64, 0, len(records))
	var (
		value    float64
		lastDate time.Time
	)
	for i, r := range records {
		if !lastDate.IsZero() && r.Date.Before(lastDate) {
			return nil, fmt.Errorf("%w: record %d (%s) predates %s",
				ErrRecordOrder, i, r.Date.Format("2006-01-02"), lastDate.Format("2006-01-02"))
		}
		if tot, ok := r.Total(); ok {
			value = tot
		} else {
			value += r.Amount
		}
		totals = append(totals, value)
		lastDate = r.Date
	}
	return totals, nil
}

// Forecast projects a balance forward month by month for years*12 months.
// Each month the value compounds at the monthly equivalent of annualRate,
// then the contribution is added, so a contribution earns growth only from
// the following month. The returned slice holds the value after each month;
// the initial value is not included.
func Forecast(initial, monthlyContribution float64, years int, annualRate float64) ([]float64, error) {
	if years < 1 {
		return nil, fmt.Errorf("%w: years %d must be at least 1", ErrInvalidParameter, years)
	}
	if monthlyContribution < 0 {
		return nil, fmt.Errorf("%w: monthly contribution %v must not be negative", ErrInvalidParameter, monthlyContribution)
	}
	if initial < 0 {
		return nil, fmt.Errorf("%w: initial balance %v must not be negative", ErrInvalidParameter, initial)
	}
	monthly, err := MonthlyRate(annualRate)
	if err != nil {
		return nil, err
	}

	months := years * 12
	values := make([]float64, 0, months)
	value := initial
	for i := 0; i < months; i++ {
		value = value*(1+monthly) + monthlyContribution
		values = append(values, value)
	}
	return values, nil
}

// wholeMonthsBetween counts whole calendar months from a to b, ignoring the
// day of month, matching the month-level granularity of the deposit log.
func wholeMonthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}

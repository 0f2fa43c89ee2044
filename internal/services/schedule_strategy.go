// Package services provides business logic and orchestration services.
//
// This file implements the Strategy Pattern for advancing a recurring rule's
// next date. Each frequency has its own stepper; monthly-based steppers clamp
// to the last day of the target month.

package services

import (
	"fmt"
	"sync"
	"time"

	"fintrack/internal/core"
)

// DateStepper is the strategy interface for advancing a date by one period.
// Next must return a date strictly after d.
type DateStepper interface {
	Next(d core.Date) core.Date
}

// DayStepper advances by a fixed number of days.
type DayStepper int

func (n DayStepper) Next(d core.Date) core.Date {
	return core.Date{Time: d.AddDate(0, 0, int(n))}
}

// MonthStepper advances by a number of calendar months. A day that does not
// exist in the target month is clamped to that month's last day.
type MonthStepper int

func (n MonthStepper) Next(d core.Date) core.Date {
	return AddMonthsClamped(d, int(n))
}

// AddMonthsClamped adds months to d without overflowing into the following
// month: Jan 31 + 1 month is Feb 29 in a leap year.
func AddMonthsClamped(d core.Date, months int) core.Date {
	first := time.Date(d.Year(), time.Month(d.Month())+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	lastDay := first.AddDate(0, 1, -1).Day()
	day := d.Day()
	if day > lastDay {
		day = lastDay
	}
	return core.NewDate(first.Year(), int(first.Month()), day)
}

// fallbackStepper is used for frequencies without a registered strategy.
var fallbackStepper DateStepper = MonthStepper(1)

var (
	stepMu         sync.RWMutex
	stepStrategies = map[core.Frequency]DateStepper{
		core.Daily:        DayStepper(1),
		core.Weekly:       DayStepper(7),
		core.Biweekly:     DayStepper(14),
		core.Monthly:      MonthStepper(1),
		core.Quarterly:    MonthStepper(3),
		core.Semiannually: MonthStepper(6),
		core.Yearly:       MonthStepper(12),
	}
)

// GetDateStepper returns the stepper registered for frequency.
func GetDateStepper(frequency core.Frequency) (DateStepper, error) {
	stepMu.RLock()
	defer stepMu.RUnlock()
	stepper, ok := stepStrategies[frequency]
	if !ok {
		return nil, fmt.Errorf("unknown frequency: %s", frequency)
	}
	return stepper, nil
}

// RegisterDateStepper adds or replaces the stepper for a frequency.
func RegisterDateStepper(frequency core.Frequency, stepper DateStepper) {
	stepMu.Lock()
	defer stepMu.Unlock()
	stepStrategies[frequency] = stepper
}

// CalculateNextDate returns date advanced by one period of frequency.
// Unknown frequencies advance by one month.
func CalculateNextDate(date core.Date, frequency core.Frequency) core.Date {
	stepper, err := GetDateStepper(frequency)
	if err != nil {
		stepper = fallbackStepper
	}
	return stepper.Next(date)
}

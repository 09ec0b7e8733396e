package fx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/meridian-books/meridian-books/internal/ledger"
)

// ErrRateUnavailable indicates no conversion rate exists for the pair/date.
var ErrRateUnavailable = errors.New("fx: conversion rate unavailable")

// Rate is a company-scoped conversion quote effective from a given date.
type Rate struct {
	CompanyID   int64     `json:"company_id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Rate        float64   `json:"rate"`
	EffectiveAt time.Time `json:"effective_at"`
}

// RateRepositoryPort resolves the rate effective on or before a date.
type RateRepositoryPort interface {
	FindRate(ctx context.Context, companyID int64, from, to string, date time.Time) (Rate, error)
}

// Converter converts monetary amounts between currencies using the company's
// configured rate table. Results are rounded to the target currency's
// decimal precision.
type Converter struct {
	rates RateRepositoryPort
}

// NewConverter constructs a converter instance.
func NewConverter(rates RateRepositoryPort) *Converter {
	return &Converter{rates: rates}
}

// Convert converts amount from one currency to another at the rate effective
// on the given date. Identical currencies convert at parity without a rate
// table lookup.
func (c *Converter) Convert(ctx context.Context, amount float64, from, to string, companyID int64, date time.Time) (float64, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == "" || to == "" {
		return 0, fmt.Errorf("fx: currency pair incomplete (%q -> %q)", from, to)
	}
	if from == to {
		return ledger.Round(amount, DecimalPlaces(to)), nil
	}
	rate, err := c.rates.FindRate(ctx, companyID, from, to, date)
	if err != nil {
		return 0, err
	}
	if rate.Rate <= 0 {
		return 0, fmt.Errorf("%w: non-positive rate for %s%s", ErrRateUnavailable, from, to)
	}
	return ledger.Round(amount*rate.Rate, DecimalPlaces(to)), nil
}

// zeroDecimalCurrencies lists ISO 4217 currencies without a minor unit.
var zeroDecimalCurrencies = map[string]struct{}{
	"JPY": {}, "KRW": {}, "VND": {}, "IDR": {}, "CLP": {},
}

// DecimalPlaces returns the display precision for a currency code.
func DecimalPlaces(code string) int {
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(code)]; ok {
		return 0
	}
	return 2
}

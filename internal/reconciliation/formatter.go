package reconciliation

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/meridian-books/meridian-books/internal/fx"
	"github.com/meridian-books/meridian-books/internal/ledger"
)

// CurrencyConverter converts an amount between currencies at the rate
// effective on a date. It may read rate configuration but never mutates
// ledger state.
type CurrencyConverter interface {
	Convert(ctx context.Context, amount float64, from, to string, companyID int64, date time.Time) (float64, error)
}

// Formatter projects ledger lines into display-ready FormattedLine DTOs
// expressed in a target currency.
type Formatter struct {
	converter CurrencyConverter
	printer   *message.Printer
}

// NewFormatter constructs a formatter rendering amount strings for the given
// BCP 47 locale. An unparseable locale falls back to English.
func NewFormatter(converter CurrencyConverter, locale string) *Formatter {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return &Formatter{converter: converter, printer: message.NewPrinter(tag)}
}

// FormatContext carries the per-request formatting parameters.
type FormatContext struct {
	CompanyID       int64
	CompanyCurrency string
	// TargetCurrency defaults to the company currency when empty.
	TargetCurrency string
	// DateOverride replaces the line's transaction date for rate lookups.
	DateOverride *time.Time
}

// FormatLines converts raw ledger lines into FormattedLine projections.
func (f *Formatter) FormatLines(ctx context.Context, lines []ledger.LedgerLine, fc FormatContext) ([]FormattedLine, error) {
	target := fc.TargetCurrency
	if target == "" {
		target = fc.CompanyCurrency
	}
	out := make([]FormattedLine, 0, len(lines))
	for _, line := range lines {
		formatted, err := f.formatLine(ctx, line, fc, target)
		if err != nil {
			return nil, err
		}
		out = append(out, formatted)
	}
	return out, nil
}

func (f *Formatter) formatLine(ctx context.Context, line ledger.LedgerLine, fc FormatContext, target string) (FormattedLine, error) {
	lineCurrency := fc.CompanyCurrency
	if line.Currency != "" && !ledger.IsZeroAmount(line.AmountCurrency) {
		lineCurrency = line.Currency
	}

	amount := line.AmountResidual
	amountCurrency := line.AmountResidualCurrency
	total := line.Balance()
	// Liquidity lines keep their full original movement visible even once
	// reconciled; residual tracking does not apply to bank/cash matching.
	if line.AccountType.IsLiquidity() {
		amount = line.Balance()
		amountCurrency = line.AmountCurrency
	}

	name := line.Name
	if name == "/" || name == "" {
		name = line.MoveName
	}
	out := FormattedLine{
		ID:           line.ID,
		Name:         name,
		Ref:          line.MoveRef,
		MoveName:     line.MoveName,
		AccountID:    line.AccountID,
		AccountCode:  line.AccountCode,
		AccountName:  line.AccountName,
		AccountType:  line.AccountType,
		JournalID:    line.JournalID,
		JournalName:  line.JournalName,
		PartnerID:    line.PartnerID,
		PartnerName:  line.PartnerName,
		Date:         line.Date,
		DateMaturity: line.DateMaturity,
		Reconciled:   line.Reconciled,
		Currency:     target,
	}

	switch {
	case target == fc.CompanyCurrency && lineCurrency == target:
		out.Balance = amount
		out.TotalAmount = total
	case target == fc.CompanyCurrency && lineCurrency != target:
		out.Balance = amount
		out.TotalAmount = total
		out.LineCurrency = lineCurrency
		out.AmountCurrency = ptr(amountCurrency)
		out.TotalAmountCurrency = ptr(line.AmountCurrency)
	case lineCurrency == target:
		out.Balance = amountCurrency
		out.TotalAmount = line.AmountCurrency
	default:
		date := line.Date
		if fc.DateOverride != nil {
			date = *fc.DateOverride
		}
		converted, err := f.converter.Convert(ctx, amount, fc.CompanyCurrency, target, fc.CompanyID, date)
		if err != nil {
			return FormattedLine{}, fmt.Errorf("format line %d: %w", line.ID, err)
		}
		convertedTotal, err := f.converter.Convert(ctx, total, fc.CompanyCurrency, target, fc.CompanyID, date)
		if err != nil {
			return FormattedLine{}, fmt.Errorf("format line %d: %w", line.ID, err)
		}
		out.Balance = converted
		out.TotalAmount = convertedTotal
		if line.Currency != "" {
			out.LineCurrency = lineCurrency
			out.AmountCurrency = ptr(amountCurrency)
			out.TotalAmountCurrency = ptr(line.AmountCurrency)
		} else {
			out.AmountCurrency = ptr(converted)
			out.TotalAmountCurrency = ptr(total)
		}
	}

	out.AmountStr = f.formatAmount(out.Balance, target)
	out.TotalAmountStr = f.formatAmount(out.TotalAmount, target)
	currencyForSecondary := out.LineCurrency
	if currencyForSecondary == "" {
		currencyForSecondary = target
	}
	if out.AmountCurrency != nil {
		out.AmountCurrencyStr = f.formatAmount(*out.AmountCurrency, currencyForSecondary)
	}
	if out.TotalAmountCurrency != nil {
		out.TotalAmountCurrencyStr = f.formatAmount(*out.TotalAmountCurrency, currencyForSecondary)
	}
	return out, nil
}

// formatAmount renders the absolute value of an amount with the currency's
// decimal precision for the formatter's locale.
func (f *Formatter) formatAmount(v float64, currency string) string {
	decimals := fx.DecimalPlaces(currency)
	return f.printer.Sprintf("%v", number.Decimal(math.Abs(v),
		number.MinFractionDigits(decimals),
		number.MaxFractionDigits(decimals)))
}

func ptr(v float64) *float64 {
	return &v
}

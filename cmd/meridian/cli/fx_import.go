package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/meridian-books/meridian-books/internal/fx"
)

// ImportMode switches the rate importer between preview and write.
type ImportMode string

const (
	// ImportModeDry parses and validates the source without writing.
	ImportModeDry ImportMode = "dry"
	// ImportModeApply upserts every valid row.
	ImportModeApply ImportMode = "apply"
)

// RateStore is the subset of the fx repository the importer needs.
type RateStore interface {
	UpsertRate(ctx context.Context, rate fx.Rate) error
}

// FXOpsCLI bundles operator helpers for the currency rate table.
type FXOpsCLI struct {
	store RateStore
}

// NewFXOpsCLI initialises the helper with its backing store.
func NewFXOpsCLI(store RateStore) (*FXOpsCLI, error) {
	if store == nil {
		return nil, errors.New("fx cli: rate store is required")
	}
	return &FXOpsCLI{store: store}, nil
}

// ImportRatesOptions carries the flags of the import-rates command.
type ImportRatesOptions struct {
	Source       string
	SourceReader io.Reader
	Mode         ImportMode
	JSONOutput   bool
	Stdout       io.Writer
	Stderr       io.Writer
}

// ImportRowError describes one rejected CSV row.
type ImportRowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// ImportSummary is the machine-readable result of an import run.
type ImportSummary struct {
	Mode     ImportMode       `json:"mode"`
	Source   string           `json:"source"`
	Rows     int              `json:"rows"`
	Applied  int              `json:"applied"`
	Rejected []ImportRowError `json:"rejected,omitempty"`
}

// expected CSV header, in order.
var importHeader = []string{"company_id", "from", "to", "rate", "effective_at"}

// ImportRatesCommand reads currency rates from CSV and upserts them. Rows
// that fail to parse are reported and skipped; the exit code is 0 when every
// row was accepted, 10 when some rows were rejected, and 1 on usage errors.
func (c *FXOpsCLI) ImportRatesCommand(ctx context.Context, opts ImportRatesOptions) int {
	if opts.Stdout == nil || opts.Stderr == nil {
		return 1
	}
	if opts.SourceReader == nil {
		fmt.Fprintln(opts.Stderr, "import-rates: a CSV source is required")
		return 1
	}
	switch opts.Mode {
	case ImportModeDry, ImportModeApply:
	case "":
		opts.Mode = ImportModeDry
	default:
		fmt.Fprintf(opts.Stderr, "import-rates: unknown mode %q (want dry or apply)\n", opts.Mode)
		return 1
	}

	reader := csv.NewReader(opts.SourceReader)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		fmt.Fprintf(opts.Stderr, "import-rates: read header: %v\n", err)
		return 1
	}
	if !headerMatches(header) {
		fmt.Fprintf(opts.Stderr, "import-rates: header must be %s\n", strings.Join(importHeader, ","))
		return 1
	}

	summary := ImportSummary{Mode: opts.Mode, Source: opts.Source}
	for row := 2; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			summary.Rejected = append(summary.Rejected, ImportRowError{Row: row, Error: err.Error()})
			continue
		}
		summary.Rows++
		rate, err := parseRateRecord(record)
		if err != nil {
			summary.Rejected = append(summary.Rejected, ImportRowError{Row: row, Error: err.Error()})
			continue
		}
		if opts.Mode == ImportModeApply {
			if err := c.store.UpsertRate(ctx, rate); err != nil {
				summary.Rejected = append(summary.Rejected, ImportRowError{Row: row, Error: err.Error()})
				continue
			}
		}
		summary.Applied++
	}

	if opts.JSONOutput {
		encoder := json.NewEncoder(opts.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(summary); err != nil {
			fmt.Fprintf(opts.Stderr, "import-rates: encode summary: %v\n", err)
			return 1
		}
	} else {
		fmt.Fprintf(opts.Stdout, "mode=%s rows=%d applied=%d rejected=%d\n",
			summary.Mode, summary.Rows, summary.Applied, len(summary.Rejected))
		for _, rejected := range summary.Rejected {
			fmt.Fprintf(opts.Stdout, "  row %d: %s\n", rejected.Row, rejected.Error)
		}
	}

	if len(summary.Rejected) > 0 {
		return 10
	}
	return 0
}

func headerMatches(header []string) bool {
	if len(header) != len(importHeader) {
		return false
	}
	for i, col := range header {
		if strings.ToLower(strings.TrimSpace(col)) != importHeader[i] {
			return false
		}
	}
	return true
}

func parseRateRecord(record []string) (fx.Rate, error) {
	if len(record) != len(importHeader) {
		return fx.Rate{}, fmt.Errorf("want %d columns, got %d", len(importHeader), len(record))
	}
	companyID, err := strconv.ParseInt(strings.TrimSpace(record[0]), 10, 64)
	if err != nil || companyID <= 0 {
		return fx.Rate{}, fmt.Errorf("invalid company_id %q", record[0])
	}
	from := strings.ToUpper(strings.TrimSpace(record[1]))
	to := strings.ToUpper(strings.TrimSpace(record[2]))
	if len(from) != 3 || len(to) != 3 {
		return fx.Rate{}, fmt.Errorf("invalid currency pair %q -> %q", record[1], record[2])
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(record[3]), 64)
	if err != nil || value <= 0 {
		return fx.Rate{}, fmt.Errorf("invalid rate %q", record[3])
	}
	effectiveAt, err := time.Parse("2006-01-02", strings.TrimSpace(record[4]))
	if err != nil {
		return fx.Rate{}, fmt.Errorf("invalid effective_at %q (want YYYY-MM-DD)", record[4])
	}
	return fx.Rate{
		CompanyID:   companyID,
		From:        from,
		To:          to,
		Rate:        value,
		EffectiveAt: effectiveAt,
	}, nil
}

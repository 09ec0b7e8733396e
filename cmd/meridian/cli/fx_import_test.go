package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-books/meridian-books/internal/fx"
)

type stubRateStore struct {
	upserted []fx.Rate
	fail     bool
}

func (s *stubRateStore) UpsertRate(ctx context.Context, rate fx.Rate) error {
	if s.fail {
		return context.DeadlineExceeded
	}
	s.upserted = append(s.upserted, rate)
	return nil
}

const sampleCSV = `company_id,from,to,rate,effective_at
1,EUR,USD,1.0834,2024-06-01
1,GBP,USD,1.2711,2024-06-01
`

func TestImportRatesDryRunWritesNothing(t *testing.T) {
	store := &stubRateStore{}
	cli, err := NewFXOpsCLI(store)
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := cli.ImportRatesCommand(context.Background(), ImportRatesOptions{
		Source:       "rates.csv",
		SourceReader: strings.NewReader(sampleCSV),
		Mode:         ImportModeDry,
		JSONOutput:   true,
		Stdout:       stdout,
		Stderr:       stderr,
	})
	require.Zero(t, exitCode)
	require.Empty(t, stderr.String())
	require.Empty(t, store.upserted)

	var summary ImportSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.Equal(t, 2, summary.Rows)
	require.Equal(t, 2, summary.Applied)
	require.Empty(t, summary.Rejected)
}

func TestImportRatesApplyUpserts(t *testing.T) {
	store := &stubRateStore{}
	cli, err := NewFXOpsCLI(store)
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := cli.ImportRatesCommand(context.Background(), ImportRatesOptions{
		SourceReader: strings.NewReader(sampleCSV),
		Mode:         ImportModeApply,
		Stdout:       stdout,
		Stderr:       stderr,
	})
	require.Zero(t, exitCode)
	require.Len(t, store.upserted, 2)
	require.Equal(t, fx.Rate{
		CompanyID:   1,
		From:        "EUR",
		To:          "USD",
		Rate:        1.0834,
		EffectiveAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}, store.upserted[0])
	require.Contains(t, stdout.String(), "applied=2")
}

func TestImportRatesRejectsBadRows(t *testing.T) {
	store := &stubRateStore{}
	cli, err := NewFXOpsCLI(store)
	require.NoError(t, err)

	const csvWithBadRows = `company_id,from,to,rate,effective_at
1,EUR,USD,1.0834,2024-06-01
0,EUR,USD,1.0834,2024-06-01
1,EUR,USD,-3,2024-06-01
1,EUR,USD,1.0834,June 1st
`
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := cli.ImportRatesCommand(context.Background(), ImportRatesOptions{
		SourceReader: strings.NewReader(csvWithBadRows),
		Mode:         ImportModeApply,
		JSONOutput:   true,
		Stdout:       stdout,
		Stderr:       stderr,
	})
	require.Equal(t, 10, exitCode)
	require.Len(t, store.upserted, 1)

	var summary ImportSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.Equal(t, 4, summary.Rows)
	require.Equal(t, 1, summary.Applied)
	require.Len(t, summary.Rejected, 3)
	require.Equal(t, 3, summary.Rejected[0].Row)
}

func TestImportRatesRejectsWrongHeader(t *testing.T) {
	store := &stubRateStore{}
	cli, err := NewFXOpsCLI(store)
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := cli.ImportRatesCommand(context.Background(), ImportRatesOptions{
		SourceReader: strings.NewReader("a,b,c\n1,2,3\n"),
		Mode:         ImportModeDry,
		Stdout:       stdout,
		Stderr:       stderr,
	})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "header must be")
}

func TestImportRatesUnknownMode(t *testing.T) {
	store := &stubRateStore{}
	cli, err := NewFXOpsCLI(store)
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := cli.ImportRatesCommand(context.Background(), ImportRatesOptions{
		SourceReader: strings.NewReader(sampleCSV),
		Mode:         "force",
		Stdout:       stdout,
		Stderr:       stderr,
	})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "unknown mode")
}

package reconciliation

import (
	"strconv"
	"strings"
	"time"
)

// commitRequest is the JSON payload of a manual reconciliation commit.
type commitRequest struct {
	LineIDs   []int64           `json:"line_ids" validate:"required,min=1,dive,gt=0"`
	WriteOffs []writeOffPayload `json:"write_offs" validate:"dive"`
}

type writeOffPayload struct {
	AccountID      int64    `json:"account_id"`
	JournalID      int64    `json:"journal_id"`
	Date           string   `json:"date"`
	Name           string   `json:"name"`
	Ref            string   `json:"ref"`
	PartnerID      *int64   `json:"partner_id"`
	Balance        *float64 `json:"balance"`
	Debit          *float64 `json:"debit"`
	Credit         *float64 `json:"credit"`
	AmountCurrency *float64 `json:"amount_currency"`
}

// toSpec converts the payload. An unparseable date is left zero so the
// service stamps the current day.
func (p writeOffPayload) toSpec() WriteOffSpec {
	spec := WriteOffSpec{
		AccountID:      p.AccountID,
		JournalID:      p.JournalID,
		Name:           p.Name,
		Ref:            p.Ref,
		PartnerID:      p.PartnerID,
		Balance:        p.Balance,
		Debit:          p.Debit,
		Credit:         p.Credit,
		AmountCurrency: p.AmountCurrency,
	}
	if p.Date != "" {
		if d, err := time.Parse("2006-01-02", p.Date); err == nil {
			spec.Date = d
		}
	}
	return spec
}

type commitResponse struct {
	Status string `json:"status"`
}

type propositionResponse struct {
	Lines []FormattedLine `json:"lines"`
}

// parseIDList splits a comma-separated id query parameter.
func parseIDList(raw string) []int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

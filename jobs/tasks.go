package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeReconIntegrityScan verifies that completed reconciliations
	// still net to zero.
	TaskTypeReconIntegrityScan = "recon:integrity_scan"
	// TaskTypeFXRateGapScan reports open foreign-currency lines without a
	// usable exchange rate quote.
	TaskTypeFXRateGapScan = "fx:rate_gap_scan"
)

// ReconIntegrityPayload scopes an integrity scan. A zero CompanyID scans all
// companies.
type ReconIntegrityPayload struct {
	CompanyID int64 `json:"company_id"`
}

// NewReconIntegrityTask constructs an Asynq task.
func NewReconIntegrityTask(payload ReconIntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeReconIntegrityScan, data), nil
}

// FXRateGapPayload scopes a rate-gap scan to a valuation date.
type FXRateGapPayload struct {
	Date time.Time `json:"date"`
}

// NewFXRateGapTask constructs an Asynq task.
func NewFXRateGapTask(payload FXRateGapPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeFXRateGapScan, data), nil
}

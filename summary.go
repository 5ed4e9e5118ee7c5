package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/parchmint/quipmirror/internal/config"
	"github.com/parchmint/quipmirror/internal/credentials"
	"github.com/parchmint/quipmirror/internal/engine"
	"github.com/parchmint/quipmirror/internal/quip"
	"github.com/parchmint/quipmirror/internal/store"
)

// Error type labels in the run summary. Every failure is classified into
// exactly one of these; callers parsing the summary never see a raw fault.
const (
	errTypeConfiguration  = "ConfigurationError"
	errTypeCredentials    = "CredentialsError"
	errTypeSourceAPI      = "SourceAPIError"
	errTypeStoreOperation = "StoreOperationError"
	errTypeSync           = "SyncError"
	errTypeUnexpected     = "UnexpectedError"
)

// SyncStatistics is the statistics block of a successful run summary.
type SyncStatistics struct {
	ThreadsDiscovered   int      `json:"total_threads_discovered"`
	DocumentsProcessed  int      `json:"documents_processed"`
	SpreadsheetsSkipped int      `json:"spreadsheets_skipped"`
	DocumentsUploaded   int      `json:"documents_uploaded"`
	DocumentsUnchanged  int      `json:"documents_unchanged"`
	SuccessRatePercent  float64  `json:"success_rate_percent"`
	Errors              []string `json:"errors"`
}

// RunConfiguration echoes the effective settings back in the summary.
type RunConfiguration struct {
	BucketName  string `json:"bucket_name"`
	FolderCount int    `json:"folder_count"`
	Region      string `json:"region"`
}

// Summary is the machine-readable outcome of one run, printed to stdout as
// a single JSON document whether the run succeeded or failed.
type Summary struct {
	Status           string            `json:"status"`
	CorrelationID    string            `json:"correlation_id"`
	ExecutionSeconds float64           `json:"execution_time_seconds"`
	ErrorType        string            `json:"error_type,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	SyncStatistics   *SyncStatistics   `json:"sync_statistics,omitempty"`
	Configuration    *RunConfiguration `json:"configuration,omitempty"`
}

// successSummary builds the summary for a completed run.
func successSummary(correlationID string, elapsed float64, result *engine.SyncResult, cfg RunConfiguration) Summary {
	errs := result.Errors
	if errs == nil {
		errs = []string{}
	}

	return Summary{
		Status:           "success",
		CorrelationID:    correlationID,
		ExecutionSeconds: round2(elapsed),
		SyncStatistics: &SyncStatistics{
			ThreadsDiscovered:   result.ThreadsDiscovered,
			DocumentsProcessed:  result.DocumentsProcessed,
			SpreadsheetsSkipped: result.SpreadsheetsSkipped,
			DocumentsUploaded:   result.DocumentsUploaded,
			DocumentsUnchanged:  result.DocumentsUnchanged,
			SuccessRatePercent:  round2(result.SuccessRate()),
			Errors:              errs,
		},
		Configuration: &cfg,
	}
}

// errorSummary builds the summary for a failed run, classifying the error
// into its summary type.
func errorSummary(correlationID string, elapsed float64, err error) Summary {
	errType, errMsg := classifyError(err)

	return Summary{
		Status:           "error",
		CorrelationID:    correlationID,
		ExecutionSeconds: round2(elapsed),
		ErrorType:        errType,
		ErrorMessage:     errMsg,
	}
}

// classifyError maps an error to its summary type label and message.
// Classification order follows the run's stage order: configuration first,
// then credentials, then the two client layers, with anything else treated
// as a generic sync failure.
func classifyError(err error) (errType, errMsg string) {
	var (
		credErr  *credentials.Error
		apiErr   *quip.APIError
		storeErr *store.OpError
	)

	switch {
	case errors.Is(err, config.ErrMissingSetting):
		return errTypeConfiguration, fmt.Sprintf("Configuration error: %v", err)
	case errors.As(err, &credErr):
		return errTypeCredentials, fmt.Sprintf("Credentials error: %v", err)
	case errors.As(err, &apiErr):
		return errTypeSourceAPI, fmt.Sprintf("Source API error: %v", err)
	case errors.As(err, &storeErr):
		return errTypeStoreOperation, fmt.Sprintf("Store operation error: %v", err)
	default:
		return errTypeSync, fmt.Sprintf("Sync error: %v", err)
	}
}

// printSummary writes the summary to stdout as indented JSON.
func printSummary(s Summary) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(s); err != nil {
		fmt.Fprintf(os.Stderr, "Error: encoding summary: %v\n", err)
	}
}

// round2 rounds to two decimal places for the summary's human-facing
// numbers.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

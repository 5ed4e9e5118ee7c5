package engine

// SyncResult summarizes one synchronization run. Counters follow the
// sync-stage attempt semantics: DocumentsProcessed counts sync attempts,
// DocumentsUnchanged is derived as processed minus uploaded after the
// loop, and SpreadsheetsSkipped is recomputed from the discovered set.
type SyncResult struct {
	ThreadsDiscovered   int      `json:"total_threads_discovered"`
	DocumentsProcessed  int      `json:"documents_processed"`
	SpreadsheetsSkipped int      `json:"spreadsheets_skipped"`
	DocumentsUploaded   int      `json:"documents_uploaded"`
	DocumentsUnchanged  int      `json:"documents_unchanged"`
	Errors              []string `json:"errors"`
	ExecutionSeconds    float64  `json:"execution_time_seconds"`
}

// AddError records one per-item failure. Errors are non-fatal; the sync
// loop continues past them.
func (r *SyncResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// HasErrors reports whether any per-item failures were recorded.
func (r *SyncResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// SuccessRate returns uploaded/processed as a percentage, 100 when no
// documents were processed.
func (r *SyncResult) SuccessRate() float64 {
	if r.DocumentsProcessed == 0 {
		return 100.0
	}

	return float64(r.DocumentsUploaded) / float64(r.DocumentsProcessed) * 100.0
}

// ChangeSet is the outcome of change detection: the threads that need
// syncing, in discovery order, plus the detection-stage tallies.
type ChangeSet struct {
	NeedsSync []string

	DocumentsProcessed  int // syncable threads examined
	SpreadsheetsSkipped int
	NewDocuments        int
	UpdatedDocuments    int
	UnchangedDocuments  int
}

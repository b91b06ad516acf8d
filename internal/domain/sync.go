package domain

import "time"

// SyncStats holds statistics about a sync run.
type SyncStats struct {
	SourceID       string
	Total          int
	Start          int
	End            int
	Processed      int
	Checked        int
	TotalProcessed int
	Errors         int
	Duration       time.Duration
}

package domain

import "time"

// Article is one published entry as read from the source platform.
type Article struct {
	MediaID     string
	Title       string
	HTMLContent string
	Author      string
	Digest      string
	URL         string
	UpdateTime  time.Time
}

// SourceItem is a single listing entry. One item may bundle several
// articles that share its media id and timestamp.
type SourceItem struct {
	MediaID    string
	UpdateTime time.Time
	Articles   []Article
}

type Progress struct {
	LastSyncedIndex int       `json:"lastSyncedIndex" db:"last_synced_index"`
	TotalProcessed  int       `json:"totalProcessed" db:"total_processed"`
	LastUpdateTime  time.Time `json:"lastUpdateTime" db:"last_update_time"`
}

// FreshProgress is the cursor state before anything has been synced.
func FreshProgress() Progress {
	return Progress{LastSyncedIndex: -1, TotalProcessed: 0}
}

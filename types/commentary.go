package types

// CommentaryItem is one entry of the append-only commentary feed. Timestamp
// is a synthetic monotonic ordering and dedup key assigned by the producer,
// not wall-clock time.
type CommentaryItem struct {
	Timestamp   int64       `json:"timestamp"`
	Type        string      `json:"type"`
	Text        string      `json:"text"`
	Event       string      `json:"event,omitempty"`
	Runs        int         `json:"runs,omitempty"`
	OverNumber  float64     `json:"over_number,omitempty"`
	OverSummary interface{} `json:"over_summary,omitempty"`
}

// CommentaryState is the merged, ordered view of one innings. Items are
// sorted descending by timestamp with no duplicates.
type CommentaryState struct {
	Items           []CommentaryItem
	NewestTimestamp int64
	OldestTimestamp int64
	InningsID       int
	HasMore         bool
}

// CommentaryMerger folds unordered batches of feed items into one bounded,
// ordered view. Newer batches are merged at the head, paginated history at
// the tail.
type CommentaryMerger interface {
	UpdateWithNewItems(items []CommentaryItem) bool
	AddOlderItems(items []CommentaryItem) bool
	SetInnings(inningsID int, items []CommentaryItem)
	State() CommentaryState
	Subscribe(fn func(CommentaryState)) func()
}

package domain

import "time"

// HistoryEntry records one processed question
type HistoryEntry struct {
	ID        string        `json:"id"`
	Query     Query         `json:"query"`
	Split     *SplitResult  `json:"split,omitempty"`
	Answer    string        `json:"answer"`
	Citations int           `json:"citations"`
	Cached    bool          `json:"cached"`
	Status    HistoryStatus `json:"status"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

type HistoryStatus string

const (
	HistoryStatusSucceeded HistoryStatus = "succeeded"
	HistoryStatusFailed    HistoryStatus = "failed"
)

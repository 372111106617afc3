package model

// SyncError is a user-visible record of a failed operation, kept in a
// bounded ring by the Status Aggregator.
type SyncError struct {
	Direction   Direction
	Message     string
	Code        string
	FilePath    string
	TimestampMs int64
}

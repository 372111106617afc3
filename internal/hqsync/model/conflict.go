package model

// ConflictStatus tracks where a SyncConflict sits in its resolution lifecycle.
type ConflictStatus string

const (
	ConflictDetected ConflictStatus = "detected"
	ConflictResolved ConflictStatus = "resolved"
	ConflictDeferred ConflictStatus = "deferred"
)

// ConflictStrategy selects how a detected conflict is resolved.
type ConflictStrategy string

const (
	StrategyKeepBoth    ConflictStrategy = "keep_both"
	StrategyLocalWins   ConflictStrategy = "local_wins"
	StrategyRemoteWins  ConflictStrategy = "remote_wins"
	StrategyManual      ConflictStrategy = "manual"
)

// LocalConflictSide captures the local-side facts feeding a conflict check.
type LocalConflictSide struct {
	Hash           string
	LastSyncedHash string
	Size           int64
	ModTimeMs      int64
}

// RemoteConflictSide captures the remote-side facts feeding a conflict check.
type RemoteConflictSide struct {
	Key            string
	ETag           string
	LastSyncedETag string
	CurrentETag    string
	Size           int64
	ModTimeMs      int64
	Hash           string // optional, empty if unknown
}

// SyncConflict records a detected local/remote divergence on one path.
type SyncConflict struct {
	ID               string
	RelativePath     RelativePath
	Local            LocalConflictSide
	Remote           RemoteConflictSide
	Status           ConflictStatus
	Strategy         ConflictStrategy
	DetectedAtMs     int64
	ResolvedAtMs     int64
	ConflictFilePath string
}

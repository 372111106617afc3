package model

// EventType is the kind of filesystem change a FileEvent carries.
type EventType string

const (
	EventAdd       EventType = "add"
	EventChange    EventType = "change"
	EventUnlink    EventType = "unlink"
	EventAddDir    EventType = "addDir"
	EventUnlinkDir EventType = "unlinkDir"
)

// IsDir reports whether the event concerns a directory rather than a file.
func (t EventType) IsDir() bool {
	return t == EventAddDir || t == EventUnlinkDir
}

// FileEvent is a single, immutable filesystem observation produced by the
// Watcher and consumed exactly once by the Daemon.
type FileEvent struct {
	Type         EventType
	RelativePath RelativePath
	AbsolutePath string
	TimestampMs  int64
}

package skim

type (
	// EventKind names a notification emitted by the engine.
	EventKind string

	// Level is the severity of an alert or shutdown notification.
	Level string
)

const (
	EventItemsLoaded    EventKind = "items-loaded"
	EventItemUpdated    EventKind = "item-updated"
	EventAlert          EventKind = "alert"
	EventShutdown       EventKind = "shutdown"
	EventLoadingStarted EventKind = "loading-started"
	EventLoadingStopped EventKind = "loading-stopped"
	EventPostHandle     EventKind = "post-handle"
)

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Event is a settled change the engine publishes to its observer. Only the
// fields relevant to Kind are set.
type Event struct {
	Kind EventKind `json:"kind"`

	// items-loaded
	Length int `json:"length"`
	Cursor int `json:"cursor"`

	// item-updated; nil when the timeline is empty
	Item *Item `json:"item,omitempty"`

	// alert and shutdown
	Level Level  `json:"level,omitempty"`
	Text  string `json:"text,omitempty"`

	// post-handle
	Handle string `json:"handle,omitempty"`
}

// Observer receives every event in the order the causing operations ran.
type Observer func(Event)

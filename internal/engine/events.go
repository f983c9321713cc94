package engine

// EventKind enumerates the native page events the session layer understands.
type EventKind int

const (
	EventInitialized EventKind = iota
	EventLoadStarted
	EventLoadFinished
	EventURLChanged
	EventClosing
	EventConsoleMessage
	EventAlert
	EventConfirm
	EventPrompt
	EventPageCreated
	EventResourceRequested
	EventResourceReceived
	EventRepaintRequested
)

var eventNames = map[EventKind]string{
	EventInitialized:       "onInitialized",
	EventLoadStarted:       "onLoadStarted",
	EventLoadFinished:      "onLoadFinished",
	EventURLChanged:        "onUrlChanged",
	EventClosing:           "onClosing",
	EventConsoleMessage:    "onConsoleMessage",
	EventAlert:             "onAlert",
	EventConfirm:           "onConfirm",
	EventPrompt:            "onPrompt",
	EventPageCreated:       "onPageCreated",
	EventResourceRequested: "onResourceRequested",
	EventResourceReceived:  "onResourceReceived",
	EventRepaintRequested:  "onRepaintRequested",
}

// String returns the wire name of the event (e.g. "onLoadFinished").
func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// Noisy reports whether the event is excluded from diagnostic logging.
func (k EventKind) Noisy() bool {
	switch k {
	case EventResourceRequested, EventResourceReceived, EventRepaintRequested:
		return true
	}
	return false
}

// CoreEvents is bound on every page handle.
var CoreEvents = []EventKind{
	EventInitialized,
	EventLoadStarted,
	EventLoadFinished,
	EventURLChanged,
	EventClosing,
	EventConsoleMessage,
	EventAlert,
	EventConfirm,
	EventPrompt,
	EventPageCreated,
}

// ResourceEvents is bound only when resource tracing is enabled.
var ResourceEvents = []EventKind{
	EventResourceRequested,
	EventResourceReceived,
	EventRepaintRequested,
}

// ParseEventKind maps a wire name back to its kind.
func ParseEventKind(name string) (EventKind, bool) {
	for k, n := range eventNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

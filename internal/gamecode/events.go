package gamecode

const (
	EventOpened     = "gamecode.opened"
	EventClosed     = "gamecode.closed"
	EventPicked     = "gamecode.picked"
	EventDispatched = "gamecode.dispatched"
	EventCleared    = "gamecode.cleared"
)

// PoolEvent is the payload of opened, closed and cleared events.
type PoolEvent struct {
	Guild   int64
	Title   string
	Members int
	// What is "pool" or "selected" for cleared events.
	What    string
	Removed int
}

// DispatchEvent is the payload of dispatched events.
type DispatchEvent struct {
	Guild     int64
	RoundID   string
	Resend    bool
	Attempted int
	Delivered int
	Permanent int
	Transient int
}

package engine

// frameKind tags an entry on the instance's handler/cleanup stack.
type frameKind uint8

const (
	frameHandler frameKind = iota
	frameCleanupSteps
	frameCleanupCall
)

// ErrorFilter restricts a handler frame to a class of errors. A nil
// filter accepts everything. A filter that rejects causes the handler
// to be skipped without running; the search continues outward.
type ErrorFilter func(err error) bool

// CleanupFunc is a deferred cleanup call. Its arguments were captured
// at registration time.
type CleanupFunc func(args ...any)

// Snapshot is a stable copy of instance variables, taken at cleanup
// registration time so each loop iteration's frame closes over its own
// values rather than the live mutable slots.
type Snapshot map[string]any

// frame is one entry on the LIFO handler/cleanup stack. Which fields
// are meaningful depends on kind.
type frame struct {
	kind frameKind

	// id is the step at which the frame was registered.
	id int

	// Handler fields.
	resume   int // step control transfers to with the error bound
	filter   ErrorFilter
	attempts int // retry count while this handler is the active one

	// Cleanup-steps fields. The body spans [start, stop); normal flow
	// bypasses it by jumping straight to stop.
	start    int
	stop     int
	snapshot Snapshot

	// Cleanup-call fields.
	fn   CleanupFunc
	args []any
}

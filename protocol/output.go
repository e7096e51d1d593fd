package protocol

// OutputMessageType defines server-to-client message types
type OutputMessageType string

const (
	// Lifecycle
	OutputMergeStarted OutputMessageType = "merge.started" // Participants launched
	OutputMergeDone    OutputMessageType = "merge.done"    // All workers completed

	// Progress
	OutputMergeRound OutputMessageType = "merge.round" // Coordinator selected a minimum
	OutputMergeBlock OutputMessageType = "merge.block" // Worker completed its block

	// Errors
	OutputError OutputMessageType = "error"
)

// OutputMessage represents a message to client
type OutputMessage struct {
	Type      OutputMessageType `json:"type"`
	ID        string            `json:"id"`                // Server-generated message ID
	SessionID string            `json:"sessionId"`         // Session identifier
	ReplyTo   string            `json:"replyTo,omitempty"` // ID of input message
	Payload   any               `json:"payload"`
	Timestamp int64             `json:"timestamp"`
}

// MergeStartedPayload for merge.started
type MergeStartedPayload struct {
	RunID     string `json:"runId"`
	Workers   int    `json:"workers"`
	RunLength int    `json:"runLength"`
}

// MergeRoundPayload for merge.round
type MergeRoundPayload[T any] struct {
	Round  int `json:"round"`
	Winner int `json:"winner"`
	Min    T   `json:"min"`
}

// MergeBlockPayload for merge.block
type MergeBlockPayload[T any] struct {
	Worker int `json:"worker"`
	Round  int `json:"round"`
	Block  []T `json:"block"`
}

// MergeDonePayload for merge.done
type MergeDonePayload[T any] struct {
	RunID  string `json:"runId"`
	Rounds int    `json:"rounds"`
	Blocks [][]T  `json:"blocks"`
	Sorted []T    `json:"sorted"`
}

// ErrorPayload for error messages
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Details   any    `json:"details,omitempty"`
}

// Error codes
const (
	ErrorCodeMerge      = "MERGE_ERROR"
	ErrorCodeValidation = "VALIDATION_ERROR"
	ErrorCodeBadMessage = "BAD_MESSAGE"
	ErrorCodeBusy       = "MERGE_IN_PROGRESS"
)

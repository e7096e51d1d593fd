package protocol

import (
	"cmp"
	"errors"
	"time"

	"github.com/creastat/kmerge"
	"github.com/creastat/kmerge/core"
	"github.com/google/uuid"
)

// EventToMessage converts a merge event to an output message. Events of a
// different element type than T are skipped.
func EventToMessage[T cmp.Ordered](event core.Event, sessionID, replyTo string) *OutputMessage {
	msg := &OutputMessage{
		ID:        generateMessageID(),
		SessionID: sessionID,
		ReplyTo:   replyTo,
		Timestamp: time.Now().UnixMilli(),
	}

	switch e := event.(type) {
	case core.StartEvent:
		msg.Type = OutputMergeStarted
		msg.Payload = MergeStartedPayload{
			RunID:     e.RunID,
			Workers:   e.Workers,
			RunLength: e.RunLength,
		}

	case core.RoundEvent[T]:
		msg.Type = OutputMergeRound
		msg.Payload = MergeRoundPayload[T]{
			Round:  e.Round,
			Winner: e.Winner,
			Min:    e.Min,
		}

	case core.BlockEvent[T]:
		msg.Type = OutputMergeBlock
		msg.Payload = MergeBlockPayload[T]{
			Worker: e.Worker,
			Round:  e.Round,
			Block:  e.Block,
		}

	case core.DoneEvent[T]:
		sorted := make([]T, 0)
		for _, block := range e.Blocks {
			sorted = append(sorted, block...)
		}
		msg.Type = OutputMergeDone
		msg.Payload = MergeDonePayload[T]{
			RunID:  e.RunID,
			Rounds: e.Rounds,
			Blocks: e.Blocks,
			Sorted: sorted,
		}

	case core.ErrorEvent:
		msg.Type = OutputError
		errMsg := ""
		if e.Error != nil {
			errMsg = e.Error.Error()
		}
		msg.Payload = ErrorPayload{
			Code:      ErrorCode(e.Error),
			Message:   errMsg,
			Retryable: e.Retryable,
		}

	default:
		// Unknown event type, skip
		return nil
	}

	return msg
}

// NewErrorMessage creates an error message
func NewErrorMessage(sessionID, replyTo, code, message string, retryable bool, details any) *OutputMessage {
	return &OutputMessage{
		Type:      OutputError,
		ID:        generateMessageID(),
		SessionID: sessionID,
		ReplyTo:   replyTo,
		Payload: ErrorPayload{
			Code:      code,
			Message:   message,
			Retryable: retryable,
			Details:   details,
		},
		Timestamp: time.Now().UnixMilli(),
	}
}

// ErrorCode maps an error to its wire code
func ErrorCode(err error) string {
	var validationErr kmerge.ValidationError
	if errors.As(err, &validationErr) {
		return ErrorCodeValidation
	}
	return ErrorCodeMerge
}

// generateMessageID generates a unique message ID
func generateMessageID() string {
	return "msg-" + uuid.NewString()
}

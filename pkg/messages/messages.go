package messages

import (
	"encoding/json"

	"github.com/mini-maxit/judge/pkg/constants"
	"github.com/mini-maxit/judge/pkg/languages"
	"github.com/mini-maxit/judge/pkg/submission"
)

type QueueMessage struct {
	Type      string          `json:"type"`
	MessageID string          `json:"message_id"`
	Payload   json.RawMessage `json:"payload"`
}

type ResponseQueueMessage struct {
	Type      string          `json:"type"`
	MessageID string          `json:"message_id"`
	Ok        bool            `json:"ok"`
	Payload   json.RawMessage `json:"payload"`
}

// SubmitPayload is the body of a submit message.
type SubmitPayload struct {
	OwnerID    string `json:"owner_id"`
	ProblemID  string `json:"problem_id"`
	LanguageID string `json:"language_id"`
	SourceCode string `json:"source_code"`
}

type SubmitResponsePayload struct {
	SubmissionID string `json:"submission_id"`
}

// SubmissionRefPayload addresses an existing submission on behalf of a requester.
// It is the body of status, cancel and rejudge messages.
type SubmissionRefPayload struct {
	SubmissionID string `json:"submission_id"`
	RequesterID  string `json:"requester_id"`
	Admin        bool   `json:"admin"`
}

type ResponseHandshakePayload struct {
	Languages []languages.LanguageSpec `json:"languages"`
}

type WorkerStatus struct {
	WorkerID               int                    `json:"worker_id"`
	Status                 constants.WorkerStatus `json:"status"`
	ProcessingSubmissionID string                 `json:"processing_submission_id"`
}

type ResponseWorkerStatusPayload struct {
	BusyWorkers  int            `json:"busy_workers"`
	TotalWorkers int            `json:"total_workers"`
	WorkerStatus []WorkerStatus `json:"worker_status"`
}

// StatusEvent is published on every committed state transition.
type StatusEvent struct {
	submission.Status
	Previous submission.State `json:"previous_state"`
}

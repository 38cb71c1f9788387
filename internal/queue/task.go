package queue

type TaskType string

const (
	// TaskTypeSynthesizeReview turns a stored transcript into a draft review.
	TaskTypeSynthesizeReview TaskType = "synthesize_review"
	// TaskTypeDispatchAttempt drives one posting attempt; produced by the
	// dispatch schedule once the attempt is due.
	TaskTypeDispatchAttempt TaskType = "dispatch_attempt"
	// TaskTypeRespondInbound generates a reply to an inbound review.
	TaskTypeRespondInbound TaskType = "respond_inbound"
)

type Task struct {
	TaskType        TaskType
	BusinessID      int64
	TranscriptID    *int64
	AttemptID       *int64
	InboundReviewID *int64
	TraceID         *string
	Attempt         int
}

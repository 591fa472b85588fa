package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/kodeuji/kodeuji-api/internal/models"
	"github.com/kodeuji/kodeuji-api/internal/observability"
)

// SubjectSubmissionFinalized is the NATS subject carrying finalized attempts.
const SubjectSubmissionFinalized = "kodeuji.submissions.finalized"

// SubmissionPublisher delivers finalized submission events to downstream
// consumers. Delivery is at-least-once; consumers dedupe on student and
// question identifiers.
type SubmissionPublisher interface {
	PublishFinalized(ctx context.Context, submission models.Submission, trigger string) error
}

// SubmissionFinalizedEvent is the wire payload for a finalized attempt.
type SubmissionFinalizedEvent struct {
	SubmissionID    uint      `json:"submission_id"`
	StudentID       uint      `json:"student_id"`
	QuestionID      uint      `json:"question_id"`
	Status          string    `json:"status"`
	Trigger         string    `json:"trigger"`
	DurationSeconds *int      `json:"duration_seconds,omitempty"`
	TabSwitchCount  int       `json:"tab_switch_count"`
	FinalizedAt     time.Time `json:"finalized_at"`
}

type natsSubmissionPublisher struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// NewNATSSubmissionPublisher constructs a publisher backed by NATS.
func NewNATSSubmissionPublisher(conn *nats.Conn, logger zerolog.Logger) SubmissionPublisher {
	return &natsSubmissionPublisher{
		conn:   conn,
		logger: logger.With().Str("component", "submission_publisher").Logger(),
	}
}

func (p *natsSubmissionPublisher) PublishFinalized(ctx context.Context, submission models.Submission, trigger string) error {
	event := SubmissionFinalizedEvent{
		SubmissionID:    submission.ID,
		StudentID:       submission.StudentID,
		QuestionID:      submission.QuestionID,
		Status:          submission.Status,
		Trigger:         trigger,
		DurationSeconds: submission.DurationSeconds,
		TabSwitchCount:  submission.TabSwitchCount,
		FinalizedAt:     submission.CreatedAt,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		observability.SubmissionEvents().WithLabelValues("failed").Inc()
		return err
	}

	if err := p.conn.Publish(SubjectSubmissionFinalized, payload); err != nil {
		observability.SubmissionEvents().WithLabelValues("failed").Inc()
		p.logger.Error().Err(err).
			Uint("student_id", submission.StudentID).
			Uint("question_id", submission.QuestionID).
			Msg("failed to publish finalized submission event")
		return err
	}

	observability.SubmissionEvents().WithLabelValues("published").Inc()
	return nil
}

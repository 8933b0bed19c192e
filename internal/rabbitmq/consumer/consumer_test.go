package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/mock/gomock"

	"github.com/mini-maxit/judge/internal/service"
	"github.com/mini-maxit/judge/pkg/constants"
	pkgerrors "github.com/mini-maxit/judge/pkg/errors"
	"github.com/mini-maxit/judge/pkg/languages"
	"github.com/mini-maxit/judge/pkg/messages"
	"github.com/mini-maxit/judge/pkg/submission"
	"github.com/mini-maxit/judge/tests/mocks"
)

const judgeQueue = "judge_queue_test"

func delivery(t *testing.T, msgType, msgID string, payload any, replyTo string) amqp.Delivery {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	body, err := json.Marshal(messages.QueueMessage{Type: msgType, MessageID: msgID, Payload: raw})
	if err != nil {
		t.Fatalf("failed to marshal message: %v", err)
	}
	return amqp.Delivery{Body: body, ReplyTo: replyTo}
}

func TestProcessMessage(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockService := mocks.NewMockService(ctrl)
	mockResponder := mocks.NewMockResponder(ctrl)
	c := NewConsumer(nil, judgeQueue, mockService, mockResponder).(*consumer)
	ctx := context.Background()

	t.Run("invalid json", func(t *testing.T) {
		mockResponder.EXPECT().PublishErrorToResponseQueue(gomock.Any(), "", "", "reply", gomock.Any()).Times(1)

		c.processMessage(ctx, amqp.Delivery{Body: []byte("not json"), ReplyTo: "reply"})
	})

	t.Run("unknown type", func(t *testing.T) {
		mockResponder.EXPECT().
			PublishErrorToResponseQueue(gomock.Any(), "foo", "mid", "reply", pkgerrors.ErrUnknownMessageType).
			Times(1)

		c.processMessage(ctx, delivery(t, "foo", "mid", nil, "reply"))
	})

	t.Run("submit accepted", func(t *testing.T) {
		req := messages.SubmitPayload{OwnerID: "u1", ProblemID: "p1", LanguageID: "cpp17", SourceCode: "x"}
		mockService.EXPECT().Submit(gomock.Any(), req).Return("s1", nil).Times(1)
		mockResponder.EXPECT().PublishSuccessRespond(
			gomock.Any(), constants.QueueMessageTypeSubmit, "m1", "reply",
			messages.SubmitResponsePayload{SubmissionID: "s1"},
		).Return(nil).Times(1)

		c.processMessage(ctx, delivery(t, constants.QueueMessageTypeSubmit, "m1", req, "reply"))
	})

	t.Run("submit busy", func(t *testing.T) {
		mockService.EXPECT().Submit(gomock.Any(), gomock.Any()).Return("", pkgerrors.ErrBusy).Times(1)
		mockResponder.EXPECT().
			PublishErrorToResponseQueue(gomock.Any(), constants.QueueMessageTypeSubmit, "m2", "reply", pkgerrors.ErrBusy).
			Times(1)

		c.processMessage(ctx, delivery(t, constants.QueueMessageTypeSubmit, "m2", messages.SubmitPayload{}, "reply"))
	})

	t.Run("submit without reply queue is not enqueued", func(t *testing.T) {
		mockService.EXPECT().Submit(gomock.Any(), gomock.Any()).Times(0)

		c.processMessage(ctx, delivery(t, constants.QueueMessageTypeSubmit, "m3", messages.SubmitPayload{}, ""))
	})

	t.Run("status", func(t *testing.T) {
		st := submission.Status{SubmissionID: "s1", State: submission.StateRunning}
		mockService.EXPECT().GetStatus(gomock.Any(), "s1", service.Requester{ID: "u1"}).Return(st, nil).Times(1)
		mockResponder.EXPECT().
			PublishSuccessRespond(gomock.Any(), constants.QueueMessageTypeStatus, "m4", "reply", st).
			Return(nil).Times(1)

		ref := messages.SubmissionRefPayload{SubmissionID: "s1", RequesterID: "u1"}
		c.processMessage(ctx, delivery(t, constants.QueueMessageTypeStatus, "m4", ref, "reply"))
	})

	t.Run("cancel not found", func(t *testing.T) {
		mockService.EXPECT().Cancel(gomock.Any(), "s9", service.Requester{ID: "u2"}).
			Return(submission.Status{}, pkgerrors.ErrNotFound).Times(1)
		mockResponder.EXPECT().
			PublishErrorToResponseQueue(gomock.Any(), constants.QueueMessageTypeCancel, "m5", "reply", pkgerrors.ErrNotFound).
			Times(1)

		ref := messages.SubmissionRefPayload{SubmissionID: "s9", RequesterID: "u2"}
		c.processMessage(ctx, delivery(t, constants.QueueMessageTypeCancel, "m5", ref, "reply"))
	})

	t.Run("rejudge as admin", func(t *testing.T) {
		st := submission.Status{SubmissionID: "s1", State: submission.StateQueued}
		mockService.EXPECT().Rejudge(gomock.Any(), "s1", service.Requester{ID: "root", Admin: true}).Return(st, nil).Times(1)
		mockResponder.EXPECT().
			PublishSuccessRespond(gomock.Any(), constants.QueueMessageTypeRejudge, "m6", "reply", st).
			Return(nil).Times(1)

		ref := messages.SubmissionRefPayload{SubmissionID: "s1", RequesterID: "root", Admin: true}
		c.processMessage(ctx, delivery(t, constants.QueueMessageTypeRejudge, "m6", ref, "reply"))
	})

	t.Run("handshake", func(t *testing.T) {
		specs := languages.Default().Specs()
		mockService.EXPECT().Languages(gomock.Any()).Return(specs, nil).Times(1)
		mockResponder.EXPECT().PublishSuccessRespond(
			gomock.Any(), constants.QueueMessageTypeHandshake, "m7", "reply",
			messages.ResponseHandshakePayload{Languages: specs},
		).Return(nil).Times(1)

		c.processMessage(ctx, delivery(t, constants.QueueMessageTypeHandshake, "m7", nil, "reply"))
	})

	t.Run("workers", func(t *testing.T) {
		status := messages.ResponseWorkerStatusPayload{TotalWorkers: 2}
		mockService.EXPECT().Workers().Return(status).Times(1)
		mockResponder.EXPECT().
			PublishSuccessRespond(gomock.Any(), constants.QueueMessageTypeWorkers, "m8", "reply", status).
			Return(nil).Times(1)

		c.processMessage(ctx, delivery(t, constants.QueueMessageTypeWorkers, "m8", nil, "reply"))
	})
}

func expectSetup(mockCh *mocks.MockChannel, deliveries chan amqp.Delivery) {
	args := amqp.Table{"x-max-priority": constants.RabbitMQMaxPriority}
	mockCh.EXPECT().QueueDeclare(judgeQueue, true, false, false, false, args).Return(amqp.Queue{Name: judgeQueue}, nil)
	mockCh.EXPECT().Qos(constants.RabbitMQPrefetch, 0, false).Return(nil)
	mockCh.EXPECT().Consume(judgeQueue, "", true, false, false, false, nil).
		Return((<-chan amqp.Delivery)(deliveries), nil)
}

func TestListenProcessesUntilDeliveriesClose(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockCh := mocks.NewMockChannel(ctrl)
	mockService := mocks.NewMockService(ctrl)
	mockResponder := mocks.NewMockResponder(ctrl)

	deliveries := make(chan amqp.Delivery, 1)
	expectSetup(mockCh, deliveries)
	mockService.EXPECT().Workers().Return(messages.ResponseWorkerStatusPayload{}).Times(1)
	mockResponder.EXPECT().PublishSuccessRespond(gomock.Any(), constants.QueueMessageTypeWorkers, "w1", "reply", gomock.Any()).
		Return(nil).Times(1)

	deliveries <- delivery(t, constants.QueueMessageTypeWorkers, "w1", nil, "reply")
	close(deliveries)

	err := NewConsumer(mockCh, judgeQueue, mockService, mockResponder).Listen(context.Background())
	if !errors.Is(err, pkgerrors.ErrDeliveriesClosed) {
		t.Fatalf("expected ErrDeliveriesClosed, got %v", err)
	}
}

func TestListenStopsWithContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockCh := mocks.NewMockChannel(ctrl)

	deliveries := make(chan amqp.Delivery)
	expectSetup(mockCh, deliveries)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewConsumer(mockCh, judgeQueue, mocks.NewMockService(ctrl), mocks.NewMockResponder(ctrl)).Listen(ctx)
	}()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error on cancellation, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Listen did not return after cancellation")
	}
}

func TestListenFailsWhenQueueCannotBeDeclared(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockCh := mocks.NewMockChannel(ctrl)

	declareErr := errors.New("access refused")
	mockCh.EXPECT().QueueDeclare(judgeQueue, true, false, false, false, gomock.Any()).Return(amqp.Queue{}, declareErr)

	err := NewConsumer(mockCh, judgeQueue, mocks.NewMockService(ctrl), mocks.NewMockResponder(ctrl)).Listen(context.Background())
	if !errors.Is(err, declareErr) {
		t.Fatalf("expected declare error, got %v", err)
	}
}

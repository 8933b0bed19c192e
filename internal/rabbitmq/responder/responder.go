package responder

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/mini-maxit/judge/internal/lifecycle"
	"github.com/mini-maxit/judge/internal/logger"
	"github.com/mini-maxit/judge/internal/rabbitmq/channel"
	"github.com/mini-maxit/judge/pkg/constants"
	"github.com/mini-maxit/judge/pkg/errors"
	"github.com/mini-maxit/judge/pkg/messages"
	"github.com/mini-maxit/judge/pkg/submission"
)

// Responder publishes replies and status events. An amqp channel must not be
// used from several goroutines, so every publish goes through one loop.
type Responder interface {
	// OnTransition publishes a status event for every committed state change.
	lifecycle.Observer
	Publish(ctx context.Context, queueName string, msg amqp.Publishing) error
	PublishErrorToResponseQueue(ctx context.Context, messageType, messageID, responseQueue string, err error)
	PublishSuccessRespond(ctx context.Context, messageType, messageID, responseQueue string, payload any) error
	Close() error
}

type publishRequest struct {
	ctx    context.Context
	queue  string
	msg    amqp.Publishing
	result chan error
}

type responder struct {
	channel     channel.Channel
	statusQueue string
	requests    chan publishRequest
	done        chan struct{}
	mu          sync.RWMutex
	closed      bool
	logger      *zap.SugaredLogger
}

// NewResponder starts the publish loop. Status events go to statusQueue;
// an empty name disables them.
func NewResponder(ch channel.Channel, statusQueue string, bufferSize int) Responder {
	r := &responder{
		channel:     ch,
		statusQueue: statusQueue,
		requests:    make(chan publishRequest, bufferSize),
		done:        make(chan struct{}),
		logger:      logger.NewNamedLogger("responder"),
	}
	go r.loop()
	return r
}

func (r *responder) loop() {
	defer close(r.done)
	for req := range r.requests {
		req.result <- r.channel.Publish(req.ctx, "", req.queue, false, false, req.msg)
	}
}

func (r *responder) Publish(ctx context.Context, queueName string, msg amqp.Publishing) error {
	req := publishRequest{ctx: ctx, queue: queueName, msg: msg, result: make(chan error, 1)}

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return errors.ErrResponderClosed
	}
	select {
	case r.requests <- req:
	case <-ctx.Done():
		r.mu.RUnlock()
		return ctx.Err()
	}
	r.mu.RUnlock()

	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting publishes and waits for queued ones to finish.
func (r *responder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.requests)
	r.mu.Unlock()

	<-r.done
	return nil
}

func (r *responder) PublishErrorToResponseQueue(
	ctx context.Context,
	messageType, messageID, responseQueue string,
	err error,
) {
	payload, jsonErr := json.Marshal(map[string]string{"error": err.Error()})
	if jsonErr != nil {
		r.logger.Errorf("Failed to marshal error payload: %s", jsonErr)
		return
	}

	if pubErr := r.publishRespondMessage(ctx, messageType, messageID, responseQueue, false, payload); pubErr != nil {
		r.logger.Errorf("[MsgID: %s] Failed to publish error message: %s", messageID, pubErr)
		return
	}

	r.logger.Infof("[MsgID: %s] Published error message to %s", messageID, responseQueue)
}

func (r *responder) PublishSuccessRespond(
	ctx context.Context,
	messageType, messageID, responseQueue string,
	payload any,
) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return r.publishRespondMessage(ctx, messageType, messageID, responseQueue, true, body)
}

func (r *responder) publishRespondMessage(
	ctx context.Context,
	messageType, messageID, responseQueue string,
	ok bool,
	payload []byte,
) error {
	responseJSON, err := json.Marshal(messages.ResponseQueueMessage{
		Type:      messageType,
		MessageID: messageID,
		Ok:        ok,
		Payload:   payload,
	})
	if err != nil {
		return err
	}

	return r.Publish(ctx, responseQueue, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: messageID,
		Body:          responseJSON,
	})
}

func (r *responder) OnTransition(ctx context.Context, t lifecycle.Transition) {
	if r.statusQueue == "" || !t.StateChanged() {
		return
	}

	sub := t.Submission
	payload, err := json.Marshal(messages.StatusEvent{
		Status:   submission.StatusOf(sub),
		Previous: t.Previous,
	})
	if err != nil {
		r.logger.Errorf("[SubID: %s] Failed to marshal status event: %s", sub.ID, err)
		return
	}
	body, err := json.Marshal(messages.ResponseQueueMessage{
		Type:      constants.QueueMessageTypeStatus,
		MessageID: fmt.Sprintf("%s/%d", sub.ID, sub.Version),
		Ok:        true,
		Payload:   payload,
	})
	if err != nil {
		r.logger.Errorf("[SubID: %s] Failed to marshal status event: %s", sub.ID, err)
		return
	}

	err = r.Publish(context.WithoutCancel(ctx), r.statusQueue, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		r.logger.Warnf("[SubID: %s] Failed to publish %s event: %s", sub.ID, sub.State, err)
	}
}

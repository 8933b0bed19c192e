package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/mini-maxit/judge/internal/logger"
	"github.com/mini-maxit/judge/internal/rabbitmq/channel"
	"github.com/mini-maxit/judge/internal/rabbitmq/responder"
	"github.com/mini-maxit/judge/internal/service"
	"github.com/mini-maxit/judge/pkg/constants"
	"github.com/mini-maxit/judge/pkg/errors"
	"github.com/mini-maxit/judge/pkg/messages"
	"github.com/mini-maxit/judge/pkg/submission"
)

type Consumer interface {
	// Listen consumes the judge queue until ctx is done.
	Listen(ctx context.Context) error
}

type consumer struct {
	channel   channel.Channel
	queueName string
	service   service.Service
	responder responder.Responder
	logger    *zap.SugaredLogger
}

func NewConsumer(
	ch channel.Channel,
	queueName string,
	svc service.Service,
	responder responder.Responder,
) Consumer {
	return &consumer{
		channel:   ch,
		queueName: queueName,
		service:   svc,
		responder: responder,
		logger:    logger.NewNamedLogger("consumer"),
	}
}

func (c *consumer) Listen(ctx context.Context) error {
	c.logger.Infof("Declaring queue %s", c.queueName)

	args := amqp.Table{"x-max-priority": constants.RabbitMQMaxPriority}
	if _, err := c.channel.QueueDeclare(c.queueName, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", c.queueName, err)
	}
	if err := c.channel.Qos(constants.RabbitMQPrefetch, 0, false); err != nil {
		return fmt.Errorf("set qos on %s: %w", c.queueName, err)
	}

	msgs, err := c.channel.Consume(c.queueName, "", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume queue %s: %w", c.queueName, err)
	}

	c.logger.Infof("Listening for messages on queue %s", c.queueName)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.ErrDeliveriesClosed
			}
			c.processMessage(ctx, msg)
		}
	}
}

func (c *consumer) processMessage(ctx context.Context, msg amqp.Delivery) {
	var queueMessage messages.QueueMessage
	if err := json.Unmarshal(msg.Body, &queueMessage); err != nil {
		c.logger.Errorf("Failed to unmarshal message: %s", err)
		c.replyError(ctx, queueMessage, msg.ReplyTo, err)
		return
	}

	c.logger.Infof("[MsgID: %s] Received %s message", queueMessage.MessageID, queueMessage.Type)

	var (
		payload any
		err     error
	)
	switch queueMessage.Type {
	case constants.QueueMessageTypeSubmit:
		// The submission id, or a Busy rejection, can only reach the sender
		// through its reply queue.
		if msg.ReplyTo == "" {
			err = errors.ErrNoReplyQueue
			break
		}
		payload, err = c.handleSubmit(ctx, queueMessage)
	case constants.QueueMessageTypeStatus:
		payload, err = c.handleRef(ctx, queueMessage, c.service.GetStatus)
	case constants.QueueMessageTypeCancel:
		payload, err = c.handleRef(ctx, queueMessage, c.service.Cancel)
	case constants.QueueMessageTypeRejudge:
		payload, err = c.handleRef(ctx, queueMessage, c.service.Rejudge)
	case constants.QueueMessageTypeHandshake:
		payload, err = c.handleHandshake(ctx)
	case constants.QueueMessageTypeWorkers:
		payload = c.service.Workers()
	default:
		c.logger.Errorf("[MsgID: %s] Unknown message type: %s", queueMessage.MessageID, queueMessage.Type)
		err = errors.ErrUnknownMessageType
	}

	if err != nil {
		c.replyError(ctx, queueMessage, msg.ReplyTo, err)
		return
	}
	if msg.ReplyTo == "" {
		return
	}
	pubErr := c.responder.PublishSuccessRespond(ctx, queueMessage.Type, queueMessage.MessageID, msg.ReplyTo, payload)
	if pubErr != nil {
		c.logger.Errorf("[MsgID: %s] Failed to publish response: %s", queueMessage.MessageID, pubErr)
	}
}

func (c *consumer) replyError(ctx context.Context, queueMessage messages.QueueMessage, replyTo string, err error) {
	if replyTo == "" {
		c.logger.Warnf("[MsgID: %s] Dropping error without reply queue: %s", queueMessage.MessageID, err)
		return
	}
	c.responder.PublishErrorToResponseQueue(ctx, queueMessage.Type, queueMessage.MessageID, replyTo, err)
}

func (c *consumer) handleSubmit(ctx context.Context, queueMessage messages.QueueMessage) (any, error) {
	var req messages.SubmitPayload
	if err := json.Unmarshal(queueMessage.Payload, &req); err != nil {
		return nil, fmt.Errorf("invalid submit payload: %w", err)
	}

	id, err := c.service.Submit(ctx, req)
	if err != nil {
		c.logger.Infof("[MsgID: %s] Submission rejected: %s", queueMessage.MessageID, err)
		return nil, err
	}

	c.logger.Infof("[MsgID: %s] [SubID: %s] Submission accepted", queueMessage.MessageID, id)
	return messages.SubmitResponsePayload{SubmissionID: id}, nil
}

type refHandler func(ctx context.Context, id string, requester service.Requester) (submission.Status, error)

func (c *consumer) handleRef(ctx context.Context, queueMessage messages.QueueMessage, handle refHandler) (any, error) {
	var ref messages.SubmissionRefPayload
	if err := json.Unmarshal(queueMessage.Payload, &ref); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", queueMessage.Type, err)
	}

	return handle(ctx, ref.SubmissionID, service.Requester{ID: ref.RequesterID, Admin: ref.Admin})
}

func (c *consumer) handleHandshake(ctx context.Context) (any, error) {
	specs, err := c.service.Languages(ctx)
	if err != nil {
		return nil, err
	}
	return messages.ResponseHandshakePayload{Languages: specs}, nil
}

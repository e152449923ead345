package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/salesdesk/config"
	"example.com/backstage/services/salesdesk/internal/auth"
	"example.com/backstage/services/salesdesk/internal/command"
	"example.com/backstage/services/salesdesk/internal/processor"
)

const (
	receiveBatch   = 10
	receiveBackoff = 2 * time.Second
)

// BatchMessage is the wire format for lead batches arriving over the
// bus. Type discriminates message kinds sharing the queue; only
// "lead_batch" is understood today.
type BatchMessage struct {
	Type     string            `json:"type"`
	BatchKey string            `json:"batch_key"`
	Rows     []command.LeadRow `json:"rows"`
}

// Submitter is the slice of the command processor the consumer needs
type Submitter interface {
	Submit(ctx context.Context, env command.Envelope) (processor.Result, error)
}

// LeadBatchConsumer receives lead batches from the Service Bus queue and
// feeds each one into the command pipeline as an ImportLeads command.
// The batch key doubles as the idempotency key, so a redelivered message
// lands as a no-op instead of duplicating leads.
type LeadBatchConsumer struct {
	client   *azservicebus.Client
	receiver *azservicebus.Receiver
	queue    string
	submit   Submitter
}

// NewLeadBatchConsumer connects to the configured Service Bus queue
func NewLeadBatchConsumer(cfg config.AzureConfig, submit Submitter) (*LeadBatchConsumer, error) {
	if cfg.QueueConnStr == "" {
		return nil, errors.New("service bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create service bus client")
	}

	receiver, err := client.NewReceiverForQueue(cfg.QueueName, &azservicebus.ReceiverOptions{
		ReceiveMode: azservicebus.ReceiveModePeekLock,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "create receiver for queue %s", cfg.QueueName)
	}

	return &LeadBatchConsumer{
		client:   client,
		receiver: receiver,
		queue:    cfg.QueueName,
		submit:   submit,
	}, nil
}

// Run receives messages until the context is canceled. Transient receive
// errors are logged and retried with a small backoff; the SDK
// re-establishes the AMQP link underneath.
func (c *LeadBatchConsumer) Run(ctx context.Context) error {
	log.Info().Str("queue", c.queue).Msg("Lead batch consumer started")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		messages, err := c.receiver.ReceiveMessages(ctx, receiveBatch, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Str("queue", c.queue).Msg("Receive failed, backing off")
			select {
			case <-time.After(receiveBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		for _, msg := range messages {
			c.handle(ctx, msg)
		}
	}
}

// handle settles one message: complete on an applied (or duplicate)
// import, abandon for redelivery when storage trouble deferred it,
// dead-letter anything that can never succeed.
func (c *LeadBatchConsumer) handle(ctx context.Context, msg *azservicebus.ReceivedMessage) {
	batch, err := decodeBatch(msg.Body)
	if err != nil {
		log.Error().Err(err).Str("message_id", msg.MessageID).Msg("Dead-lettering undecodable bus message")
		c.deadLetter(ctx, msg, "malformed", err.Error())
		return
	}

	env, err := envelopeFor(batch)
	if err != nil {
		c.deadLetter(ctx, msg, "malformed", err.Error())
		return
	}

	res, err := c.submit.Submit(ctx, env)
	if err != nil {
		// The envelope is durably queued; redelivery retries the batch
		// and the batch key dedupes it.
		log.Error().Err(err).Str("batch_key", batch.BatchKey).Msg("Lead batch deferred")
		if aerr := c.receiver.AbandonMessage(ctx, msg, nil); aerr != nil {
			log.Error().Err(aerr).Str("message_id", msg.MessageID).Msg("Failed to abandon message")
		}
		return
	}

	if !res.Applied() {
		log.Warn().Str("batch_key", batch.BatchKey).Str("outcome", res.Outcome).Msg("Lead batch rejected")
		c.deadLetter(ctx, msg, "rejected", res.Outcome)
		return
	}

	log.Info().
		Str("batch_key", batch.BatchKey).
		Int("rows", len(batch.Rows)).
		Bool("duplicate", res.Duplicate).
		Msg("Lead batch imported")
	if cerr := c.receiver.CompleteMessage(ctx, msg, nil); cerr != nil {
		log.Error().Err(cerr).Str("message_id", msg.MessageID).Msg("Failed to complete message")
	}
}

func (c *LeadBatchConsumer) deadLetter(ctx context.Context, msg *azservicebus.ReceivedMessage, reason, description string) {
	err := c.receiver.DeadLetterMessage(ctx, msg, &azservicebus.DeadLetterOptions{
		Reason:           &reason,
		ErrorDescription: &description,
	})
	if err != nil {
		log.Error().Err(err).Str("message_id", msg.MessageID).Msg("Failed to dead-letter message")
	}
}

// Close shuts down the receiver and then the client
func (c *LeadBatchConsumer) Close() error {
	if c.receiver != nil {
		if err := c.receiver.Close(context.Background()); err != nil {
			return err
		}
	}
	if c.client != nil {
		return c.client.Close(context.Background())
	}
	return nil
}

// decodeBatch validates the wire envelope of a bus message
func decodeBatch(body []byte) (BatchMessage, error) {
	var batch BatchMessage
	if err := json.Unmarshal(body, &batch); err != nil {
		return BatchMessage{}, errors.Wrap(err, "decode bus message")
	}
	if batch.Type != "lead_batch" {
		return BatchMessage{}, errors.Errorf("unsupported message type %q", batch.Type)
	}
	if batch.BatchKey == "" {
		return BatchMessage{}, errors.New("lead batch is missing its batch_key")
	}
	return batch, nil
}

// envelopeFor builds the ImportLeads envelope for a decoded batch,
// submitted as the system actor and keyed by the batch key
func envelopeFor(batch BatchMessage) (command.Envelope, error) {
	return command.New(command.KindImportLeads, auth.SystemActor, command.ImportLeadsPayload{
		BatchKey: batch.BatchKey,
		Rows:     batch.Rows,
	}, batch.BatchKey)
}

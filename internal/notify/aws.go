package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/dwsmith1983/sampleflow/pkg/types"
)

// EventSource is the EventBridge source set on every job event.
const EventSource = "sampleflow"

const sendTimeout = 10 * time.Second

var (
	_ Notifier = (*SQS)(nil)
	_ Notifier = (*EventBridge)(nil)
	_ Notifier = Multi(nil)
)

// SQSAPI is the subset of the SQS client used by the SQS notifier.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQS sends job events to a queue. FIFO queues get the job ID as message
// group and MessageID as deduplication ID.
type SQS struct {
	client   SQSAPI
	queueURL string
	fifo     bool
}

// NewSQS creates an SQS notifier for queueURL.
func NewSQS(client SQSAPI, queueURL string) *SQS {
	return &SQS{
		client:   client,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
	}
}

// Notify sends event as the message body with the job status as an attribute.
func (s *SQS) Notify(ctx context.Context, event types.JobEvent) error {
	data, err := Encode(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(data)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"status": {DataType: aws.String("String"), StringValue: aws.String(string(event.Status))},
		},
	}
	if s.fifo {
		input.MessageGroupId = aws.String(event.JobID)
		input.MessageDeduplicationId = aws.String(MessageID(event))
	}
	if _, err := s.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("sending job %s event to SQS: %w", event.JobID, err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no connection state.
func (s *SQS) Close() {}

// EventBridgeAPI is the subset of the EventBridge client used by the
// EventBridge notifier.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridge puts job events on an event bus.
type EventBridge struct {
	client  EventBridgeAPI
	busName string
}

// NewEventBridge creates an EventBridge notifier for busName.
func NewEventBridge(client EventBridgeAPI, busName string) *EventBridge {
	return &EventBridge{client: client, busName: busName}
}

// DetailType returns the detail-type for event, e.g. "sampleflow.job.completed".
func DetailType(event types.JobEvent) string {
	return "sampleflow.job." + string(event.Status)
}

// Notify puts a single entry. Partial failures surface as errors.
func (e *EventBridge) Notify(ctx context.Context, event types.JobEvent) error {
	data, err := Encode(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	entry := ebtypes.PutEventsRequestEntry{
		EventBusName: aws.String(e.busName),
		Source:       aws.String(EventSource),
		DetailType:   aws.String(DetailType(event)),
		Detail:       aws.String(string(data)),
	}
	if !event.Timestamp.IsZero() {
		entry.Time = aws.Time(event.Timestamp)
	}

	out, err := e.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []ebtypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		return fmt.Errorf("putting job %s event on %s: %w", event.JobID, e.busName, err)
	}
	if out != nil && out.FailedEntryCount > 0 {
		msg := "rejected"
		if len(out.Entries) > 0 && out.Entries[0].ErrorMessage != nil {
			msg = aws.ToString(out.Entries[0].ErrorMessage)
		}
		return fmt.Errorf("putting job %s event on %s: %s", event.JobID, e.busName, msg)
	}
	return nil
}

// Close is a no-op.
func (e *EventBridge) Close() {}

// Multi fans each event out to every notifier.
type Multi []Notifier

// Notify delivers to all notifiers and joins their errors.
func (m Multi) Notify(ctx context.Context, event types.JobEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every notifier.
func (m Multi) Close() {
	for _, n := range m {
		n.Close()
	}
}

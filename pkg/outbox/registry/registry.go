package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vyris/vyris-backend/pkg/config"
	"github.com/vyris/vyris-backend/pkg/db/models"
	"github.com/vyris/vyris-backend/pkg/enums"
	"github.com/vyris/vyris-backend/pkg/outbox"
	"github.com/vyris/vyris-backend/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate, topic and payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError signals the publisher should dead-letter a row.
type NonRetryableError struct {
	Err    error
	Reason enums.OutboxDLQErrorReason
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err, Reason: enums.OutboxDLQReasonNonRetryable}
}

// ReasonOf returns the DLQ reason carried by err, defaulting to non_retryable.
func ReasonOf(err error) enums.OutboxDLQErrorReason {
	var nr NonRetryableError
	if errors.As(err, &nr) && nr.Reason.IsValid() {
		return nr.Reason
	}
	return enums.OutboxDLQReasonNonRetryable
}

// NewEventRegistry builds the registry with the configured topic names.
// Membership lifecycle events go to the membership topic; anything a human
// must act on goes to the notification topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.MembershipTopic == "" {
		return nil, fmt.Errorf("membership topic is required")
	}
	if cfg.NotificationTopic == "" {
		return nil, fmt.Errorf("notification topic is required")
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	for _, desc := range []EventDescriptor{
		{
			EventType:      enums.EventMembershipMinted,
			AggregateType:  enums.AggregateMembership,
			Topic:          cfg.MembershipTopic,
			PayloadFactory: func() any { return &payloads.MembershipMintedEvent{} },
		},
		{
			EventType:      enums.EventReforgeConfirmed,
			AggregateType:  enums.AggregateReforgeRequest,
			Topic:          cfg.MembershipTopic,
			PayloadFactory: func() any { return &payloads.ReforgeConfirmedEvent{} },
		},
		{
			EventType:      enums.EventEncounterVerified,
			AggregateType:  enums.AggregateEncounter,
			Topic:          cfg.MembershipTopic,
			PayloadFactory: func() any { return &payloads.EncounterVerifiedEvent{} },
		},
		{
			EventType:      enums.EventReforgeConfirmationRequested,
			AggregateType:  enums.AggregateReforgeRequest,
			Topic:          cfg.NotificationTopic,
			PayloadFactory: func() any { return &payloads.ReforgeConfirmationRequestedEvent{} },
		},
	} {
		reg.entries[desc.EventType] = desc
	}
	return reg, nil
}

// Topics lists the distinct topics events can be routed to.
func (r *EventRegistry) Topics() []string {
	seen := map[string]struct{}{}
	var topics []string
	for _, desc := range r.entries {
		if _, ok := seen[desc.Topic]; ok {
			continue
		}
		seen[desc.Topic] = struct{}{}
		topics = append(topics, desc.Topic)
	}
	return topics
}

// Resolve validates the row and decodes its typed payload.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NonRetryableError{
			Err:    fmt.Errorf("unsupported event type %s", event.EventType),
			Reason: enums.OutboxDLQReasonUnknownEvent,
		}
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}

	trimmed := bytes.TrimSpace(envelope.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", event.EventType))
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}

	return &ResolvedEvent{
		Descriptor: desc,
		Envelope:   envelope,
		Payload:    payload,
	}, nil
}

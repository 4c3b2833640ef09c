package datamodel

import (
	"errors"
	"fmt"
)

// EventPublisher accepts an emitted event from a cluster. Payloads are Go
// structs with tlv tags; encoding happens centrally in the publisher, not
// in the cluster.
type EventPublisher interface {
	PublishEvent(
		endpoint EndpointID,
		cluster ClusterID,
		eventID EventID,
		priority EventPriority,
		data interface{},
		fabricIndex uint8,
	) (EventNumber, error)
}

// EventSource is a composable mixin giving a cluster the ability to emit
// events once bound to a publisher. Events are buffered by the publisher;
// this core does not serve subscriptions or stream reports.
type EventSource struct {
	endpoint  EndpointID
	cluster   ClusterID
	publisher EventPublisher

	validEvents map[EventID]EventEntry
}

// NewEventSource creates an unbound EventSource. Call Bind to attach it.
func NewEventSource() *EventSource {
	return &EventSource{
		validEvents: make(map[EventID]EventEntry),
	}
}

// Bind attaches the EventSource to its owning cluster and a publisher.
func (e *EventSource) Bind(endpoint EndpointID, cluster ClusterID, publisher EventPublisher) {
	e.endpoint = endpoint
	e.cluster = cluster
	e.publisher = publisher
}

// RegisterEvent records an event ID as valid for this cluster.
func (e *EventSource) RegisterEvent(entry EventEntry) {
	if e.validEvents == nil {
		e.validEvents = make(map[EventID]EventEntry)
	}
	e.validEvents[entry.ID] = entry
}

// RegisterEvents records multiple event IDs as valid for this cluster.
func (e *EventSource) RegisterEvents(entries []EventEntry) {
	for _, entry := range entries {
		e.RegisterEvent(entry)
	}
}

// checkRegistered returns an error if eventID is not among the registered
// events. An EventSource with no registrations accepts anything, since a
// cluster that never called RegisterEvent opted out of validation.
func (e *EventSource) checkRegistered(eventID EventID) error {
	if len(e.validEvents) == 0 {
		return nil
	}
	if _, ok := e.validEvents[eventID]; !ok {
		return fmt.Errorf("%w: event ID 0x%04X not registered for cluster 0x%04X",
			ErrEventNotRegistered, eventID, e.cluster)
	}
	return nil
}

// ValidEvents returns the registered events.
func (e *EventSource) ValidEvents() map[EventID]EventEntry {
	return e.validEvents
}

// HasEvent reports whether eventID is registered.
func (e *EventSource) HasEvent(eventID EventID) bool {
	if e.validEvents == nil {
		return false
	}
	_, ok := e.validEvents[eventID]
	return ok
}

// Emit publishes a non-fabric-scoped event.
func (e *EventSource) Emit(eventID EventID, priority EventPriority, payload interface{}) (EventNumber, error) {
	return e.EmitFabricScoped(eventID, priority, payload, 0)
}

// EmitFabricScoped publishes an event scoped to fabricIndex (0 = all fabrics).
func (e *EventSource) EmitFabricScoped(eventID EventID, priority EventPriority, payload interface{}, fabricIndex uint8) (EventNumber, error) {
	if e.publisher == nil {
		return 0, ErrEventPublisherNotBound
	}
	if err := e.checkRegistered(eventID); err != nil {
		return 0, err
	}
	return e.publisher.PublishEvent(e.endpoint, e.cluster, eventID, priority, payload, fabricIndex)
}

// IsBound reports whether the EventSource has a publisher attached.
func (e *EventSource) IsBound() bool {
	return e.publisher != nil
}

var (
	ErrEventPublisherNotBound = errors.New("event publisher not bound")
	ErrEventNotRegistered     = errors.New("event not registered")
)

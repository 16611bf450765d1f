package service

import (
	"github.com/munivet/doseledger/internal/core/domain"
)

// EventQueue buffers committed stock movements between the services and the
// publisher workers, so publishing latency never sits inside a ledger
// transaction.
type EventQueue struct {
	events chan domain.StockEvent
}

func NewEventQueue(size int) *EventQueue {
	return &EventQueue{events: make(chan domain.StockEvent, size)}
}

func (q *EventQueue) Publish(event domain.StockEvent) {
	q.events <- event
}

func (q *EventQueue) Events() <-chan domain.StockEvent {
	return q.events
}

func (q *EventQueue) Close() {
	close(q.events)
}

package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

var allStatuses = []Status{
	StatusPending, StatusConfirmed, StatusProcessing, StatusShipped,
	StatusDelivered, StatusCancelled, StatusRefunded,
}

// refunded is reachable from every non-terminal status as an administrative override.
var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusConfirmed: true, StatusCancelled: true, StatusRefunded: true},
	StatusConfirmed:  {StatusProcessing: true, StatusCancelled: true, StatusRefunded: true},
	StatusProcessing: {StatusShipped: true, StatusRefunded: true},
	StatusShipped:    {StatusDelivered: true, StatusRefunded: true},
	StatusDelivered:  {},
	StatusCancelled:  {},
	StatusRefunded:   {},
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := validNext[st]; !ok {
		return "", fmt.Errorf("%w: %q (valid: %v)", ErrInvalidStatus, s, allStatuses)
	}
	return st, nil
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool {
	return s.Valid() && len(validNext[s]) == 0
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (o *Order) CanBeCancelled() bool {
	return o.Status == StatusPending || o.Status == StatusConfirmed
}

func (o *Order) IsCompleted() bool {
	switch o.Status {
	case StatusDelivered, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Transition moves the order to status to, stamps the lifecycle timestamp on
// first entry and returns the single history entry recording the change.
// The order is left untouched when an error is returned.
func (o *Order) Transition(to Status, actor Actor, notes string, now time.Time) (StatusHistory, error) {
	if !to.Valid() {
		return StatusHistory{}, fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}
	from := o.Status
	if !CanTransition(from, to) {
		return StatusHistory{}, &StatusError{OrderID: o.ID, Current: from, Target: to, Err: ErrInvalidTransition}
	}

	o.Status = to
	o.UpdatedAt = now
	if ts := o.lifecycleStamp(to); ts != nil && *ts == nil {
		t := now
		*ts = &t
	}

	if strings.TrimSpace(notes) == "" {
		notes = fmt.Sprintf("Status changed from %s to %s", from, to)
	}
	return o.historyEntry(notes, actor, now), nil
}

// Note records an audit entry at the current status without changing it.
func (o *Order) Note(notes string, actor Actor, now time.Time) StatusHistory {
	o.UpdatedAt = now
	return o.historyEntry(notes, actor, now)
}

func (o *Order) historyEntry(notes string, actor Actor, now time.Time) StatusHistory {
	h := StatusHistory{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		OrderID:   o.ID,
		Status:    o.Status,
		Notes:     notes,
		ChangedBy: actor.ID,
		CreatedAt: now,
	}
	o.History = append(o.History, h)
	return h
}

func (o *Order) lifecycleStamp(s Status) **time.Time {
	switch s {
	case StatusConfirmed:
		return &o.ConfirmedAt
	case StatusShipped:
		return &o.ShippedAt
	case StatusDelivered:
		return &o.DeliveredAt
	case StatusCancelled:
		return &o.CancelledAt
	}
	return nil
}

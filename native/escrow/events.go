package escrow

import (
	"encoding/hex"
	"strconv"

	"escrowchain/core/types"
)

const (
	EventTypeEscrowMade     = "escrow.made"
	EventTypeEscrowRefunded = "escrow.refunded"
	EventTypeEscrowTaken    = "escrow.taken"
)

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// NewMadeEvent returns the canonical event payload for a newly opened escrow
// holding deposit units of its MintA.
func NewMadeEvent(e *Escrow, deposit uint64) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowMade, e)
	evt.Attributes["deposit"] = strconv.FormatUint(deposit, 10)
	return evt
}

// NewRefundedEvent returns the payload emitted when the maker reclaims the
// vault.
func NewRefundedEvent(e *Escrow, amount uint64) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowRefunded, e)
	evt.Attributes["amount"] = strconv.FormatUint(amount, 10)
	return evt
}

// NewTakenEvent returns the payload emitted when a taker fulfils the escrow.
func NewTakenEvent(e *Escrow, taker [20]byte, amount uint64) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowTaken, e)
	evt.Attributes["taker"] = hex.EncodeToString(taker[:])
	evt.Attributes["amount"] = strconv.FormatUint(amount, 10)
	return evt
}

func newEscrowEvent(eventType string, e *Escrow) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["address"] = hex.EncodeToString(e.Address[:])
	attrs["maker"] = hex.EncodeToString(e.Maker[:])
	attrs["mintA"] = hex.EncodeToString(e.MintA[:])
	attrs["mintB"] = hex.EncodeToString(e.MintB[:])
	attrs["seed"] = strconv.FormatUint(e.Seed, 10)
	attrs["receive"] = strconv.FormatUint(e.Receive, 10)
	return &types.Event{Type: eventType, Attributes: attrs}
}

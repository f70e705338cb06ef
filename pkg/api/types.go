package api

import "encoding/json"

// Request and response shapes for the REST endpoints and WebSocket messages.

// BatchRequest is the payload for POST /api/v1/batch: an owner-signed command
// batch. Kinds and Inputs are parallel arrays; Signature is a 65-byte hex
// [R || S || V] signature over the batch digest.
type BatchRequest struct {
	Owner     string            `json:"owner"`
	Nonce     uint64            `json:"nonce"`
	Kinds     []uint8           `json:"kinds"`
	Inputs    []json.RawMessage `json:"inputs"`
	Signature string            `json:"signature"`
}

// TriggerRequest is the payload for POST /api/v1/triggers: a keeper-signed
// conditional-order trigger. Signature is a hex BLS signature over the
// trigger digest.
type TriggerRequest struct {
	Account   string `json:"account"`
	OrderID   uint64 `json:"orderId"`
	Signature string `json:"signature"`
}

// TransferOwnershipRequest is the payload for POST /api/v1/transfer: an
// owner-signed ownership handoff.
type TransferOwnershipRequest struct {
	Owner     string `json:"owner"`
	Next      string `json:"next"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

// AccountInfo is the ledger snapshot for one account
type AccountInfo struct {
	Address         string `json:"address"`
	Balance         int64  `json:"balance"`         // margin asset, cents
	CommittedMargin int64  `json:"committedMargin"` // reserved for pending orders
	FreeMargin      int64  `json:"freeMargin"`      // balance - committed
	NativeBalance   int64  `json:"nativeBalance"`   // keeper-fee budget, cents
}

// ConditionalOrderInfo is one pending conditional order
type ConditionalOrderInfo struct {
	ID               uint64 `json:"id"`
	Market           string `json:"market"`
	MarginDelta      int64  `json:"marginDelta"`
	SizeDelta        int64  `json:"sizeDelta"`
	TargetPrice      int64  `json:"targetPrice"`
	OrderType        string `json:"orderType"` // "limit" or "stop"
	DesiredFillPrice int64  `json:"desiredFillPrice"`
	ReduceOnly       bool   `json:"reduceOnly"`
}

// PositionInfo is the venue-side position projection for one market
type PositionInfo struct {
	Market           string `json:"market"`
	Size             int64  `json:"size"` // +ve = long, -ve = short
	Margin           int64  `json:"margin"`
	LastPrice        int64  `json:"lastPrice"`
	LastFundingIndex int64  `json:"lastFundingIndex"`
}

// CheckerResponse is the automation eligibility probe result
type CheckerResponse struct {
	Eligible bool            `json:"eligible"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// SubmitResponse acknowledges an accepted batch or trigger
type SubmitResponse struct {
	Status  string `json:"status"` // "committed"
	OrderID uint64 `json:"orderId,omitempty"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage wraps every event pushed to WebSocket clients
type WSMessage struct {
	Type      string `json:"type"`  // event name, e.g. "order_filled"
	Owner     string `json:"owner"` // account the event belongs to
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
}

// WSSubscribeRequest is sent by clients to manage channel subscriptions,
// e.g. ["account:0x..."]
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

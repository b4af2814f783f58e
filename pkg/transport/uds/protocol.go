package uds

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/modoterra/procwatch/pkg/core"
)

var reqCounter atomic.Uint64

// MsgType identifies the kind of message.
type MsgType string

const (
	MsgTypeReq MsgType = "req"
	MsgTypeRes MsgType = "res"
	MsgTypeEvt MsgType = "evt"
)

// Message is the NDJSON envelope for all communication.
type Message struct {
	Type   MsgType         `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// UnmarshalData decodes the message payload into v.
func (m Message) UnmarshalData(v any) error {
	if len(m.Data) == 0 {
		return errors.New("message has no data")
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s data: %w", m.Method, err)
	}
	return nil
}

func newMessage(typ MsgType, id, method string, data any) (Message, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Message{}, fmt.Errorf("encode %s: %w", method, err)
		}
		raw = b
	}
	return Message{Type: typ, ID: id, Method: method, Data: raw}, nil
}

// NewRequest creates a new request message with a unique ID.
func NewRequest(method string, data any) (Message, error) {
	return newMessage(MsgTypeReq, fmt.Sprintf("req-%d", reqCounter.Add(1)), method, data)
}

// NewResponse creates a response to a request.
func NewResponse(reqID, method string, data any) (Message, error) {
	return newMessage(MsgTypeRes, reqID, method, data)
}

// NewErrorResponse creates an error response.
func NewErrorResponse(reqID, method, errMsg string) Message {
	return Message{
		Type:   MsgTypeRes,
		ID:     reqID,
		Method: method,
		Error:  errMsg,
	}
}

// NewEvent creates a server-pushed event.
func NewEvent(method string, data any) (Message, error) {
	return newMessage(MsgTypeEvt, fmt.Sprintf("evt-%d", reqCounter.Add(1)), method, data)
}

// Methods
const (
	MethodPing           = "Ping"
	MethodStart          = "Start"
	MethodStop           = "Stop"
	MethodStopAll        = "StopAll"
	MethodSetLevelFilter = "SetLevelFilter"
	MethodStatus         = "Status"
	MethodRecentLogs     = "RecentLogs"

	// EventStatusDelta is pushed by the daemon's poll loop. Monitor events
	// are pushed with their core.EventKind as the method.
	EventStatusDelta = "status.delta"
)

// PingResponse is the response to a Ping request.
type PingResponse struct {
	Pong    bool   `json:"pong"`
	Version string `json:"version,omitempty"`
}

// StartRequest is the payload for a Start request.
type StartRequest struct {
	Name    string            `json:"name,omitempty"`
	Command string            `json:"command"`
	Dir     string            `json:"dir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Format  string            `json:"format,omitempty"`
	Levels  []string          `json:"levels,omitempty"`
}

// StartResponse carries the id of the started process.
type StartResponse struct {
	ID string `json:"id"`
}

// ProcessRequest addresses a single process, as in Stop.
type ProcessRequest struct {
	ID string `json:"id"`
}

// SetLevelFilterRequest replaces a process's level filter. An empty
// Levels clears it.
type SetLevelFilterRequest struct {
	ID     string   `json:"id"`
	Levels []string `json:"levels,omitempty"`
}

// RecentLogsRequest asks for the newest Count entries of a process.
type RecentLogsRequest struct {
	ID    string `json:"id"`
	Count int    `json:"count,omitempty"`
}

// RecentLogsResponse is the response to a RecentLogs request.
type RecentLogsResponse struct {
	Entries []core.LogEntry `json:"entries"`
}

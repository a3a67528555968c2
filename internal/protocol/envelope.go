// Package protocol defines the envelopes exchanged between the coordinator
// and the page scripts, their responses, and the shared error taxonomy.
package protocol

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Actions routed by the coordinator.
const (
	ActionSendTranslation       = "sendTranslation"
	ActionTranslationError      = "translationError"
	ActionPostToTruyencity      = "postToTruyencity"
	ActionOpenTruyencityAndPost = "openTruyencityAndPost"
	ActionOpenTruyencityTab     = "openTruyencityTab"
	ActionPostComplete          = "truyencityPostComplete"
	ActionOpenAssistant         = "openAssistant"
	ActionRelay                 = "relay"
)

// Actions and types delivered to page scripts.
const (
	ActionPostChapter       = "postChapter"
	ActionPostCompleted     = "postCompleted"
	TypeTranslationComplete = "TRANSLATION_COMPLETE"
	TypeTranslationError    = "TRANSLATION_ERROR"
)

// PostData is a chapter ready for publishing.
type PostData struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Envelope is one cross-context message. Field names follow the wire names
// used by the page scripts; only the fields relevant to an action are set.
type Envelope struct {
	ID          string    `json:"messageId,omitempty"`
	Action      string    `json:"action,omitempty"`
	Type        string    `json:"type,omitempty"`
	Translation string    `json:"translation,omitempty"`
	IsChunked   bool      `json:"isChunked,omitempty"`
	ChunkIndex  *int      `json:"chunkIndex,omitempty"`
	TotalChunks *int      `json:"totalChunks,omitempty"`
	IsComplete  bool      `json:"isComplete,omitempty"`
	Error       string    `json:"error,omitempty"`
	URL         string    `json:"url,omitempty"`
	Title       string    `json:"title,omitempty"`
	Content     string    `json:"content,omitempty"`
	Data        *PostData `json:"data,omitempty"`
	Success     *bool     `json:"success,omitempty"`
	SourceTabID string    `json:"sourceTabId,omitempty"`
	Role        string    `json:"role,omitempty"`
	Inner       *Envelope `json:"inner,omitempty"`
}

// New returns an envelope for action with a fresh message id.
func New(action string) Envelope {
	return Envelope{ID: uuid.NewString(), Action: action}
}

// Kind is the routing tag: the action, or the type for page-bound messages.
func (e Envelope) Kind() string {
	if e.Action != "" {
		return e.Action
	}
	return e.Type
}

// Chunk returns a copy of e carrying part index of total.
func (e Envelope) Chunk(index, total int, data string) Envelope {
	e.ID = uuid.NewString()
	e.IsChunked = true
	e.IsComplete = false
	e.Translation = data
	e.ChunkIndex = &index
	e.TotalChunks = &total
	return e
}

// Completion returns the final envelope of a chunked sequence of total parts.
func (e Envelope) Completion(total int) Envelope {
	e.ID = uuid.NewString()
	e.IsChunked = true
	e.IsComplete = true
	e.Translation = ""
	e.ChunkIndex = nil
	e.TotalChunks = &total
	return e
}

// Response answers an envelope. Success is always explicit on the wire.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Detail  string          `json:"detail,omitempty"`
	TabID   string          `json:"tabId,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// OK is a bare success response.
func OK() Response { return Response{Success: true} }

// Fail converts err into a failure response whose Error field is the code.
func Fail(err error) Response {
	if err == nil {
		return Response{Success: false, Error: string(CodeUnknown)}
	}
	return Response{Success: false, Error: string(CodeOf(err)), Detail: err.Error()}
}

// Err returns nil for a success response and a coded error otherwise.
func (r Response) Err() error {
	if r.Success {
		return nil
	}
	code := Code(r.Error)
	if code == "" {
		code = CodeUnknown
	}
	msg := strings.TrimPrefix(r.Detail, string(code)+": ")
	if msg == "" {
		msg = "unknown error"
	}
	return &Error{Code: code, Msg: msg}
}

// UnmarshalJSON rejects responses without an explicit success flag.
func (r *Response) UnmarshalJSON(data []byte) error {
	type wire struct {
		Success *bool           `json:"success"`
		Error   string          `json:"error"`
		Detail  string          `json:"detail"`
		TabID   string          `json:"tabId"`
		Data    json.RawMessage `json:"data"`
	}
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return Wrap(CodeMalformedResponse, err)
	}
	if w.Success == nil {
		return Errorf(CodeMalformedResponse, "response missing success flag")
	}
	*r = Response{Success: *w.Success, Error: w.Error, Detail: w.Detail, TabID: w.TabID, Data: w.Data}
	return nil
}

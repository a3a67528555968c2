package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/golden-h/novelrelay/internal/channel"
	"github.com/golden-h/novelrelay/internal/protocol"
	"github.com/golden-h/novelrelay/internal/web"
)

// HandleMessage feeds one envelope to the coordinator. The sending tab, if
// any, comes from the X-Relay-Sender header. The reply is always a
// protocol.Response.
func (h *Handlers) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var env protocol.Envelope
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&env); err != nil {
		web.JSON(w, 400, protocol.Fail(protocol.Errorf(protocol.CodeEmptyOrInvalidPayload, "decode envelope: %w", err)))
		return
	}
	if env.Kind() == "" {
		web.JSON(w, 400, protocol.Fail(protocol.Errorf(protocol.CodeEmptyOrInvalidPayload, "envelope has no action or type")))
		return
	}

	resp := h.Relay.Handle(r.Context(), r.Header.Get(channel.SenderHeader), env)
	recordEnvelope(resp.Success)
	web.JSON(w, 200, resp)
}

// HandleCommand runs op on a reading tab. The tab is taken from the JSON
// body or the tabId query parameter; without one the current reading tab
// is used.
func (h *Handlers) HandleCommand(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TabID string `json:"tabId"`
		}
		if r.ContentLength != 0 {
			err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req)
			if err != nil && !errors.Is(err, io.EOF) {
				web.ErrorCode(w, 400, string(protocol.CodeEmptyOrInvalidPayload), "decode: "+err.Error(), false, nil)
				return
			}
		}
		if req.TabID == "" {
			req.TabID = r.URL.Query().Get("tabId")
		}

		tabID, err := h.Relay.Command(r.Context(), req.TabID, op)
		if err != nil {
			writeRelayError(w, err, tabID)
			return
		}
		web.JSON(w, 200, map[string]any{"status": "ok", "op": op, "tabId": tabID})
	}
}

func statusFor(code protocol.Code) int {
	switch code {
	case protocol.CodeNoTargetTab, protocol.CodeNotFound, protocol.CodeContentNotFound:
		return 404
	case protocol.CodeEmptyOrInvalidPayload, protocol.CodeInvalidChunkState, protocol.CodeOutOfRange:
		return 400
	case protocol.CodeTimeout:
		return 504
	case protocol.CodeStorageUnavailable:
		return 503
	}
	return 500
}

func writeRelayError(w http.ResponseWriter, err error, tabID string) {
	code := protocol.CodeOf(err)
	var details map[string]any
	if tabID != "" {
		details = map[string]any{"tabId": tabID}
	}
	web.ErrorCode(w, statusFor(code), string(code), err.Error(), code == protocol.CodeTimeout, details)
}

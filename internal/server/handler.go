package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/flare-profiler/flare/internal/flarerr"
	"github.com/flare-profiler/flare/internal/profiler"
	"github.com/flare-profiler/flare/internal/session"
)

// writeWait bounds a single frame write.
const writeWait = 10 * time.Second

// Request is one decoded protocol command.
type Request struct {
	Cmd     string         `json:"cmd"`
	Options map[string]any `json:"options"`
}

// Response is the protocol envelope. Every reply, success or error, uses it.
type Response struct {
	Result string `json:"result"`
	Cmd    string `json:"cmd"`
	Data   any    `json:"data"`
}

const (
	resultSuccess = "success"
	resultError   = "error"
)

// connHandler runs the frame loop for one accepted connection. A failure in
// a command handler answers with an error envelope and keeps the connection
// open; transport failures terminate only this connection.
type connHandler struct {
	conn   *websocket.Conn
	coord  *profiler.Coordinator
	logger zerolog.Logger

	// writeMu keeps each JSON message complete and non-interleaved.
	writeMu sync.Mutex
}

func newConnHandler(conn *websocket.Conn, coord *profiler.Coordinator, logger zerolog.Logger) *connHandler {
	return &connHandler{conn: conn, coord: coord, logger: logger}
}

// run reads frames until the peer disconnects or a transport error occurs.
func (h *connHandler) run() {
	defer func() { h.logger.Info().Msg("Connection closed") }()
	defer flarerr.DeferClose(h.logger, h.conn, "websocket connection")

	h.conn.SetPingHandler(func(payload string) error {
		return h.conn.WriteControl(websocket.PongMessage, []byte(payload), time.Now().Add(writeWait))
	})
	h.conn.SetCloseHandler(func(code int, _ string) error {
		msg := websocket.FormatCloseMessage(code, "")
		_ = h.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		return nil
	})

	for {
		msgType, data, err := h.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn().Err(err).Msg("Connection dropped")
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			if err := h.handleText(data); err != nil {
				h.logger.Warn().Err(err).Msg("Terminating connection")
				return
			}
		default:
			// Non-text data frames are echoed back verbatim.
			h.writeMu.Lock()
			err := h.conn.WriteMessage(msgType, data)
			h.writeMu.Unlock()
			if err != nil {
				h.logger.Warn().Err(err).Msg("Terminating connection")
				return
			}
		}
	}
}

// handleText decodes one Request and dispatches it. The returned error is
// fatal to the connection; command failures are answered in-band.
func (h *connHandler) handleText(data []byte) error {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return flarerr.Transport(err, "malformed request")
	}
	if req.Cmd == "" {
		return h.writeError("", "missing attribute 'cmd'")
	}

	payload, handled, err := h.dispatch(req)
	if err != nil {
		h.logger.Warn().
			Err(err).
			Str("cmd", req.Cmd).
			Str("kind", flarerr.KindOf(err).String()).
			Msg("Request failed")
		return h.writeError(req.Cmd, err.Error())
	}
	if !handled {
		h.logger.Warn().Str("cmd", req.Cmd).Msg("Unknown cmd")
		return nil
	}
	return h.writeSuccess(req.Cmd, payload)
}

// dispatch routes a request by cmd. handled is false for unrecognized
// commands, which produce no response.
func (h *connHandler) dispatch(req Request) (payload any, handled bool, err error) {
	opts := req.Options

	switch req.Cmd {
	case "list_sessions":
		return map[string]any{"sample_sessions": h.coord.ListSessions()}, true, nil

	case "history_samples":
		entries, err := h.coord.HistorySamples()
		if err != nil {
			return nil, true, err
		}
		return map[string]any{"history_samples": entries}, true, nil

	case "open_sample":
		s, err := h.coord.OpenSample(optString(opts, "sample_data_dir"))
		if err != nil {
			return nil, true, err
		}
		return map[string]any{"session_id": s.ID(), "type": session.TypeFile}, true, nil

	case "connect_agent":
		s, err := h.coord.ConnectAgent(optString(opts, "agent_addr"))
		if err != nil {
			return nil, true, err
		}
		return map[string]any{"session_id": s.ID(), "type": session.TypeLive}, true, nil

	case "attach_jvm":
		pid, _ := optInt64(opts, "target_pid")
		interval, ok := optInt64(opts, "sample_interval_ms")
		if !ok {
			interval = 0 // coordinator applies the configured default
		}
		duration, ok := optInt64(opts, "sample_duration_sec")
		if !ok {
			duration = -1 // coordinator applies the configured default
		}
		attach, err := h.coord.AttachJVM(int32(pid), interval, duration)
		if err != nil {
			return nil, true, err
		}
		return attach, true, nil

	case "dashboard":
		sid := optString(opts, "session_id")
		if sid == "" {
			return nil, true, flarerr.MissingOption("session_id")
		}
		dash, err := h.coord.Dashboard(sid)
		if err != nil {
			return nil, true, err
		}
		return dash, true, nil

	case "sample_info":
		sid := optString(opts, "session_id")
		if sid == "" {
			return nil, true, flarerr.MissingOption("session_id")
		}
		info, err := h.coord.SampleInfo(sid)
		if err != nil {
			return nil, true, err
		}
		return info, true, nil

	case "sample_range":
		sid := optString(opts, "session_id")
		if sid == "" {
			return nil, true, flarerr.MissingOption("session_id")
		}
		start, ok := optInt64(opts, "start_time")
		if !ok {
			return nil, true, flarerr.MissingOption("start_time")
		}
		end, ok := optInt64(opts, "end_time")
		if !ok {
			return nil, true, flarerr.MissingOption("end_time")
		}
		unit, _ := optInt64(opts, "unit_time")
		res, err := h.coord.RangeValue(sid, optString(opts, "metric"), start, end, unit)
		if err != nil {
			return nil, true, err
		}
		return res, true, nil

	default:
		return nil, false, nil
	}
}

func (h *connHandler) writeSuccess(cmd string, data any) error {
	return h.write(Response{Result: resultSuccess, Cmd: cmd, Data: data})
}

func (h *connHandler) writeError(cmd, msg string) error {
	return h.write(Response{Result: resultError, Cmd: cmd, Data: msg})
}

func (h *connHandler) write(resp Response) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if err := h.conn.WriteJSON(resp); err != nil {
		return flarerr.Transport(err, "cannot write response")
	}
	return nil
}

// optString fetches a string option; absent or non-string values yield "".
func optString(opts map[string]any, name string) string {
	s, _ := opts[name].(string)
	return s
}

// optInt64 fetches a numeric option. JSON numbers decode as float64.
func optInt64(opts map[string]any, name string) (int64, bool) {
	switch v := opts[name].(type) {
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/checkmate/internal/gateway"
	"github.com/user/checkmate/internal/resilience"
	"github.com/user/checkmate/internal/session"
	"github.com/user/checkmate/internal/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin policy is enforced by the HTTP layer's CORS middleware
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades per-session WebSocket connections and dispatches their
// inbound messages.
type Handler struct {
	manager  *Manager
	sessions *session.Manager
	gw       *gateway.Gateway
	logger   *slog.Logger
}

func NewHandler(manager *Manager, sessions *session.Manager, gw *gateway.Gateway, logger *slog.Logger) *Handler {
	return &Handler{
		manager:  manager,
		sessions: sessions,
		gw:       gw,
		logger:   logger,
	}
}

// Serve upgrades the request and runs the connection's read loop until the
// client disconnects or the session is torn down.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, sessionID types.SessionID) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}

	h.manager.Register(sessionID, conn)
	defer h.manager.Unregister(sessionID, conn)
	defer conn.Close()

	for {
		var msg types.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("websocket read failed", "session_id", sessionID, "error", err)
			}
			return
		}
		h.dispatch(r.Context(), sessionID, &msg)
	}
}

func (h *Handler) dispatch(ctx context.Context, sessionID types.SessionID, msg *types.WSMessage) {
	switch msg.Type {
	case types.MsgPing:
		h.manager.Send(sessionID, types.NewWSMessage(types.MsgPong, nil))

	case types.MsgHeartbeat:
		h.manager.Touch(sessionID)
		h.manager.Send(sessionID, types.NewWSMessage(types.MsgHeartbeatAck, types.HeartbeatAck{
			Status:          "ok",
			ConnectionCount: h.manager.Count(),
		}))

	case types.MsgFrameBundle:
		h.handleFrame(sessionID, msg.Data)

	case types.MsgSessionStart:
		h.handleSessionStart(ctx, sessionID, msg.Data)

	case types.MsgSessionStop:
		h.endSession(ctx, sessionID, session.EndManual)

	case types.MsgSessionStatus:
		status, err := h.sessions.Status(ctx, sessionID)
		if err != nil {
			h.sendError(sessionID, "", err)
			return
		}
		h.manager.Send(sessionID, types.NewWSMessage(types.MsgStatus, status))

	default:
		h.sendError(sessionID, "", resilience.NewError(resilience.KindValidation,
			"ws:dispatch", "unknown message type: "+string(msg.Type), nil))
	}
}

func (h *Handler) handleFrame(sessionID types.SessionID, data json.RawMessage) {
	var frame types.FrameBundle
	if err := json.Unmarshal(data, &frame); err != nil {
		h.sendError(sessionID, "", resilience.NewError(resilience.KindValidation,
			"ws:frame", "malformed frame bundle", err))
		return
	}
	// The socket's path binds the session; the payload may not speak for
	// another one.
	frame.SessionID = sessionID
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now().UTC()
	}

	job := gateway.NewJob(&frame)
	correlationID := job.ID
	job.OnResult = func(result *types.FrameResult) {
		for _, n := range result.Notifications {
			if !n.ShouldNotify {
				continue
			}
			h.manager.Send(sessionID, types.NewWSMessage(types.MsgNotification, n))
		}
		if result.EndSession {
			policy := types.PolicyManual
			if result.UpdatedMemory != nil {
				policy = result.UpdatedMemory.Settings.SessionType.Type
			}
			h.endSession(context.Background(), sessionID, reasonFor(policy))
		}
	}
	job.OnError = func(err error) {
		h.sendError(sessionID, correlationID, err)
	}

	if err := h.gw.Queue.Enqueue(job); err != nil {
		h.sendError(sessionID, correlationID, resilience.NewError(resilience.KindUnavailable,
			"ws:frame", "session queue full", err))
	}
}

func (h *Handler) handleSessionStart(ctx context.Context, sessionID types.SessionID, data json.RawMessage) {
	if _, err := h.sessions.Memory(ctx, sessionID); err == nil {
		// Already started: answer with status
		status, statusErr := h.sessions.Status(ctx, sessionID)
		if statusErr != nil {
			h.sendError(sessionID, "", statusErr)
			return
		}
		h.manager.Send(sessionID, types.NewWSMessage(types.MsgStatus, status))
		return
	}

	var settings types.SessionSettings
	if len(data) > 0 {
		if err := json.Unmarshal(data, &settings); err != nil {
			h.sendError(sessionID, "", resilience.NewError(resilience.KindValidation,
				"ws:session_start", "malformed session settings", err))
			return
		}
	}
	if err := h.sessions.StartWith(ctx, sessionID, settings); err != nil {
		h.sendError(sessionID, "", err)
		return
	}
	status, err := h.sessions.Status(ctx, sessionID)
	if err != nil {
		h.sendError(sessionID, "", err)
		return
	}
	h.manager.Send(sessionID, types.NewWSMessage(types.MsgStatus, status))
}

func (h *Handler) endSession(ctx context.Context, sessionID types.SessionID, reason session.EndReason) {
	h.manager.Send(sessionID, types.NewWSMessage(types.MsgSessionEnd, types.SessionEndPayload{
		Reason: string(reason),
	}))
	if err := h.sessions.Stop(ctx, sessionID, reason); err != nil {
		h.logger.Warn("stop session", "session_id", sessionID, "error", err)
	}
	h.gw.SessionEnded(sessionID)
}

// sendError emits an error frame. Critical errors tear the session down
// server-side.
func (h *Handler) sendError(sessionID types.SessionID, correlationID types.CorrelationID, err error) {
	payload := types.ErrorPayload{
		ErrorType:     string(resilience.Classify(err)),
		Severity:      string(resilience.SeverityMedium),
		Message:       err.Error(),
		CorrelationID: correlationID,
	}
	var re *resilience.Error
	if errors.As(err, &re) {
		payload.Severity = string(re.Severity)
		payload.Message = re.Message
		if re.RetryAfter > 0 {
			payload.RetryAfterSec = int(re.RetryAfter / time.Second)
		}
	}
	h.manager.Send(sessionID, types.NewWSMessage(types.MsgError, payload))

	if payload.Severity == string(resilience.SeverityCritical) {
		h.logger.Error("critical failure, ending session", "session_id", sessionID, "error", err)
		h.endSession(context.Background(), sessionID, session.EndReason("error"))
		h.manager.Disconnect(sessionID)
	}
}

func reasonFor(policy types.SessionPolicy) session.EndReason {
	switch policy {
	case types.PolicyTime:
		return session.EndTimeBudget
	case types.PolicyActivity:
		return session.EndInactivity
	}
	return session.EndManual
}

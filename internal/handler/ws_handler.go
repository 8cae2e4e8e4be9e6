package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/provalivre/exam-engine/internal/middleware"
	"github.com/provalivre/exam-engine/internal/model"
	"github.com/provalivre/exam-engine/internal/response"
	"github.com/provalivre/exam-engine/internal/service"
	ws "github.com/provalivre/exam-engine/internal/websocket"
	"github.com/rs/zerolog"
)

const wsActionTimeout = 10 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a running attempt: autosave, submit and status checks
// over one connection.
type WSHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attemptService *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/student/attempts/:attempt_id/stream?token=...
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	// Ownership is checked before the upgrade so failures get a normal HTTP error.
	view, err := h.attemptService.AttemptView(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if view.Status != model.StatusInitialized {
		response.Fail(c, http.StatusConflict, response.ErrAttemptNotActive)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("student_id", claims.UserID).
		Str("attempt_id", attemptID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionAutosave:
			h.handleAutosave(conn, wsLog, attemptID, claims.UserID, &msg)
		case ws.ActionSubmit:
			if h.handleSubmit(conn, wsLog, attemptID, claims.UserID, &msg) {
				_ = ws.Close(conn, websocket.CloseNormalClosure, "submitted")
				return
			}
		case ws.ActionState:
			h.handleState(conn, wsLog, attemptID, claims.UserID)
		case ws.ActionPing:
			_ = ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			_ = ws.WriteError(conn, string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
		}
	}
}

func (h *WSHandler) writeServiceError(conn *websocket.Conn, wsLog zerolog.Logger, err error) {
	code := errorCode(err)
	if code == response.ErrInternal {
		wsLog.Error().Err(err).Msg("Attempt stream action failed")
	}
	_ = ws.WriteError(conn, string(code), response.GetMessage(code))
}

func (h *WSHandler) handleAutosave(conn *websocket.Conn, wsLog zerolog.Logger, attemptID uuid.UUID, studentID int, msg *ws.RequestPayload) {
	if msg.QuestionID <= 0 {
		_ = ws.WriteError(conn, string(response.ErrValidation), "question_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsActionTimeout)
	defer cancel()

	answer := model.Answer{QuestionID: msg.QuestionID, OptionIDs: msg.OptionIDs, Text: msg.Text}
	if err := h.attemptService.SaveAnswer(ctx, attemptID, studentID, answer); err != nil {
		h.writeServiceError(conn, wsLog, err)
		return
	}
	_ = ws.WriteTyped(conn, ws.SavedResponse{Event: ws.EventSaved, QuestionID: msg.QuestionID})
}

// handleSubmit reports whether the attempt was handed in.
func (h *WSHandler) handleSubmit(conn *websocket.Conn, wsLog zerolog.Logger, attemptID uuid.UUID, studentID int, msg *ws.RequestPayload) bool {
	ctx, cancel := context.WithTimeout(context.Background(), wsActionTimeout)
	defer cancel()

	result, err := h.attemptService.SubmitAttempt(ctx, attemptID, studentID, msg.Answers)
	if err != nil {
		h.writeServiceError(conn, wsLog, err)
		return false
	}

	wsLog.Info().
		Str("status", string(result.Status)).
		Int("answered", result.AnsweredCount).
		Msg("Attempt submitted over stream")
	_ = ws.WriteTyped(conn, ws.SubmittedResponse{Event: ws.EventSubmitted, Submission: result})
	return true
}

func (h *WSHandler) handleState(conn *websocket.Conn, wsLog zerolog.Logger, attemptID uuid.UUID, studentID int) {
	ctx, cancel := context.WithTimeout(context.Background(), wsActionTimeout)
	defer cancel()

	view, err := h.attemptService.AttemptView(ctx, attemptID, studentID)
	if err != nil {
		h.writeServiceError(conn, wsLog, err)
		return
	}

	state := ws.StateResponse{Event: ws.EventState, Status: view.Status, Deadline: view.Deadline}
	if view.Deadline != nil {
		remaining := int64(time.Until(*view.Deadline).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		state.RemainingSeconds = &remaining
	}
	_ = ws.WriteTyped(conn, state)
}

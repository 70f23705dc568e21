package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/calchat/internal/calendar"
	"github.com/ent0n29/calchat/internal/config"
	"github.com/ent0n29/calchat/internal/dialogue"
	"github.com/ent0n29/calchat/internal/observability"
	"github.com/ent0n29/calchat/internal/protocol"
	"github.com/ent0n29/calchat/internal/session"
	"github.com/ent0n29/calchat/internal/transcript"
)

// fallbackUserHeader identifies the caller when no authenticated user is set.
const fallbackUserHeader = "X-User-Id"

// ChatEngine runs dialogue turns for a session key.
type ChatEngine interface {
	Handle(ctx context.Context, key, utterance string) (dialogue.Response, error)
	History(ctx context.Context, key string) ([]transcript.ChatTurn, error)
	ClearHistory(ctx context.Context, key string) error
}

type Server struct {
	cfg      config.Config
	engine   ChatEngine
	calendar calendar.Service
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
	now      func() time.Time
}

func New(cfg config.Config, engine ChatEngine, cal calendar.Service, metrics *observability.Metrics) *Server {
	if strings.TrimSpace(cfg.AuthUserHeader) == "" {
		cfg.AuthUserHeader = "X-Authenticated-User"
	}
	if cfg.ExternalCallTimeout <= 0 {
		cfg.ExternalCallTimeout = 20 * time.Second
	}
	return &Server{
		cfg:      cfg,
		engine:   engine,
		calendar: cal,
		metrics:  metrics,
		now:      time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browser connections must come from the same origin unless
				// APP_ALLOW_ANY_ORIGIN is set.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/calls", s.handlePerfCalls)

	r.Group(func(r chi.Router) {
		r.Use(s.withSessionKey)
		r.Post("/v1/chat", s.handleChat)
		r.Get("/v1/chat/history", s.handleHistory)
		r.Delete("/v1/chat/history", s.handleClearHistory)
		r.Get("/v1/chat/ws", s.handleChatWS)
	})

	r.Get("/v1/calendar/events.ics", s.handleExportICS)
	r.Post("/v1/calendar/events.ics", s.handleImportICS)
	r.Get("/v1/calendar/events/{id}", s.handleGetEvent)

	return r
}

type sessionKeyCtx struct{}

// withSessionKey resolves the caller: the trusted authenticated-user header,
// then the fallback header (or user_id query parameter for websockets), then
// the shared default session.
func (s *Server) withSessionKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(s.cfg.AuthUserHeader))
		if key == "" {
			key = strings.TrimSpace(r.Header.Get(fallbackUserHeader))
		}
		if key == "" {
			key = strings.TrimSpace(r.URL.Query().Get("user_id"))
		}
		if key == "" {
			key = dialogue.DefaultSessionKey
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKeyCtx{}, key)))
	})
}

func sessionKeyFrom(ctx context.Context) string {
	if key, ok := ctx.Value(sessionKeyCtx{}).(string); ok && key != "" {
		return key
	}
	return dialogue.DefaultSessionKey
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"calendar_store": s.cfg.CalendarStore,
		"parser_mode":    s.cfg.SemanticParserMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ExternalCallTimeout)
	defer cancel()
	if _, err := s.calendar.List(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "calendar_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ready",
		"calendar_store": s.cfg.CalendarStore,
	})
}

func (s *Server) handlePerfCalls(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.CallSnapshot())
}

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}

	resp, err := s.engine.Handle(r.Context(), sessionKeyFrom(r.Context()), req.Message)
	if err != nil {
		status, code := engineErrorStatus(err)
		respondError(w, status, code, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	turns, err := s.engine.History(r.Context(), sessionKeyFrom(r.Context()))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "history_unavailable", err.Error())
		return
	}
	if turns == nil {
		turns = []transcript.ChatTurn{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"turns": turns})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ClearHistory(r.Context(), sessionKeyFrom(r.Context())); err != nil {
		respondError(w, http.StatusInternalServerError, "history_unavailable", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	key := sessionKeyFrom(r.Context())
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.SessionEvent("ws_connected")
	defer s.metrics.SessionEvent("ws_disconnected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	write := func(msg any, msgType protocol.MessageType) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("ws write failed session=%s: %v", key, err)
			return false
		}
		s.metrics.ObserveWSMessage("outbound", string(msgType))
		return true
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))

		msg, err := protocol.ParseClientMessage(data)
		if err != nil {
			if !write(protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			}, protocol.TypeErrorEvent) {
				return
			}
			continue
		}
		s.metrics.ObserveWSMessage("inbound", string(msg.Type))

		resp, err := s.engine.Handle(ctx, key, msg.Message)
		if err != nil {
			_, code := engineErrorStatus(err)
			if !write(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				RequestID: msg.RequestID,
				Code:      code,
				Retryable: !errors.Is(err, session.ErrClosed),
				Detail:    err.Error(),
			}, protocol.TypeErrorEvent) {
				return
			}
			continue
		}
		if !write(protocol.ChatResponse{
			Type:       protocol.TypeChatResponse,
			RequestID:  msg.RequestID,
			Message:    resp.Message,
			ActionType: string(resp.Type),
			Link:       resp.Link,
			State:      resp.State,
		}, protocol.TypeChatResponse) {
			return
		}
	}
}

func (s *Server) handleExportICS(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ExternalCallTimeout)
	defer cancel()
	events, err := s.calendar.List(ctx)
	if err != nil {
		respondError(w, http.StatusBadGateway, "calendar_unavailable", err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calchat.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(calendar.ExportICS(events, s.now())))
}

func (s *Server) handleImportICS(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	events, err := calendar.ImportICS(http.MaxBytesReader(w, r.Body, 4<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_ics", err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ExternalCallTimeout)
	defer cancel()
	imported := 0
	for _, ev := range events {
		if _, err := s.calendar.Insert(ctx, ev); err != nil {
			respondError(w, http.StatusBadGateway, "calendar_unavailable",
				fmt.Sprintf("imported %d of %d events: %v", imported, len(events), err))
			return
		}
		imported++
	}
	respondJSON(w, http.StatusCreated, map[string]any{"imported": imported})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_event_id", "missing event id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ExternalCallTimeout)
	defer cancel()
	ev, err := s.calendar.Get(ctx, id)
	if errors.Is(err, calendar.ErrNotFound) {
		respondError(w, http.StatusNotFound, "event_not_found", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusBadGateway, "calendar_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, ev)
}

func engineErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable, "shutting_down"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "session_busy"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/merchantdesk/chatsync/internal/chat"
	"github.com/merchantdesk/chatsync/internal/conn"
	"github.com/merchantdesk/chatsync/internal/engine"
	"github.com/merchantdesk/chatsync/internal/rest"
	"github.com/merchantdesk/chatsync/internal/session"
	"github.com/merchantdesk/chatsync/internal/wire"
)

// Server serves the control API over the session's Unix domain socket.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// StatusResponse is the GET /v1/status payload.
type StatusResponse struct {
	Session          string `json:"session"`
	ConnectionState  string `json:"connection_state"`
	OpenConversation int64  `json:"open_conversation,omitempty"`
	LogState         string `json:"log_state"`
	OnlineCount      int    `json:"online_count"`
}

// ConversationResponse is one row of GET /v1/conversations.
type ConversationResponse struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	LastMessage   string `json:"last_message"`
	LastMessageAt string `json:"last_message_at,omitempty"`
	MessageCount  int    `json:"message_count"`
	UnreadCount   int    `json:"unread_count"`
}

// MessageResponse is one entry of GET /v1/conversations/{id}/messages.
type MessageResponse struct {
	ID             int64               `json:"id"`
	ConversationID int64               `json:"conversation_id"`
	Body           string              `json:"body"`
	SenderName     string              `json:"sender_name,omitempty"`
	SenderEmail    string              `json:"sender_email,omitempty"`
	FromMe         bool                `json:"from_me"`
	Pending        bool                `json:"pending"`
	Timestamp      string              `json:"timestamp,omitempty"`
	Attachment     *AttachmentResponse `json:"attachment,omitempty"`
}

// AttachmentResponse carries attachment metadata, never bytes.
type AttachmentResponse struct {
	FileURL  string `json:"file_url"`
	Filename string `json:"file_name"`
	MimeType string `json:"mime_type"`
}

type sendRequest struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewServer creates the control server bound to the session's socket.
func NewServer(p Params, eng *engine.Engine, machine *conn.Machine, restc *rest.Client, logger *zap.Logger) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = session.SocketPath(p.SessionName)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	s := &Server{
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}
	s.httpServer = &http.Server{Handler: s.router(p.SessionName, eng, machine, restc)}
	return s, nil
}

func (s *Server) router(sessionName string, eng *engine.Engine, machine *conn.Machine, restc *rest.Client) http.Handler {
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, StatusResponse{
				Session:          sessionName,
				ConnectionState:  string(machine.Current()),
				OpenConversation: eng.OpenID(),
				LogState:         string(eng.LogState()),
				OnlineCount:      len(eng.Presence()),
			})
		})

		r.Get("/conversations", func(w http.ResponseWriter, req *http.Request) {
			rows := eng.Conversations(req.URL.Query().Get("filter"))
			out := make([]ConversationResponse, 0, len(rows))
			for _, c := range rows {
				out = append(out, toConversationResponse(c))
			}
			writeJSON(w, http.StatusOK, out)
		})

		r.Get("/conversations/{id}/messages", func(w http.ResponseWriter, req *http.Request) {
			id, err := pathID(req)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
				return
			}
			if eng.OpenID() != id {
				writeJSON(w, http.StatusConflict, errorResponse{
					Error: fmt.Sprintf("conversation %d is not open", id),
				})
				return
			}
			msgs := eng.Messages()
			out := make([]MessageResponse, 0, len(msgs))
			for _, m := range msgs {
				out = append(out, toMessageResponse(m))
			}
			writeJSON(w, http.StatusOK, out)
		})

		r.Post("/conversations/{id}/open", func(w http.ResponseWriter, req *http.Request) {
			id, err := pathID(req)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
				return
			}
			if err := eng.OpenConversation(req.Context(), id); err != nil {
				writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, map[string]int64{"open_conversation": id})
		})

		r.Post("/conversations/{id}/messages", func(w http.ResponseWriter, req *http.Request) {
			id, err := pathID(req)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
				return
			}
			var body sendRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Message == "" {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "message is required"})
				return
			}
			if eng.OpenID() != id {
				writeJSON(w, http.StatusConflict, errorResponse{
					Error: fmt.Sprintf("conversation %d is not open", id),
				})
				return
			}
			msg, err := eng.Send(req.Context(), body.Message)
			if err != nil {
				writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
				return
			}
			writeJSON(w, http.StatusCreated, toMessageResponse(msg))
		})

		r.Get("/presence", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string][]string{"online": eng.Presence()})
		})

		r.Get("/users", func(w http.ResponseWriter, req *http.Request) {
			if restc == nil {
				writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "no api endpoint configured"})
				return
			}
			users, err := restc.SearchUsers(req.Context(), req.URL.Query().Get("q"))
			if err != nil {
				writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, users)
		})
	})
	return r
}

// Start begins serving control requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("control server starting", zap.String("socket", s.socketPath))
	if err := s.httpServer.Serve(s.listener); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("control server stopping")
	_ = s.httpServer.Shutdown(ctx)
	_ = os.Remove(s.socketPath)
}

func toConversationResponse(c chat.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:            c.ID,
		Name:          c.CounterpartyName,
		Email:         c.CounterpartyEmail,
		LastMessage:   c.LastMessage,
		LastMessageAt: wire.FormatTime(c.LastMessageAt),
		MessageCount:  c.MessageCount,
		UnreadCount:   c.UnreadCount,
	}
}

func toMessageResponse(m chat.Message) MessageResponse {
	out := MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Body:           m.Body,
		SenderName:     m.SenderName,
		SenderEmail:    m.SenderEmail,
		FromMe:         m.FromMe,
		Pending:        m.Provisional(),
		Timestamp:      wire.FormatTime(m.Timestamp),
	}
	if m.Attachment != nil {
		out.Attachment = &AttachmentResponse{
			FileURL:  m.Attachment.FileURL,
			Filename: m.Attachment.Filename,
			MimeType: m.Attachment.MimeType,
		}
	}
	return out
}

func pathID(req *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid conversation id")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

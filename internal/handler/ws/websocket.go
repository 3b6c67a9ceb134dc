package ws

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-feedback/backend/internal/model/feedback"
	"github.com/zhouzirui/z-feedback/backend/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	maxFrameSize = 20 << 20
)

// UserKeyPrefix namespaces socket users in the shared session store.
const UserKeyPrefix = "ws:"

// Dialog is the conversation core driven by socket messages.
type Dialog interface {
	Handle(ctx context.Context, userID string, event feedback.Event) feedback.Prompt
}

// Handler exposes the feedback dialog over a WebSocket, one user per socket.
type Handler struct {
	dialog   Dialog
	locks    *utils.KeyedMutex
	upgrader websocket.Upgrader
}

// New creates a WebSocket handler.
func New(dialog Dialog) *Handler {
	return &Handler{
		dialog: dialog,
		locks:  utils.NewKeyedMutex(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the socket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{userID}", h.handleWebSocket)
}

// inboundMessage is a client frame. Data is base64 in JSON.
type inboundMessage struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Command  string `json:"command,omitempty"`
	Data     []byte `json:"data,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type outgoingMessage struct {
	Type          string   `json:"type"`
	Text          string   `json:"text,omitempty"`
	Choices       []string `json:"choices,omitempty"`
	RemoveChoices bool     `json:"removeChoices,omitempty"`
	Timestamp     int64    `json:"timestamp"`
}

func (m inboundMessage) event() (feedback.Event, bool) {
	switch m.Type {
	case "text":
		return feedback.TextEvent(m.Text), true
	case "command":
		return feedback.CommandEvent(m.Command), m.Command != ""
	case "photo":
		return feedback.AttachmentEvent(m.Data, m.Filename), len(m.Data) > 0
	}
	return feedback.Event{}, false
}

type socketWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *socketWriter) write(msg outgoingMessage) {
	w.mu.Lock()
	defer w.mu.Unlock()
	msg.Timestamp = time.Now().Unix()
	if err := w.conn.WriteJSON(msg); err != nil {
		log.Printf("[websocket] write %s failed: %v", msg.Type, err)
	}
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		http.Error(w, "userID is required", http.StatusBadRequest)
		return
	}
	userID = UserKeyPrefix + userID

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[websocket] new connection for user: %s", userID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	writer := &socketWriter{conn: conn}
	go h.pingLoop(ctx, conn)

	writer.write(outgoingMessage{Type: "connected"})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		event, ok := msg.event()
		if !ok {
			writer.write(outgoingMessage{Type: "error", Text: "unsupported message"})
			continue
		}

		unlock := h.locks.Lock(userID)
		prompt := h.dialog.Handle(ctx, userID, event)
		unlock()

		writer.write(outgoingMessage{
			Type:          "prompt",
			Text:          prompt.Text,
			Choices:       prompt.Choices,
			RemoveChoices: prompt.RemoveChoices,
		})
	}
}

func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/cohort/pkg/httputil"
	"github.com/platinummonkey/cohort/pkg/middleware"
	"github.com/platinummonkey/cohort/pkg/observability"
)

const (
	maxClientMessage = 4096

	messageAuthenticate = "authenticate"
	messagePing         = "ping"
)

// HandlerConfig configures websocket connections
type HandlerConfig struct {
	// AllowedOrigins are host patterns passed to the upgrader. Empty means
	// same-origin only.
	AllowedOrigins []string
	// MessageAuth accepts the token as the first client message when the
	// query parameter is absent.
	MessageAuth  bool
	AuthTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

// DefaultHandlerConfig returns the defaults used by the server
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		AuthTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		SendBuffer:   64,
	}
}

// clientMessage is anything a client sends
type clientMessage struct {
	Type      string          `json:"type"`
	Token     string          `json:"token,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

type pongMessage struct {
	Type      string          `json:"type"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// Handler upgrades authorized requests to websocket connections and streams
// hub events to them.
type Handler struct {
	authorizer *Authorizer
	hub        *Hub
	cfg        HandlerConfig
	logger     *observability.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewHandler creates a websocket handler
func NewHandler(authorizer *Authorizer, hub *Hub, cfg HandlerConfig, logger *observability.Logger) *Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	def := DefaultHandlerConfig()
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = def.AuthTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	return &Handler{
		authorizer: authorizer,
		hub:        hub,
		cfg:        cfg,
		logger:     logger.WithComponent("realtime"),
		done:       make(chan struct{}),
	}
}

// RegisterRoutes adds the websocket endpoints to router
func (h *Handler) RegisterRoutes(router *mux.Router) {
	for _, path := range []string{"/ws/notifications", "/ws/notifications/"} {
		router.HandleFunc(path, h.fixed(TopicNotifications)).Methods("GET")
	}
	for _, path := range []string{"/ws/dashboard", "/ws/dashboard/"} {
		router.HandleFunc(path, h.fixed(TopicDashboard)).Methods("GET")
	}
	for _, path := range []string{"/ws/leaderboard", "/ws/leaderboard/"} {
		router.HandleFunc(path, h.fixed(TopicLeaderboard)).Methods("GET")
	}
	router.HandleFunc("/ws/mentor/{id}", h.scoped(TopicMentor)).Methods("GET")
	router.HandleFunc("/ws/mentor/{id}/", h.scoped(TopicMentor)).Methods("GET")
	router.HandleFunc("/ws/student/{id}", h.scoped(TopicStudent)).Methods("GET")
	router.HandleFunc("/ws/student/{id}/", h.scoped(TopicStudent)).Methods("GET")
}

// Close ends every open connection with a going-away status
func (h *Handler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Handler) fixed(kind TopicKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Serve(w, r, Topic{Kind: kind})
	}
}

func (h *Handler) scoped(kind TopicKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil || id <= 0 {
			httputil.WriteNotFoundError(w, "Unknown channel.")
			return
		}
		h.Serve(w, r, Topic{Kind: kind, ID: id})
	}
}

// Serve authorizes and runs one connection for topic
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, topic Topic) {
	ctx := r.Context()
	log := observability.FromContext(ctx, h.logger).WithField("topic", string(topic.Kind))

	var grant *Grant
	token := r.URL.Query().Get("token")
	if token != "" || !h.cfg.MessageAuth {
		g, err := h.authorizer.Authorize(ctx, token, topic)
		if err != nil {
			refuse(w, err)
			return
		}
		grant = g
	}

	// The server's read and write timeouts would otherwise cut long-lived
	// connections.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.cfg.AllowedOrigins})
	if err != nil {
		log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxClientMessage)

	if grant == nil {
		grant, err = h.authenticate(ctx, conn, topic)
		if err != nil {
			log.WithError(err).Info("closing unauthenticated connection")
			_ = conn.Close(websocket.StatusPolicyViolation, closeReason(err))
			return
		}
	}

	h.run(ctx, conn, grant, log)
}

// authenticate waits for {"type":"authenticate","token":...}
func (h *Handler) authenticate(ctx context.Context, conn *websocket.Conn, topic Topic) (*Grant, error) {
	authCtx, cancel := context.WithTimeout(ctx, h.cfg.AuthTimeout)
	defer cancel()

	var msg clientMessage
	if err := wsjson.Read(authCtx, conn, &msg); err != nil {
		return nil, &AuthError{}
	}
	if msg.Type != messageAuthenticate || msg.Token == "" {
		return nil, &AuthError{}
	}
	return h.authorizer.Authorize(ctx, msg.Token, topic)
}

func (h *Handler) run(ctx context.Context, conn *websocket.Conn, grant *Grant, log *observability.Logger) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	connID := uuid.NewString()
	log = log.WithFields(map[string]interface{}{
		"connection_id": connID,
		"account_id":    grant.Account.ID,
	})

	sub := h.hub.Subscribe(connID, grant.Groups, h.cfg.SendBuffer)
	defer h.hub.Unsubscribe(sub)
	log.WithField("groups", grant.Groups).Info("realtime connection established")

	write := func(v interface{}) error {
		writeCtx, cancelWrite := context.WithTimeout(ctx, h.cfg.WriteTimeout)
		defer cancelWrite()
		return wsjson.Write(writeCtx, conn, v)
	}

	if err := write(NewEvent(EventConnectionEstablished, map[string]interface{}{
		"connection_id": connID,
		"account_id":    grant.Account.ID,
		"groups":        grant.Groups,
	})); err != nil {
		return
	}

	pongs := make(chan pongMessage, 4)
	readErr := make(chan error, 1)
	go func() {
		defer observability.RecoverPanic(log, "realtime reader")
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				readErr <- err
				return
			}
			if typ != websocket.MessageText {
				continue
			}
			var msg clientMessage
			if json.Unmarshal(data, &msg) != nil {
				continue
			}
			if msg.Type == messagePing {
				select {
				case pongs <- pongMessage{Type: EventPong, Timestamp: msg.Timestamp}:
				default:
				}
			}
		}
	}()

	for {
		select {
		case <-h.done:
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case <-ctx.Done():
			return
		case err := <-readErr:
			log.WithField("status", websocket.CloseStatus(err).String()).Debug("realtime connection closed by peer")
			return
		case p := <-pongs:
			if err := write(p); err != nil {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			if err := write(ev); err != nil {
				log.WithError(err).Debug("realtime write failed")
				_ = conn.Close(websocket.StatusInternalError, "write_failed")
				return
			}
		}
	}
}

// refuse answers a failed authorization before the upgrade
func refuse(w http.ResponseWriter, err error) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		middleware.Unauthorized(w, authErr.Reason)
		return
	}
	httputil.WriteForbidden(w, "You do not have access to this channel.")
}

func closeReason(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return rejectionLabel(authErr.Reason)
	}
	return "forbidden"
}

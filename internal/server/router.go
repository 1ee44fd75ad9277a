package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/scribepad/scribepad/backend/internal/syncing"
)

var (
	errMissingCoordinator = errors.New("sync coordinator dependency required")
	errMissingRegistry    = errors.New("session registry dependency required")
	errMissingIDProvider  = errors.New("id provider dependency required")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	Coordinator *syncing.Coordinator
	Registry    *Registry
	IDProvider  IDProvider
	Logger      *zap.Logger
}

// NewHTTPHandler builds the gin router hosting the websocket sync endpoint.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Coordinator == nil {
		return nil, errMissingCoordinator
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}
	if deps.IDProvider == nil {
		return nil, errMissingIDProvider
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		coordinator: deps.Coordinator,
		registry:    deps.Registry,
		idProvider:  deps.IDProvider,
		logger:      logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/ws", handler.handleWebsocket)

	return router, nil
}

type httpHandler struct {
	coordinator *syncing.Coordinator
	registry    *Registry
	idProvider  IDProvider
	logger      *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleWebsocket(c *gin.Context) {
	sessionID, err := h.idProvider.NewID()
	if err != nil {
		h.logger.Error("session id generation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_id_failed"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	session := newSession(sessionID, conn, h.logger)
	h.registry.add(session)
	go session.writePump()
	h.readLoop(c, session)
}

// readLoop processes inbound messages until the connection drops. Messages
// on one connection are handled strictly one at a time; interleaving only
// happens across connections, where the coordinator's lock takes over.
func (h *httpHandler) readLoop(c *gin.Context, session *Session) {
	defer h.registry.remove(session.id)

	conn := session.conn
	conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("websocket read failed",
					zap.String("session_id", session.id), zap.Error(err))
			}
			return
		}

		var envelope syncing.Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			h.logger.Warn("undecodable message dropped",
				zap.String("session_id", session.id), zap.Error(err))
			continue
		}

		ctx := c.Request.Context()
		switch envelope.MsgType {
		case syncing.MsgTypeChange:
			err = h.coordinator.HandleChange(ctx, session, envelope)
		case syncing.MsgTypeFetchList:
			err = h.coordinator.HandleFetchList(ctx, session, envelope.CallbackID)
		case syncing.MsgTypeOfflineSync:
			err = h.coordinator.HandleOfflineSync(ctx, session, envelope)
		default:
			h.logger.Warn("unknown message type dropped",
				zap.String("session_id", session.id),
				zap.String("msg_type", envelope.MsgType))
			continue
		}
		if err != nil {
			h.logger.Error("message handling failed",
				zap.String("session_id", session.id),
				zap.String("msg_type", envelope.MsgType),
				zap.Error(err))
		}
	}
}

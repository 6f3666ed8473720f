package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mytrader/marketfeed/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client command types.
const (
	cmdSubscribe             = "SubscribeToPriceUpdates"
	cmdUnsubscribe           = "UnsubscribeFromPriceUpdates"
	cmdSubscribeAssetClass   = "SubscribeToAssetClass"
	cmdSubscribeMarketStatus = "SubscribeToMarketStatus"
	cmdGetMarketStatus       = "GetMarketStatus"
)

// clientCommand is the wire format of requests read from a websocket.
type clientCommand struct {
	Type       string   `json:"type"`
	AssetClass string   `json:"assetClass"`
	Symbols    any      `json:"symbols,omitempty"`
	Markets    []string `json:"markets,omitempty"`
}

// ServerConfig holds websocket endpoint settings.
type ServerConfig struct {
	ListenAddr string // Default: ":8090"
	OutboxSize int    // Per-connection event buffer (default: 256)
}

// Server exposes the hub over HTTP: a websocket endpoint for subscribers
// plus health and stats routes.
type Server struct {
	cfg      ServerConfig
	hub      *Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
	httpSrv  *http.Server

	errCh chan error
}

// NewServer creates the websocket front end for a hub.
func NewServer(cfg ServerConfig, h *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8090"
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = 256
	}
	return &Server{
		cfg:    cfg,
		hub:    h,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		errCh: make(chan error, 1),
	}
}

// Start begins serving. Listen failures surface on Err.
func (s *Server) Start(ctx context.Context) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", s.handleWS)
	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)

	s.httpSrv = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errCh <- err
		}
	}()

	s.logger.Info("websocket server started", "addr", s.cfg.ListenAddr)
	return nil
}

// Err reports a fatal server error, if any.
func (s *Server) Err() <-chan error {
	return s.errCh
}

// Stop disconnects all clients and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.CloseAll()
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.hub.Stats())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := &wsConn{
		id:     uuid.NewString(),
		ws:     ws,
		outbox: make(chan any, s.cfg.OutboxSize),
		done:   make(chan struct{}),
	}

	s.hub.Register(conn)
	go s.writeLoop(conn)
	s.readLoop(conn)

	s.hub.Unregister(conn.id)
	conn.Close()
}

// readLoop parses client commands until the connection drops.
func (s *Server) readLoop(conn *wsConn) {
	conn.ws.SetReadLimit(4096)
	conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", "client_id", conn.id, "error", err)
			}
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			conn.Enqueue(SubscriptionErrorEvent{
				Type:    EventSubscriptionError,
				Error:   ErrorInternal,
				Message: "malformed command",
			})
			continue
		}
		s.dispatch(conn, cmd)
	}
}

// dispatch routes one client command. Hub-side rejections are already
// delivered on the connection; errors here are only logged.
func (s *Server) dispatch(conn *wsConn, cmd clientCommand) {
	assetClass := model.AssetClass(strings.ToUpper(strings.TrimSpace(cmd.AssetClass)))

	var err error
	switch cmd.Type {
	case cmdSubscribe:
		err = s.hub.Subscribe(conn.id, assetClass, cmd.Symbols)
	case cmdSubscribeAssetClass:
		err = s.hub.SubscribeBulk(conn.id, assetClass)
	case cmdUnsubscribe:
		err = s.hub.Unsubscribe(conn.id, assetClass, cmd.Symbols)
	case cmdSubscribeMarketStatus:
		// Clients name venues; each maps onto the asset class whose feed
		// covers it.
		for _, market := range cmd.Markets {
			ac, ok := assetClassForMarket(market)
			if !ok {
				conn.Enqueue(SubscriptionErrorEvent{
					Type:    EventSubscriptionError,
					Error:   ErrorInvalidAssetClass,
					Message: "unknown market " + market,
				})
				continue
			}
			err = s.hub.SubscribeMarketStatus(conn.id, ac)
		}
		if len(cmd.Markets) == 0 && cmd.AssetClass != "" {
			err = s.hub.SubscribeMarketStatus(conn.id, assetClass)
		}
	case cmdGetMarketStatus:
		err = s.hub.SendMarketStatusSnapshot(conn.id)
	default:
		conn.Enqueue(SubscriptionErrorEvent{
			Type:    EventSubscriptionError,
			Error:   ErrorInternal,
			Message: "unknown command " + cmd.Type,
		})
		return
	}

	if err != nil {
		s.logger.Debug("command rejected",
			"client_id", conn.id,
			"command", cmd.Type,
			"error", err,
		)
	}
}

// assetClassForMarket maps a venue code onto the asset class whose status
// feed covers it.
func assetClassForMarket(market string) (model.AssetClass, bool) {
	switch strings.ToUpper(strings.TrimSpace(market)) {
	case model.VenueBinance:
		return model.AssetClassCrypto, true
	case model.VenueBIST, model.VenueNasdaq:
		return model.AssetClassStock, true
	default:
		return "", false
	}
}

// writeLoop serializes outbox events onto the socket and keeps the
// connection alive with pings.
func (s *Server) writeLoop(conn *wsConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-conn.done:
			return
		case event := <-conn.outbox:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteJSON(event); err != nil {
				s.logger.Debug("websocket write failed", "client_id", conn.id, "error", err)
				conn.Close()
				return
			}
		case <-ticker.C:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// wsConn adapts one gorilla connection to the hub's Conn interface.
type wsConn struct {
	id     string
	ws     *websocket.Conn
	outbox chan any
	done   chan struct{}
	once   sync.Once
}

func (c *wsConn) ID() string { return c.id }

// Enqueue hands an event to the write loop without blocking.
func (c *wsConn) Enqueue(event any) bool {
	select {
	case <-c.done:
		return false
	case c.outbox <- event:
		return true
	default:
		return false
	}
}

func (c *wsConn) Close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nuid"
	"github.com/orderbus/project/internal/contracts"
	platformauth "github.com/orderbus/project/internal/platform/auth"
	"github.com/orderbus/project/internal/platform/metrics"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// TokenParser resolves a bearer token to claims. A nil parser means socket
// roles are taken from the role query parameter.
type TokenParser interface {
	Parse(token string) (platformauth.Claims, error)
}

// SocketServer upgrades /socket requests and runs one read pump and one write
// pump per connection.
type SocketServer struct {
	Registry   *Registry
	Router     *Router
	Tokens     TokenParser
	SendBuffer int
	NewID      func() string
	Logger     *zap.Logger
	Upgrader   websocket.Upgrader
}

func NewSocketServer(registry *Registry, router *Router, tokens TokenParser, logger *zap.Logger) *SocketServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SocketServer{
		Registry:   registry,
		Router:     router,
		Tokens:     tokens,
		SendBuffer: 64,
		NewID:      nuid.Next,
		Logger:     logger,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

var errInvalidSocketToken = errors.New("invalid token")

// resolveRole decides the connection's audience. Customers connect without a
// token; a token, when given, must be valid.
func (s *SocketServer) resolveRole(r *http.Request) (string, error) {
	if s.Tokens == nil {
		if strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("role")), RoleCashier) {
			return RoleCashier, nil
		}
		return RoleCustomer, nil
	}

	token := platformauth.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		return RoleCustomer, nil
	}
	claims, err := s.Tokens.Parse(token)
	if err != nil {
		return "", errInvalidSocketToken
	}
	if claims.Role == platformauth.RoleCashier {
		return RoleCashier, nil
	}
	return RoleCustomer, nil
}

func (s *SocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	role, err := s.resolveRole(r)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	ws, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Debug("socket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConn(s.NewID(), role, s.SendBuffer)
	s.Registry.Register(conn)
	logger := s.Logger.With(zap.String("conn_id", conn.ID), zap.String("role", role))
	logger.Info("socket connected", zap.String("remote_addr", r.RemoteAddr))

	go s.writePump(ws, conn, logger)
	s.readPump(ws, conn, logger)

	s.Registry.Unregister(conn)
	_ = ws.Close()
	logger.Info("socket disconnected")
}

func (s *SocketServer) readPump(ws *websocket.Conn, conn *Conn, logger *zap.Logger) {
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Info("socket read failed", zap.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		s.dispatch(conn, data, logger)
	}
}

// dispatch handles one inbound frame. Malformed frames and unknown events are
// logged and dropped; nothing is ever sent back to the producer.
func (s *SocketServer) dispatch(conn *Conn, data []byte, logger *zap.Logger) {
	var env contracts.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
		metrics.EventsReceived.WithLabelValues("malformed").Inc()
		logger.Debug("ignoring malformed frame", zap.Error(err))
		return
	}

	switch env.Event {
	case contracts.EventJoinTable:
		metrics.EventsReceived.WithLabelValues(env.Event).Inc()
		var join contracts.JoinTable
		if err := json.Unmarshal(env.Data, &join); err != nil {
			logger.Debug("ignoring malformed join", zap.Error(err))
			return
		}
		if s.Registry.Join(conn.ID, join.TableNumber) {
			logger.Debug("joined table", zap.String("table", strings.TrimSpace(join.TableNumber)))
		}
	case contracts.EventNewOrder:
		metrics.EventsReceived.WithLabelValues(env.Event).Inc()
		var order contracts.Order
		if err := json.Unmarshal(env.Data, &order); err != nil {
			logger.Debug("ignoring malformed order", zap.Error(err))
			return
		}
		if _, err := s.Router.RouteOrderCreated(order); err != nil {
			logger.Warn("order rejected", zap.String("order_id", order.ID), zap.Error(err))
		}
	case contracts.EventOrderStatusUpdate:
		metrics.EventsReceived.WithLabelValues(env.Event).Inc()
		var update contracts.OrderStatusUpdate
		if err := json.Unmarshal(env.Data, &update); err != nil {
			logger.Debug("ignoring malformed status update", zap.Error(err))
			return
		}
		s.Router.RouteStatusUpdate(update)
	default:
		metrics.EventsReceived.WithLabelValues("unknown").Inc()
		logger.Debug("ignoring unknown event", zap.String("event", env.Event))
	}
}

func (s *SocketServer) writePump(ws *websocket.Conn, conn *Conn, logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case <-conn.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case frame := <-conn.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Info("socket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

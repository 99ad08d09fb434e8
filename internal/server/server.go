// ABOUTME: Websocket server publishing a clock tree to followers
// ABOUTME: Streams clock transitions and master ticks and executes follower commands
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Resonate-Protocol/playclock/internal/discovery"
	"github.com/Resonate-Protocol/playclock/internal/metrics"
	"github.com/Resonate-Protocol/playclock/internal/protocol"
	"github.com/Resonate-Protocol/playclock/pkg/clock"
	"github.com/Resonate-Protocol/playclock/pkg/frac"
	"github.com/Resonate-Protocol/playclock/pkg/playclock"
)

// ErrUnknownClock is returned when a clock name is not served.
var ErrUnknownClock = errors.New("unknown clock")

const (
	// DefaultPath is the websocket endpoint.
	DefaultPath = "/playclock"

	sendBuffer    = 100
	helloTimeout  = 10 * time.Second
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
)

// Config holds server configuration
type Config struct {
	Port       int
	Name       string
	Path       string
	EnableMDNS bool

	// DefaultClock is followed by clients whose hello names no clock.
	DefaultClock string

	// TickInterval throttles clock/tick broadcasts. Zero sends one per
	// driver tick.
	TickInterval time.Duration

	// ForwardDelay is applied to follower commands. Zero selects
	// playclock.DefaultForwardDelay.
	ForwardDelay time.Duration

	// Metrics, when set, is served on /metrics and fed by the server.
	Metrics *metrics.Metrics

	Logger zerolog.Logger
}

// Server publishes named clocks of one tree over websockets.
type Server struct {
	config   Config
	serverID string
	logger   zerolog.Logger

	upgrader websocket.Upgrader

	httpServer *http.Server
	mux        *http.ServeMux

	master   clock.Clock
	clocks   map[string]*playclock.FullClock
	controls map[string]*playclock.AsyncControl
	names    []string

	clients   map[string]*Client
	clientsMu sync.RWMutex

	lastTick atomic.Int64

	mdnsManager *discovery.Manager

	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// Client is a connected follower.
type Client struct {
	ID    string
	Name  string
	Clock string
	Conn  *websocket.Conn

	sendChan  chan interface{}
	closeOnce sync.Once
}

// kick closes the connection so the reader exits and cleanup runs.
func (c *Client) kick() {
	c.closeOnce.Do(func() {
		c.Conn.Close()
	})
}

// New creates a server for clocks, which must all belong to one tree and
// include the default clock.
func New(config Config, clocks map[string]*playclock.FullClock) (*Server, error) {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.DefaultClock == "" {
		config.DefaultClock = "root"
	}
	if config.ForwardDelay == 0 {
		config.ForwardDelay = playclock.DefaultForwardDelay
	}
	def, ok := clocks[config.DefaultClock]
	if !ok {
		return nil, fmt.Errorf("default clock %q: %w", config.DefaultClock, ErrUnknownClock)
	}

	logger := config.Logger.With().Str("component", "server").Logger()
	s := &Server{
		config:   config,
		serverID: uuid.New().String(),
		logger:   logger,
		mux:      http.NewServeMux(),
		master:   def.MasterClock(),
		clocks:   make(map[string]*playclock.FullClock, len(clocks)),
		controls: make(map[string]*playclock.AsyncControl, len(clocks)),
		clients:  make(map[string]*Client),
		stopChan: make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// Intended for trusted local networks; browsers are allowed but logged.
			origin := r.Header.Get("Origin")
			if origin != "" && origin != "http://localhost" && origin != "http://127.0.0.1" {
				logger.Warn().Str("origin", origin).Msg("accepting websocket from foreign origin")
			}
			return true
		},
	}

	for name, node := range clocks {
		s.clocks[name] = node
		s.controls[name] = playclock.NewAsyncControl(node, s.master, config.ForwardDelay)
		s.names = append(s.names, name)
		if config.Metrics != nil {
			config.Metrics.Watch(name, node)
		}
	}
	sort.Strings(s.names)

	s.mux.HandleFunc(config.Path, s.handleWebSocket)
	if config.Metrics != nil {
		s.mux.Handle("/metrics", config.Metrics.Handler())
	}
	return s, nil
}

// ID returns the server id sent in server/hello.
func (s *Server) ID() string { return s.serverID }

// Handler returns the HTTP handler serving the websocket and metrics.
func (s *Server) Handler() http.Handler { return s.mux }

// Clocks returns the served clock names, sorted.
func (s *Server) Clocks() []string { return slices.Clone(s.names) }

// Control returns the delayed control of a served clock.
func (s *Server) Control(name string) (*playclock.AsyncControl, error) {
	ctl, ok := s.controls[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownClock)
	}
	return ctl, nil
}

// ClientCount returns the number of connected followers.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Run starts the server and stops it when ctx is done.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.stopChan:
		}
	}()
	return s.Start()
}

// Start serves until Stop is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info().Str("name", s.config.Name).Str("id", s.serverID).Strs("clocks", s.names).Msg("server starting")

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
			Path:        s.config.Path,
			Info:        []string{"id=" + s.serverID},
			Logger:      s.logger,
		})

		if err := s.mdnsManager.Advertise(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to start mDNS advertisement")
		}
	}

	addr := fmt.Sprintf(":%d", s.config.Port)
	s.logger.Info().Str("addr", addr).Str("path", s.config.Path).Msg("websocket server listening")

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: helloTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	var serverErr error
	select {
	case <-s.stopChan:
		s.logger.Info().Msg("server shutting down")
	case err := <-errChan:
		s.logger.Error().Err(err).Msg("HTTP server error")
		serverErr = err
	}

	s.shutdown()

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("HTTP server shutdown error")
	}

	s.wg.Wait()
	s.logger.Info().Msg("server stopped cleanly")

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Stop stops the server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// shutdown rejects new followers and disconnects the current ones.
// Hijacked websocket connections are not closed by http.Server.Shutdown.
func (s *Server) shutdown() {
	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	s.clientsMu.RLock()
	for _, c := range s.clients {
		c.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.kick()
	}
	s.clientsMu.RUnlock()
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade error")
		return
	}

	s.logger.Debug().Str("remote", r.RemoteAddr).Msg("new websocket connection")
	s.handleConnection(conn)
}

// handleConnection runs one follower from handshake to disconnect.
func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	s.shutdownMu.RLock()
	if s.isShutdown {
		s.shutdownMu.RUnlock()
		s.logger.Debug().Msg("rejecting connection during shutdown")
		return
	}
	s.shutdownMu.RUnlock()

	hello, err := s.readHello(conn)
	if err != nil {
		s.logger.Warn().Err(err).Msg("handshake failed")
		return
	}

	clockName := hello.Clock
	if clockName == "" {
		clockName = s.config.DefaultClock
	}
	node, ok := s.clocks[clockName]
	if !ok {
		s.logger.Warn().Str("client", hello.ClientID).Str("clock", clockName).Msg("follower asked for unknown clock")
		writeError(conn, protocol.ErrCodeUnknownClock, fmt.Sprintf("no clock named %q", clockName))
		return
	}

	client := &Client{
		ID:       hello.ClientID,
		Name:     hello.Name,
		Clock:    clockName,
		Conn:     conn,
		sendChan: make(chan interface{}, sendBuffer),
	}
	log := s.logger.With().Str("client", client.ID).Str("name", client.Name).Str("clock", clockName).Logger()

	s.clientsMu.Lock()
	if existing, exists := s.clients[client.ID]; exists {
		s.clientsMu.Unlock()
		log.Warn().Str("existing", existing.Name).Msg("client id already connected, rejecting duplicate")
		writeError(conn, protocol.ErrCodeDuplicateClient, "Client ID already connected")
		return
	}
	s.clients[client.ID] = client
	s.clientsMu.Unlock()

	if s.config.Metrics != nil {
		s.config.Metrics.FollowerConnected()
	}
	log.Info().Msg("follower connected")

	sink := playclock.NewEventSink(func(e playclock.Event) {
		s.enqueueEvent(client, protocol.EventMessage(clockName, e))
	})

	defer func() {
		// The listener must be gone before sendChan closes.
		node.RemoveListener(sink)

		s.clientsMu.Lock()
		delete(s.clients, client.ID)
		s.clientsMu.Unlock()
		close(client.sendChan)

		if s.config.Metrics != nil {
			s.config.Metrics.FollowerDisconnected()
		}
		log.Info().Msg("follower disconnected")
	}()

	serverHello := protocol.ServerHello{
		ServerID:     s.serverID,
		Name:         s.config.Name,
		Version:      protocol.Version,
		Clocks:       s.Clocks(),
		Clock:        clockName,
		MasterMicros: s.master.Micros(),
	}
	if !s.enqueue(client, protocol.Message{Type: protocol.TypeServerHello, Payload: serverHello}) {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.clientWriter(client)
	}()

	// State replay and live transitions follow the hello in order.
	node.Attach(sink)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("websocket read error")
			}
			break
		}

		s.handleClientMessage(client, data)
	}
}

// readHello reads and validates client/hello.
func (s *Server) readHello(conn *websocket.Conn) (protocol.ClientHello, error) {
	var hello protocol.ClientHello

	conn.SetReadDeadline(time.Now().Add(helloTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return hello, fmt.Errorf("read hello: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	env, err := protocol.Decode(data)
	if err != nil {
		return hello, err
	}
	if env.Type != protocol.TypeClientHello {
		return hello, fmt.Errorf("expected %s, got %s", protocol.TypeClientHello, env.Type)
	}
	if err := env.Into(&hello); err != nil {
		return hello, err
	}

	if hello.ClientID == "" {
		return hello, errors.New("client hello missing client_id")
	}
	if hello.Name == "" {
		return hello, errors.New("client hello missing name")
	}
	if hello.Version != 0 && hello.Version != protocol.Version {
		s.logger.Warn().Int("version", hello.Version).Str("client", hello.ClientID).Msg("follower speaks a different protocol version")
	}
	return hello, nil
}

// clientWriter sends messages to the client
func (s *Server) clientWriter(client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.sendChan:
			if !ok {
				return
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Error().Err(err).Msg("error marshaling message")
				continue
			}
			client.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := client.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug().Err(err).Str("client", client.ID).Msg("error writing message")
				client.kick()
				return
			}

		case <-ticker.C:
			if err := client.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				client.kick()
				return
			}
		}
	}
}

// handleClientMessage processes messages from followers
func (s *Server) handleClientMessage(client *Client, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		s.logger.Warn().Err(err).Str("client", client.ID).Msg("bad message")
		return
	}

	switch env.Type {
	case protocol.TypeClientCommand:
		s.handleCommand(client, env)
	default:
		s.logger.Debug().Str("type", env.Type).Str("client", client.ID).Msg("unknown message type")
	}
}

// handleCommand executes a follower command after the forward delay.
func (s *Server) handleCommand(client *Client, env protocol.Envelope) {
	var cmd protocol.ClientCommand
	if err := env.Into(&cmd); err != nil {
		s.rejectCommand(client, cmd.Command, protocol.ErrCodeBadCommand, err.Error())
		return
	}

	name := cmd.Clock
	if name == "" {
		name = client.Clock
	}
	ctl, err := s.Control(name)
	if err != nil {
		s.rejectCommand(client, cmd.Command, protocol.ErrCodeUnknownClock, err.Error())
		return
	}

	switch cmd.Command {
	case "start":
		ctl.Start()
	case "stop":
		ctl.Stop()
	case "seek":
		ctl.Seek(cmd.Target)
	case "rate":
		if cmd.Rate == nil {
			s.rejectCommand(client, cmd.Command, protocol.ErrCodeBadCommand, "rate command without rate")
			return
		}
		rate := *cmd.Rate
		if cmd.Master {
			if rate, err = relativeRate(s.clocks[name], rate); err != nil {
				s.rejectCommand(client, cmd.Command, protocol.ErrCodeBadCommand, err.Error())
				return
			}
		}
		ctl.SetRate(rate)
	default:
		s.rejectCommand(client, cmd.Command, protocol.ErrCodeBadCommand, fmt.Sprintf("unknown command %q", cmd.Command))
		return
	}

	s.logger.Info().Str("client", client.ID).Str("clock", name).Str("command", cmd.Command).Msg("command executed")
	if s.config.Metrics != nil {
		s.config.Metrics.RecordCommand(cmd.Command, "ok")
	}
}

// relativeRate converts an effective rate into the rate node must request
// from its parent to run at it.
func relativeRate(node *playclock.FullClock, effective frac.Frac) (frac.Frac, error) {
	parent := node.ParentClock()
	if parent == nil {
		return effective.Canonical(), nil
	}
	pr := parent.Rate()
	if pr.Sign() == 0 || pr.IsInf() {
		return frac.Frac{}, fmt.Errorf("parent of %s runs at %v, no rate reaches %v", node.Name(), pr, effective)
	}
	rate, _ := frac.Mul(effective, pr.Inv())
	return rate, nil
}

func (s *Server) rejectCommand(client *Client, command, code, message string) {
	s.logger.Warn().Str("client", client.ID).Str("command", command).Str("error", code).Msg(message)
	if s.config.Metrics != nil {
		s.config.Metrics.RecordCommand(command, "error")
	}
	s.enqueue(client, protocol.Message{
		Type:    protocol.TypeServerError,
		Payload: protocol.ServerError{Error: code, Message: message},
	})
}

// Tick broadcasts the master time to every follower, throttled by
// TickInterval. It lets the server be registered as a playback.Ticker.
func (s *Server) Tick() {
	if iv := s.config.TickInterval; iv > 0 {
		now := time.Now().UnixNano()
		last := s.lastTick.Load()
		if last != 0 && now-last < int64(iv) {
			return
		}
		if !s.lastTick.CompareAndSwap(last, now) {
			return
		}
	}

	msg := protocol.Message{
		Type:    protocol.TypeClockTick,
		Payload: protocol.ClockTick{MasterMicros: s.master.Micros()},
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, c := range s.clients {
		s.enqueue(c, msg)
	}
}

// enqueue queues msg without blocking. A full buffer drops the message.
func (s *Server) enqueue(client *Client, msg protocol.Message) bool {
	select {
	case client.sendChan <- msg:
		return true
	default:
		if s.config.Metrics != nil {
			s.config.Metrics.RecordDropped(client.Clock)
		}
		return false
	}
}

// enqueueEvent queues a clock transition. A follower that misses one can
// no longer mirror the clock, so it is disconnected and must resync.
func (s *Server) enqueueEvent(client *Client, msg protocol.Message) {
	if s.enqueue(client, msg) {
		return
	}
	s.logger.Warn().Str("client", client.ID).Str("type", msg.Type).Msg("send buffer full, disconnecting follower")
	client.kick()
}

// writeError sends server/error directly, before a writer goroutine exists.
func writeError(conn *websocket.Conn, code, message string) {
	msg := protocol.Message{
		Type:    protocol.TypeServerError,
		Payload: protocol.ServerError{Error: code, Message: message},
	}
	if data, err := json.Marshal(msg); err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		conn.WriteMessage(websocket.TextMessage, data)
	}
}

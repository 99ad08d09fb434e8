// ABOUTME: Websocket follower for a remote playclock server
// ABOUTME: Mirrors one remote clock into a local FullClock and sends commands
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Resonate-Protocol/playclock/internal/protocol"
	"github.com/Resonate-Protocol/playclock/pkg/clock"
	"github.com/Resonate-Protocol/playclock/pkg/frac"
	"github.com/Resonate-Protocol/playclock/pkg/playclock"
)

const (
	defaultPath      = "/playclock"
	handshakeTimeout = 5 * time.Second
)

// ServerError is a server/error received from the server.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

// Config holds client configuration
type Config struct {
	// ServerAddr is host:port or a full ws:// URL.
	ServerAddr string
	Path       string
	ClientID   string // generated when empty
	Name       string
	Clock      string // remote clock to follow, empty for the server default
	Logger     zerolog.Logger
}

// Client follows one clock of a remote server.
type Client struct {
	config Config
	logger zerolog.Logger

	conn    *websocket.Conn
	mu      sync.RWMutex
	writeMu sync.Mutex

	master *clock.ManualClock
	mirror *playclock.FullClock
	hello  protocol.ServerHello

	// Errors receives server/error messages that arrive after the handshake.
	Errors chan *ServerError

	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewClient creates a new websocket client
func NewClient(config Config) *Client {
	if config.ClientID == "" {
		config.ClientID = uuid.New().String()
	}
	if config.Path == "" {
		config.Path = defaultPath
	}
	ctx, cancel := context.WithCancel(context.Background())
	master := clock.NewManualClock(0)

	logger := config.Logger.With().Str("component", "follower").Str("client", config.ClientID).Logger()

	return &Client{
		config: config,
		logger: logger,
		master: master,
		mirror: playclock.NewNamedFullClock(master, config.Clock),
		Errors: make(chan *ServerError, 10),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Mirror returns the local copy of the remote clock. Its master is paced by
// the server's clock/tick messages. Local children may be created under it.
func (c *Client) Mirror() *playclock.FullClock { return c.mirror }

// Master returns the local copy of the server's master clock.
func (c *Client) Master() clock.Clock { return c.master }

// Hello returns the server/hello received during Connect.
func (c *Client) Hello() protocol.ServerHello {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hello
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) url() string {
	if strings.HasPrefix(c.config.ServerAddr, "ws://") || strings.HasPrefix(c.config.ServerAddr, "wss://") {
		return c.config.ServerAddr
	}
	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: c.config.Path}
	return u.String()
}

// Connect establishes the websocket connection and performs the handshake.
func (c *Client) Connect(ctx context.Context) error {
	target := c.url()
	c.logger.Info().Str("url", target).Msg("connecting")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if err := c.handshake(); err != nil {
		c.Close()
		close(c.done)
		return fmt.Errorf("handshake failed: %w", err)
	}

	go c.readMessages()
	return nil
}

// handshake sends client/hello and waits for server/hello.
func (c *Client) handshake() error {
	hello := protocol.ClientHello{
		ClientID: c.config.ClientID,
		Name:     c.config.Name,
		Clock:    c.config.Clock,
		Version:  protocol.Version,
	}
	if err := c.send(protocol.Message{Type: protocol.TypeClientHello, Payload: hello}); err != nil {
		return fmt.Errorf("failed to send client/hello: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read server/hello: %w", err)
	}
	c.conn.SetReadDeadline(time.Time{})

	env, err := protocol.Decode(data)
	if err != nil {
		return err
	}

	switch env.Type {
	case protocol.TypeServerHello:
	case protocol.TypeServerError:
		var serr protocol.ServerError
		if err := env.Into(&serr); err != nil {
			return err
		}
		return &ServerError{Code: serr.Error, Message: serr.Message}
	default:
		return fmt.Errorf("expected %s, got %s", protocol.TypeServerHello, env.Type)
	}

	var sh protocol.ServerHello
	if err := env.Into(&sh); err != nil {
		return err
	}
	c.mu.Lock()
	c.hello = sh
	c.mu.Unlock()
	c.master.Set(sh.MasterMicros)

	c.logger.Info().
		Str("server", sh.Name).
		Str("server_id", sh.ServerID).
		Str("clock", sh.Clock).
		Int64("master", sh.MasterMicros).
		Msg("handshake complete")
	return nil
}

// send writes msg. Gorilla connections allow one writer at a time.
func (c *Client) send(msg protocol.Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return errors.New("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// readMessages reads and applies incoming messages until the connection ends.
func (c *Client) readMessages() {
	defer close(c.done)
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.ctx.Done():
			default:
				c.logger.Warn().Err(err).Msg("read error")
			}
			return
		}
		c.handleMessage(data)
	}
}

// handleMessage routes one server message.
func (c *Client) handleMessage(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("bad message")
		return
	}

	switch {
	case env.Type == protocol.TypeClockTick:
		var tick protocol.ClockTick
		if err := env.Into(&tick); err != nil {
			c.logger.Warn().Err(err).Msg("bad tick")
			return
		}
		c.master.Set(tick.MasterMicros)

	case protocol.IsClockEvent(env.Type):
		name, ev, err := env.Event()
		if err != nil {
			c.logger.Warn().Err(err).Msg("bad clock event")
			return
		}
		if followed := c.Hello().Clock; name != followed {
			c.logger.Debug().Str("clock", name).Msg("ignoring event for another clock")
			return
		}
		c.logger.Debug().Stringer("event", ev).Msg("clock event")
		ev.Apply(c.mirror)

	case env.Type == protocol.TypeServerError:
		var serr protocol.ServerError
		if err := env.Into(&serr); err != nil {
			return
		}
		c.logger.Warn().Str("error", serr.Error).Msg(serr.Message)
		select {
		case c.Errors <- &ServerError{Code: serr.Error, Message: serr.Message}:
		default:
		}

	default:
		c.logger.Debug().Str("type", env.Type).Msg("unknown message type")
	}
}

// SendCommand asks the server to control a clock. An empty cmd.Clock
// targets the followed clock.
func (c *Client) SendCommand(cmd protocol.ClientCommand) error {
	return c.send(protocol.Message{Type: protocol.TypeClientCommand, Payload: cmd})
}

// Start asks the server to start the followed clock.
func (c *Client) Start() error {
	return c.SendCommand(protocol.ClientCommand{Command: "start"})
}

// Stop asks the server to stop the followed clock.
func (c *Client) Stop() error {
	return c.SendCommand(protocol.ClientCommand{Command: "stop"})
}

// Seek asks the server to seek the followed clock.
func (c *Client) Seek(target int64) error {
	return c.SendCommand(protocol.ClientCommand{Command: "seek", Target: target})
}

// SetRate asks the server to run the followed clock at rate against the
// master, the same frame the mirror reports its rate in.
func (c *Client) SetRate(rate frac.Frac) error {
	rate = rate.Canonical()
	return c.SendCommand(protocol.ClientCommand{Command: "rate", Rate: &rate, Master: true})
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.connected = false
		c.cancel()
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.conn.Close()
		c.logger.Info().Msg("connection closed")
	}
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

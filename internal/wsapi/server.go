// Package wsapi exposes a session over a WebSocket: every observer
// notification is streamed to connected clients, and clients drive the
// session with JSON commands.
//
// Commands:
//
//	{"command":"state"}
//	{"command":"scan","filter":"serial,heart-rate","timeout":"5s"}
//	{"command":"stop"}
//	{"command":"connect","device":"<id>"}
//	{"command":"disconnect","device":"<id>"}
//	{"command":"disconnect_all"}
//
// Each command is answered with an "ack", "error" or "state" frame.
package wsapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/eventbus"
	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/internal/serde"
	"github.com/srg/blecentral/internal/session"
)

// Session is the part of session.Manager the server drives.
type Session interface {
	StartScan(timeout time.Duration, filter device.ServiceFilter) error
	StopScan() error
	Connect(id string) error
	Disconnect(id string) error
	DisconnectAll() error
	Ready() bool
	AdapterState() device.AdapterState
	Scanning() bool
	Devices() []device.Device
	Catalog() *device.Catalog
	Stats() session.Stats
}

// Command is one client request.
type Command struct {
	Command string `json:"command"`
	Device  string `json:"device,omitempty"`
	Filter  string `json:"filter,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// Reply answers a Command.
type Reply struct {
	Type    string `json:"type"`
	Command string `json:"command,omitempty"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
	State   *State `json:"state,omitempty"`
}

// State is a session snapshot.
type State struct {
	Adapter  device.AdapterState `json:"adapter"`
	Ready    bool                `json:"ready"`
	Scanning bool                `json:"scanning"`
	Devices  []device.Device     `json:"devices"`
	Stats    session.Stats       `json:"stats"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Server serves the WebSocket API.
type Server struct {
	session Session
	bus     *eventbus.Bus
	logger  *logrus.Logger
	clients *xsync.Counter
}

// New creates a server streaming bus events and driving sess.
func New(sess Session, bus *eventbus.Bus, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		session: sess,
		bus:     bus,
		logger:  logger,
		clients: xsync.NewCounter(),
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int64 {
	return s.clients.Value()
}

// Handler returns the HTTP routes: /ws for the stream, /devices for a JSON snapshot.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if _, err := fmt.Fprint(w, "BLE central session API\n\n  GET /ws       event stream and commands (WebSocket)\n  GET /devices  device registry snapshot\n"); err != nil {
			s.logger.WithError(err).Warn("Failed to write response")
		}
	})
	mux.HandleFunc("/devices", s.serveDevices)
	mux.Handle("/ws", s)
	return mux
}

func (s *Server) serveDevices(w http.ResponseWriter, _ *http.Request) {
	data, err := serde.MarshalJSON(s.state())
	if err != nil {
		s.logger.WithError(err).Error("Failed to encode state")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		s.logger.WithError(err).Warn("Failed to write response")
	}
}

// client serializes writes to one connection.
type client struct {
	conn   *websocket.Conn
	logger *logrus.Entry
	mu     sync.Mutex
}

func (c *client) send(v any) error {
	data, err := serde.MarshalJSON(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// ServeHTTP upgrades the request, sends the current state, then streams
// events while reading commands until the client goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Error("WebSocket upgrade failed")
		return
	}
	c := &client{conn: conn, logger: s.logger.WithField("remote", r.RemoteAddr)}
	c.logger.Info("WebSocket client connected")

	s.clients.Inc()
	defer s.clients.Dec()

	sub := s.bus.Subscribe()
	if err := c.send(Reply{Type: "state", State: s.state()}); err != nil {
		c.logger.WithError(err).Warn("Failed to send initial state")
	}

	done := groutine.Go(context.Background(), "wsapi-stream", func(context.Context) {
		for ev := range sub.C {
			if err := c.send(ev); err != nil {
				c.logger.WithError(err).Debug("Failed to stream event")
			}
		}
	})

	s.read(c)

	if err := conn.Close(); err != nil {
		c.logger.WithError(err).Debug("Error closing websocket")
	}
	sub.Close()
	<-done
	c.logger.Info("WebSocket client disconnected")
}

func (s *Server) read(c *client) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.WithError(err).Info("WebSocket read error")
			}
			return
		}
		c.logger.WithField("message", string(data)).Debug("Received WebSocket message")

		if err := c.send(s.handle(data)); err != nil {
			c.logger.WithError(err).Warn("Failed to send reply")
		}
	}
}

// handle runs one command and builds its reply.
func (s *Server) handle(data []byte) Reply {
	var cmd Command
	if err := serde.UnmarshalJSON(data, &cmd); err != nil {
		return errorReply("", fmt.Errorf("malformed command: %w", err))
	}

	if cmd.Command == "state" {
		return Reply{Type: "state", Command: cmd.Command, State: s.state()}
	}
	if err := s.run(cmd); err != nil {
		return errorReply(cmd.Command, err)
	}
	return Reply{Type: "ack", Command: cmd.Command}
}

func (s *Server) run(cmd Command) error {
	switch cmd.Command {
	case "scan":
		filter := device.ServiceAll
		if cmd.Filter != "" {
			f, err := s.session.Catalog().ParseFilter(cmd.Filter)
			if err != nil {
				return err
			}
			filter = f
		}
		var timeout time.Duration
		if cmd.Timeout != "" {
			d, err := time.ParseDuration(cmd.Timeout)
			if err != nil {
				return fmt.Errorf("invalid timeout %q: %w", cmd.Timeout, err)
			}
			timeout = d
		}
		return s.session.StartScan(timeout, filter)
	case "stop":
		return s.session.StopScan()
	case "connect":
		if cmd.Device == "" {
			return errors.New("device is required")
		}
		return s.session.Connect(cmd.Device)
	case "disconnect":
		if cmd.Device == "" {
			return errors.New("device is required")
		}
		return s.session.Disconnect(cmd.Device)
	case "disconnect_all":
		return s.session.DisconnectAll()
	default:
		return fmt.Errorf("unknown command %q", cmd.Command)
	}
}

func errorReply(command string, err error) Reply {
	r := Reply{Type: "error", Command: command, Error: err.Error()}
	var serr *device.SessionError
	if errors.As(err, &serr) {
		r.Kind = string(serr.Kind)
	}
	return r
}

func (s *Server) state() *State {
	return &State{
		Adapter:  s.session.AdapterState(),
		Ready:    s.session.Ready(),
		Scanning: s.session.Scanning(),
		Devices:  s.session.Devices(),
		Stats:    s.session.Stats(),
	}
}

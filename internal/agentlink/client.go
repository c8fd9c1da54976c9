// Package agentlink maintains the WebSocket link to a remote JVM profiling
// agent. The agent is an opaque peer: beyond the subscribe command and the
// pushed sample events, its wire semantics are its own.
package agentlink

import (
	"encoding/json"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/flare-profiler/flare/internal/flarerr"
)

// subscribeCmd asks the agent to start pushing sample events.
const subscribeCmd = "subscribe_events"

// Event is one sample pushed by the agent.
type Event struct {
	// Time is the sample timestamp, unix milliseconds.
	Time int64 `json:"time"`
	// Metric names the sampled series (e.g. "cpu_time").
	Metric string `json:"metric"`
	// Value is the sampled value.
	Value float64 `json:"value"`
}

// Handler consumes agent events. Called from the link's reader goroutine;
// implementations do their own locking.
type Handler func(Event)

// Client is a live link to one agent.
type Client struct {
	addr   string
	conn   *websocket.Conn
	logger zerolog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once

	// done closes when the reader goroutine exits.
	done chan struct{}
}

// Dial establishes the WebSocket link to the agent at addr (host:port).
// The handshake is synchronous; there is no dial timeout beyond the
// transport's own.
func Dial(addr string, logger zerolog.Logger) (*Client, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/"}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, flarerr.Wrap(flarerr.KindTransport, err, "cannot connect to agent "+addr)
	}

	return &Client{
		addr:   addr,
		conn:   conn,
		logger: logger.With().Str("component", "agent_link").Str("agent_addr", addr).Logger(),
		done:   make(chan struct{}),
	}, nil
}

// Addr returns the agent address this client dialed.
func (c *Client) Addr() string {
	return c.addr
}

// Subscribe sends the subscribe command and spawns the reader goroutine
// delivering pushed events to handler. The subscription request itself is
// synchronous; event delivery is not.
func (c *Client) Subscribe(handler Handler) error {
	if err := c.send(map[string]string{"cmd": subscribeCmd}); err != nil {
		return flarerr.Wrap(flarerr.KindTransport, err, "cannot subscribe to agent events")
	}

	go c.readLoop(handler)
	return nil
}

// readLoop reads pushed events until the link drops.
func (c *Client) readLoop(handler Handler) {
	defer close(c.done)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logger.Debug().Err(err).Msg("Agent event stream ended")
			return
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Warn().Err(err).Msg("Discarding malformed agent event")
			continue
		}
		if ev.Metric == "" {
			continue
		}
		handler(ev)
	}
}

func (c *Client) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// Done returns a channel that closes when the event stream ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close tears the link down. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// Package conn owns the lifecycle of the one persistent duplex connection
// per authenticated identity: dial with identity-specific credentials,
// synchronous in-order frame dispatch, and reconnect with a fixed delay
// until an explicit teardown.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/merchantdesk/chatsync/internal/identity"
	"github.com/merchantdesk/chatsync/internal/wire"
	"go.uber.org/zap"
)

// DefaultReconnectDelay is the fixed pause between a close and the next
// connection attempt.
const DefaultReconnectDelay = 3000 * time.Millisecond

// Handler consumes parsed inbound events. Dispatch is synchronous and
// preserves arrival order: the read loop does not touch the transport again
// until HandleFrame returns.
type Handler interface {
	HandleFrame(evt any)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(evt any)

// HandleFrame implements Handler.
func (f HandlerFunc) HandleFrame(evt any) { f(evt) }

// Options tunes the manager. The zero value uses the defaults.
type Options struct {
	ReconnectDelay time.Duration
}

// Manager maintains the connection for one identity.
type Manager struct {
	baseURL string
	handler Handler
	machine *Machine
	logger  *zap.Logger
	delay   time.Duration

	mu      sync.Mutex
	id      identity.Identity
	creds   identity.Credentials
	ws      *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewManager creates a manager dialing the given base URL. The machine is
// shared so observers can watch conn.status_changed on the bus.
func NewManager(baseURL string, machine *Machine, h Handler, logger *zap.Logger, opts Options) *Manager {
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	return &Manager{
		baseURL: baseURL,
		handler: h,
		machine: machine,
		logger:  logger,
		delay:   delay,
	}
}

// Connect establishes the transport for the given identity. Calling it
// again with the same identity and credentials while the manager runs is a
// no-op; with different ones, the previous transport is torn down first, so
// there is never more than one connection per manager.
func (m *Manager) Connect(ctx context.Context, id identity.Identity, creds identity.Credentials) error {
	m.mu.Lock()
	if m.running && m.id == id && m.creds == creds {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	m.Teardown()

	if _, err := creds.WebSocketURL(m.baseURL, id); err != nil {
		return fmt.Errorf("build connection url: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	m.mu.Lock()
	m.id = id
	m.creds = creds
	m.cancel = cancel
	m.done = done
	m.running = true
	m.mu.Unlock()

	go m.run(runCtx, id, creds, done)
	return nil
}

// Teardown closes the transport and cancels any pending scheduled
// reconnect. No events are dispatched after it returns. Safe to call when
// not connected.
func (m *Manager) Teardown() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	ws := m.ws
	m.mu.Unlock()

	cancel()
	if ws != nil {
		_ = ws.Close(websocket.StatusNormalClosure, "teardown")
	}
	<-done
}

// Send marshals a command and writes it as one text frame.
func (m *Manager) Send(ctx context.Context, cmd any) error {
	m.mu.Lock()
	ws := m.ws
	m.mu.Unlock()

	if ws == nil {
		return fmt.Errorf("not connected")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	return ws.Write(ctx, websocket.MessageText, data)
}

// State returns the current connection state.
func (m *Manager) State() State {
	return m.machine.Current()
}

// Connected reports whether the transport is currently open.
func (m *Manager) Connected() bool {
	return m.machine.Current() == Connected
}

// run is the single connect/read/reconnect loop. It exits only on teardown.
func (m *Manager) run(ctx context.Context, id identity.Identity, creds identity.Credentials, done chan struct{}) {
	defer close(done)

	for {
		_ = m.machine.Transition(Connecting)

		url, err := creds.WebSocketURL(m.baseURL, id)
		if err != nil {
			// Validated in Connect; a failure here means the base URL
			// changed underneath us, which cannot happen.
			m.logger.Error("connection url", zap.Error(err))
			_ = m.machine.Transition(Disconnected)
			return
		}

		ws, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			if ctx.Err() == nil {
				m.logger.Warn("dial failed", zap.Error(err))
			}
			_ = m.machine.Transition(Disconnected)
		} else {
			m.mu.Lock()
			m.ws = ws
			m.mu.Unlock()

			_ = m.machine.Transition(Connected)
			m.logger.Info("connected", zap.String("identity", id.ID))

			m.readLoop(ctx, ws)

			m.mu.Lock()
			m.ws = nil
			m.mu.Unlock()
			_ = ws.CloseNow()
			_ = m.machine.Transition(Disconnected)
		}

		// Exactly one reconnect attempt is scheduled per close, at a
		// fixed delay, forever, until teardown cancels the context.
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.delay):
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				m.logger.Warn("connection closed", zap.Error(err))
			}
			return
		}

		evt, err := wire.ParseFrame(data)
		if err != nil {
			if errors.Is(err, wire.ErrUnknownType) {
				m.logger.Debug("ignoring frame", zap.Error(err))
			} else {
				m.logger.Error("dropping malformed frame", zap.Error(err))
			}
			continue
		}

		if ctx.Err() != nil {
			return
		}
		m.handler.HandleFrame(evt)
	}
}

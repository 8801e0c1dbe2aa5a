package presence

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// DefaultPort is the standard XMPP client port.
const DefaultPort = 5222

// RosterGroup labels contacts added by Send.
const RosterGroup = "NotificationRecipients"

// Params are the connection parameters of a session. A nil password is
// distinct from an empty one: a session without a password never connects.
type Params struct {
	Server   string
	Login    string
	Password *string
	Port     int
}

// Configured reports whether the parameters are enough to connect.
func (p Params) Configured() bool {
	return strings.TrimSpace(p.Server) != "" && strings.TrimSpace(p.Login) != "" && p.Password != nil
}

func (p Params) port() int {
	if p.Port <= 0 {
		return DefaultPort
	}
	return p.Port
}

// Address is host:port of the server.
func (p Params) Address() string {
	return fmt.Sprintf("%s:%d", p.Server, p.port())
}

func (p Params) String() string {
	return fmt.Sprintf("%s@%s", p.Login, p.Address())
}

type sessionKey struct {
	server      string
	login       string
	password    string
	hasPassword bool
	port        int
}

func (p Params) key() sessionKey {
	k := sessionKey{server: p.Server, login: p.Login, port: p.port()}
	if p.Password != nil {
		k.password = *p.Password
		k.hasPassword = true
	}
	return k
}

// Presence is what the remote roster reports for a contact.
type Presence struct {
	Available bool
	Show      string // "", chat, away, xa, dnd
}

// State maps a roster presence to a State.
func (p Presence) State() State {
	if !p.Available {
		return Offline
	}
	switch p.Show {
	case "", "chat":
		return Online
	case "dnd":
		return Busy
	case "away":
		return Away
	case "xa":
		return AwayLong
	default:
		return Offline
	}
}

// rank orders available presences, most reachable first. Unavailable
// presences rank lowest.
func (p Presence) rank() int {
	if !p.Available {
		return 0
	}
	switch p.Show {
	case "", "chat":
		return 5
	case "away":
		return 4
	case "xa":
		return 3
	case "dnd":
		return 2
	default:
		return 1
	}
}

// Conn is the transport beneath a Gateway.
type Conn interface {
	Connect(ctx context.Context) error
	Login(ctx context.Context) error
	// Connected and Authenticated report the live transport state.
	Connected() bool
	Authenticated() bool
	Presence(bare string) (Presence, bool)
	InRoster(bare string) bool
	AddContact(ctx context.Context, bare, name, group string) error
	Send(ctx context.Context, address, text string) error
	Close() error
}

// DropNotifier is implemented by transports that can lose their stream
// outside of any call.
type DropNotifier interface {
	OnDrop(fn func())
}

// InboundHandler answers an inbound chat message. A non-empty reply is
// sent back to the sender.
type InboundHandler func(ctx context.Context, from, body string) string

// SessionState is the handshake state of a Gateway.
type SessionState int

const (
	Disconnected SessionState = iota
	Connecting
	Connected
	Authenticated
)

func (s SessionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Authenticated:
		return "authenticated"
	default:
		return "disconnected"
	}
}

// StateObserver is told about every handshake transition.
type StateObserver func(p Params, s SessionState)

// Gateway is one session to the messaging service, shared by every caller
// using the same Params.
type Gateway struct {
	params   Params
	conn     Conn
	logger   *slog.Logger
	limiter  *rate.Limiter
	observer StateObserver

	mu         sync.Mutex // serializes connect and authenticate
	connecting atomic.Bool
}

func newGateway(p Params, conn Conn, limiter *rate.Limiter, observer StateObserver, logger *slog.Logger) *Gateway {
	g := &Gateway{
		params:   p,
		conn:     conn,
		logger:   logger.With("session", p.String()),
		limiter:  limiter,
		observer: observer,
	}
	if dn, ok := conn.(DropNotifier); ok {
		dn.OnDrop(func() {
			g.logger.Warn("XMPP session dropped")
			g.notify(Disconnected)
		})
	}
	return g
}

func (g *Gateway) Params() Params {
	return g.params
}

func (g *Gateway) notify(s SessionState) {
	if g.observer != nil {
		g.observer(g.params, s)
	}
}

// Connected re-evaluates the transport.
func (g *Gateway) Connected() bool {
	return g.conn.Connected()
}

func (g *Gateway) Authenticated() bool {
	return g.conn.Connected() && g.conn.Authenticated()
}

// State reports the current handshake state.
func (g *Gateway) State() SessionState {
	switch {
	case g.connecting.Load():
		return Connecting
	case g.Authenticated():
		return Authenticated
	case g.Connected():
		return Connected
	default:
		return Disconnected
	}
}

// Connect opens the transport. It does nothing when already connected or
// when the parameters are incomplete.
func (g *Gateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connectLocked(ctx)
}

func (g *Gateway) connectLocked(ctx context.Context) error {
	if g.conn.Connected() {
		return nil
	}
	if !g.params.Configured() {
		return nil
	}
	if g.limiter != nil && !g.limiter.Allow() {
		return &ConnectionError{Op: "connect", Server: g.params.Address(), Err: ErrThrottled}
	}

	g.connecting.Store(true)
	g.notify(Connecting)
	err := g.conn.Connect(ctx)
	g.connecting.Store(false)
	if err != nil {
		g.notify(Disconnected)
		return &ConnectionError{Op: "connect", Server: g.params.Address(), Err: err}
	}
	g.logger.InfoContext(ctx, "Connected to XMPP server")
	g.notify(Connected)
	return nil
}

// Authenticate logs in. A credential failure is logged and leaves the
// session connected but unauthenticated.
func (g *Gateway) Authenticate(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.authenticateLocked(ctx)
}

func (g *Gateway) authenticateLocked(ctx context.Context) error {
	if !g.conn.Connected() {
		return &ConnectionError{Op: "authenticate", Server: g.params.Address(), Err: ErrNotConnected}
	}
	if g.conn.Authenticated() {
		return nil
	}
	if err := g.conn.Login(ctx); err != nil {
		g.logger.ErrorContext(ctx, "XMPP authentication failed", "error", err)
		if !g.conn.Connected() {
			g.notify(Disconnected)
		}
		return nil
	}
	g.logger.InfoContext(ctx, "Authenticated to XMPP server")
	g.notify(Authenticated)
	return nil
}

// ensure brings the session up as far as it can go in one attempt and
// reports whether it is authenticated.
func (g *Gateway) ensure(ctx context.Context) bool {
	if g.Authenticated() {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.connectLocked(ctx); err != nil {
		g.logger.WarnContext(ctx, "XMPP connect failed", "error", err)
		return false
	}
	if !g.conn.Connected() {
		return false
	}
	if err := g.authenticateLocked(ctx); err != nil {
		g.logger.WarnContext(ctx, "XMPP authenticate failed", "error", err)
		return false
	}
	return g.conn.Authenticated()
}

// Status returns the presence of address, or Offline whenever it cannot be
// determined.
func (g *Gateway) Status(ctx context.Context, address string) State {
	if !g.ensure(ctx) {
		return Offline
	}
	bare := BareAddress(address)
	p, ok := g.conn.Presence(bare)
	if !ok {
		g.logger.DebugContext(ctx, "No presence known for contact", "address", bare)
		return Offline
	}
	return p.State()
}

// Send delivers text to address, adding it to the roster first when needed.
// It reports whether the message was handed to the transport.
func (g *Gateway) Send(ctx context.Context, address, text string) bool {
	if !g.conn.Connected() {
		g.logger.DebugContext(ctx, "Not connected, message dropped", "address", address)
		return false
	}
	bare := BareAddress(address)
	if !g.conn.InRoster(bare) {
		if err := g.conn.AddContact(ctx, bare, bare, RosterGroup); err != nil {
			g.logger.ErrorContext(ctx, "Failed to add contact", "address", bare, "error", err)
		}
	}
	if err := g.conn.Send(ctx, address, text); err != nil {
		g.logger.ErrorContext(ctx, "Failed to send XMPP message", "address", address, "error", err)
		return false
	}
	return true
}

// Close tears the session down.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	err := g.conn.Close()
	g.notify(Disconnected)
	return err
}

// BareAddress strips the resource from an address and lowercases it.
func BareAddress(address string) string {
	address = strings.TrimSpace(address)
	if i := strings.IndexByte(address, '/'); i >= 0 {
		address = address[:i]
	}
	return strings.ToLower(address)
}

package presence

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Dialer creates the transport of a new session.
type Dialer func(p Params, inbound InboundHandler, logger *slog.Logger) Conn

// FactoryOptions configure every session a Factory creates.
type FactoryOptions struct {
	Logger *slog.Logger
	Dial   Dialer
	// ReconnectInterval is the minimum time between connect attempts of one
	// session. Zero disables throttling.
	ReconnectInterval time.Duration
	Inbound           InboundHandler
	Observer          StateObserver
}

// Factory hands out one Gateway per distinct Params.
type Factory struct {
	opts FactoryOptions

	mu       sync.Mutex
	sessions map[sessionKey]*Gateway
}

func NewFactory(opts FactoryOptions) *Factory {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Dial == nil {
		opts.Dial = NewXMPPDialer(XMPPConfig{})
	}
	return &Factory{opts: opts, sessions: map[sessionKey]*Gateway{}}
}

// Session returns the gateway for p, creating it on first use.
func (f *Factory) Session(p Params) *Gateway {
	if p.Port <= 0 {
		p.Port = DefaultPort
	}
	key := p.key()

	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.sessions[key]; ok {
		return g
	}
	var limiter *rate.Limiter
	if f.opts.ReconnectInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(f.opts.ReconnectInterval), 1)
	}
	logger := f.opts.Logger
	g := newGateway(p, f.opts.Dial(p, f.opts.Inbound, logger), limiter, f.opts.Observer, logger)
	f.sessions[key] = g
	logger.Debug("Created XMPP session", "session", p.String())
	return g
}

// Len is the number of sessions.
func (f *Factory) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// Close closes and forgets every session.
func (f *Factory) Close() error {
	f.mu.Lock()
	sessions := f.sessions
	f.sessions = map[sessionKey]*Gateway{}
	f.mu.Unlock()

	var errs []error
	for _, g := range sessions {
		if err := g.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

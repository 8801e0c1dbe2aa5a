package presence

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xmppo/go-xmpp"
)

// XMPPConfig tunes the XMPP transport.
type XMPPConfig struct {
	// DirectTLS dials TLS immediately instead of upgrading with STARTTLS.
	DirectTLS          bool
	InsecureSkipVerify bool
	Resource           string
	DialTimeout        time.Duration
	Debug              bool
}

// NewXMPPDialer returns a Dialer producing XMPP transports.
func NewXMPPDialer(cfg XMPPConfig) Dialer {
	if cfg.Resource == "" {
		cfg.Resource = "notifier"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return func(p Params, inbound InboundHandler, logger *slog.Logger) Conn {
		return &xmppConn{
			cfg:      cfg,
			params:   p,
			inbound:  inbound,
			logger:   logger.With("transport", "xmpp"),
			presence: map[string]map[string]Presence{},
			roster:   map[string]bool{},
		}
	}
}

// xmppConn is a Conn over github.com/xmppo/go-xmpp. The library dials and
// authenticates in one call, so Connect only checks that the server is
// reachable and Login opens the real stream.
type xmppConn struct {
	cfg     XMPPConfig
	params  Params
	inbound InboundHandler
	logger  *slog.Logger

	mu        sync.RWMutex
	reachable bool
	client    *xmpp.Client
	presence  map[string]map[string]Presence // bare -> resource -> presence
	roster    map[string]bool
	onDrop    func()

	writeMu sync.Mutex
}

func (c *xmppConn) user() string {
	if strings.Contains(c.params.Login, "@") {
		return c.params.Login
	}
	return c.params.Login + "@" + c.params.Server
}

func (c *xmppConn) Connect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.params.Address())
	if err != nil {
		return err
	}
	_ = conn.Close()

	c.mu.Lock()
	c.reachable = true
	c.mu.Unlock()
	return nil
}

func (c *xmppConn) Login(ctx context.Context) error {
	if c.params.Password == nil {
		return errors.New("no password")
	}
	opts := xmpp.Options{
		Host:     c.params.Address(),
		User:     c.user(),
		Password: *c.params.Password,
		Resource: c.cfg.Resource,
		NoTLS:    !c.cfg.DirectTLS,
		StartTLS: !c.cfg.DirectTLS,
		TLSConfig: &tls.Config{
			ServerName:         c.params.Server,
			InsecureSkipVerify: c.cfg.InsecureSkipVerify,
		},
		Session: true,
		Debug:   c.cfg.Debug,
	}
	client, err := opts.NewClient()
	if err != nil {
		if isNetworkError(err) {
			c.mu.Lock()
			c.reachable = false
			c.mu.Unlock()
		}
		return err
	}

	c.mu.Lock()
	c.client = client
	c.presence = map[string]map[string]Presence{}
	c.roster = map[string]bool{}
	c.mu.Unlock()

	go c.readLoop(client)

	if err := client.Roster(); err != nil {
		c.logger.WarnContext(ctx, "Roster request failed", "error", err)
	}
	if _, err := c.write(client, "<presence/>"); err != nil {
		c.logger.WarnContext(ctx, "Initial presence failed", "error", err)
	}
	return nil
}

func (c *xmppConn) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reachable
}

func (c *xmppConn) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reachable && c.client != nil
}

// Presence combines the resources of bare and returns the most available
// one.
func (c *xmppConn) Presence(bare string) (Presence, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	resources, ok := c.presence[bare]
	if !ok {
		// On the roster with no presence received yet means unavailable.
		return Presence{}, c.roster[bare]
	}
	var best Presence
	for _, p := range resources {
		if p.rank() > best.rank() {
			best = p
		}
	}
	return best, true
}

func (c *xmppConn) InRoster(bare string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roster[bare]
}

func (c *xmppConn) AddContact(ctx context.Context, bare, name, group string) error {
	client := c.current()
	if client == nil {
		return ErrNotConnected
	}
	iq := fmt.Sprintf("<iq type='set' id='%s'><query xmlns='jabber:iq:roster'><item jid='%s' name='%s'><group>%s</group></item></query></iq>",
		uuid.NewString(), escape(bare), escape(name), escape(group))
	if _, err := c.write(client, iq); err != nil {
		return err
	}
	if _, err := c.write(client, fmt.Sprintf("<presence to='%s' type='subscribe'/>", escape(bare))); err != nil {
		return err
	}
	c.mu.Lock()
	c.roster[bare] = true
	c.mu.Unlock()
	c.logger.InfoContext(ctx, "Added contact", "address", bare, "group", group)
	return nil
}

func (c *xmppConn) Send(ctx context.Context, address, text string) error {
	client := c.current()
	if client == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := client.Send(xmpp.Chat{Remote: address, Type: "chat", Text: text})
	if err != nil {
		c.drop(client, err)
	}
	return err
}

func (c *xmppConn) Close() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.reachable = false
	c.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}

func (c *xmppConn) current() *xmpp.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

func (c *xmppConn) write(client *xmpp.Client, raw string) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	n, err := client.SendOrg(raw)
	if err != nil {
		c.drop(client, err)
	}
	return n, err
}

func (c *xmppConn) OnDrop(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDrop = fn
}

// drop forgets client after a transport failure.
func (c *xmppConn) drop(client *xmpp.Client, err error) {
	if !isNetworkError(err) {
		return
	}
	c.forget(client)
}

// forget clears client unless it was already replaced by a newer login,
// and reports the loss.
func (c *xmppConn) forget(client *xmpp.Client) {
	c.mu.Lock()
	dropped := client != nil && c.client == client
	if dropped {
		c.client = nil
		c.reachable = false
	}
	onDrop := c.onDrop
	c.mu.Unlock()
	if dropped && onDrop != nil {
		onDrop()
	}
}

func (c *xmppConn) readLoop(client *xmpp.Client) {
	ctx := context.Background()
	for {
		stanza, err := client.Recv()
		if err != nil {
			c.logger.WarnContext(ctx, "XMPP stream closed", "error", err)
			c.forget(client)
			return
		}
		switch s := stanza.(type) {
		case xmpp.Chat:
			c.handleChat(ctx, client, s)
		case xmpp.Presence:
			c.handlePresence(ctx, client, s)
		}
	}
}

func (c *xmppConn) handleChat(ctx context.Context, client *xmpp.Client, chat xmpp.Chat) {
	if chat.Type == "roster" {
		c.mu.Lock()
		for _, contact := range chat.Roster {
			c.roster[BareAddress(contact.Remote)] = true
		}
		c.mu.Unlock()
		return
	}
	if chat.Type == "error" || strings.TrimSpace(chat.Text) == "" || c.inbound == nil {
		return
	}
	reply := c.inbound(ctx, BareAddress(chat.Remote), chat.Text)
	if reply == "" {
		return
	}
	c.writeMu.Lock()
	_, err := client.Send(xmpp.Chat{Remote: chat.Remote, Type: "chat", Text: reply})
	c.writeMu.Unlock()
	if err != nil {
		c.logger.WarnContext(ctx, "Failed to reply", "address", chat.Remote, "error", err)
	}
}

func (c *xmppConn) handlePresence(ctx context.Context, client *xmpp.Client, p xmpp.Presence) {
	bare := BareAddress(p.From)
	resource := resourceOf(p.From)
	switch p.Type {
	case "", "available":
		c.mu.Lock()
		c.resources(bare)[resource] = Presence{Available: true, Show: strings.ToLower(strings.TrimSpace(p.Show))}
		c.mu.Unlock()
	case "unavailable":
		c.mu.Lock()
		resources := c.resources(bare)
		if resource == "" {
			// Without a resource the whole contact went away.
			clear(resources)
		} else {
			delete(resources, resource)
		}
		c.mu.Unlock()
	case "subscribe":
		if _, err := c.write(client, fmt.Sprintf("<presence to='%s' type='subscribed'/>", escape(bare))); err != nil {
			c.logger.WarnContext(ctx, "Failed to approve subscription", "address", bare, "error", err)
		}
	case "subscribed":
		c.mu.Lock()
		c.roster[bare] = true
		c.mu.Unlock()
	case "unsubscribed":
		c.mu.Lock()
		delete(c.roster, bare)
		delete(c.presence, bare)
		c.mu.Unlock()
	}
}

// resources returns the presence map of bare, creating it. Callers hold mu.
func (c *xmppConn) resources(bare string) map[string]Presence {
	r, ok := c.presence[bare]
	if !ok {
		r = map[string]Presence{}
		c.presence[bare] = r
	}
	return r
}

func resourceOf(address string) string {
	if i := strings.IndexByte(address, '/'); i >= 0 {
		return address[i+1:]
	}
	return ""
}

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

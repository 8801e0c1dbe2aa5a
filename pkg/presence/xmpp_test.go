package presence

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xmppo/go-xmpp"
)

func newTestXMPPConn(login string) *xmppConn {
	dial := NewXMPPDialer(XMPPConfig{})
	p := validParams()
	p.Login = login
	return dial(p, nil, testLogger()).(*xmppConn)
}

func TestXMPPUser(t *testing.T) {
	assert.Equal(t, "notifier@chat.example.com", newTestXMPPConn("notifier").user())
	assert.Equal(t, "bot@other.org", newTestXMPPConn("bot@other.org").user())
}

func TestXMPPRosterAndPresenceTracking(t *testing.T) {
	c := newTestXMPPConn("notifier")
	ctx := context.Background()

	c.handleChat(ctx, nil, xmpp.Chat{Type: "roster", Roster: xmpp.Roster{{Remote: "Alice@Example.com"}}})
	assert.True(t, c.InRoster("alice@example.com"))

	p, ok := c.Presence("alice@example.com")
	assert.True(t, ok)
	assert.Equal(t, Offline, p.State())

	c.handlePresence(ctx, nil, xmpp.Presence{From: "alice@example.com/pc", Show: "xa"})
	p, ok = c.Presence("alice@example.com")
	assert.True(t, ok)
	assert.Equal(t, AwayLong, p.State())

	c.handlePresence(ctx, nil, xmpp.Presence{From: "alice@example.com/pc", Type: "unavailable"})
	p, _ = c.Presence("alice@example.com")
	assert.Equal(t, Offline, p.State())

	c.handlePresence(ctx, nil, xmpp.Presence{From: "alice@example.com", Type: "unsubscribed"})
	_, ok = c.Presence("alice@example.com")
	assert.False(t, ok)
	assert.False(t, c.InRoster("alice@example.com"))
}

func TestXMPPNotConnected(t *testing.T) {
	c := newTestXMPPConn("notifier")
	assert.False(t, c.Connected())
	assert.False(t, c.Authenticated())
	assert.ErrorIs(t, c.Send(context.Background(), "a@b", "hi"), ErrNotConnected)
	assert.ErrorIs(t, c.AddContact(context.Background(), "a@b", "a@b", RosterGroup), ErrNotConnected)
	assert.NoError(t, c.Close())
}

func TestXMPPConnectChecksReachability(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skip("no loopback listener")
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	p := validParams()
	p.Server = "127.0.0.1"
	p.Port = addr.Port
	c := NewXMPPDialer(XMPPConfig{})(p, nil, testLogger()).(*xmppConn)

	assert.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.Connected())
	assert.False(t, c.Authenticated())
}

func TestEscape(t *testing.T) {
	assert.Equal(t, "a&amp;b&lt;c&#39;", escape("a&b<c'"))
}

func TestIsNetworkError(t *testing.T) {
	assert.True(t, isNetworkError(io.EOF))
	assert.True(t, isNetworkError(&net.OpError{Op: "read", Err: errors.New("reset")}))
	assert.False(t, isNetworkError(errors.New("auth failure")))
}

func TestXMPPPresenceAcrossResources(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		updates []xmpp.Presence
		want    State
	}{
		{
			name: "other resource still online",
			updates: []xmpp.Presence{
				{From: "alice@example.com/desktop"},
				{From: "alice@example.com/phone", Type: "unavailable"},
			},
			want: Online,
		},
		{
			name: "most available resource wins",
			updates: []xmpp.Presence{
				{From: "alice@example.com/desktop", Show: "dnd"},
				{From: "alice@example.com/phone", Show: "away"},
				{From: "alice@example.com/tablet", Show: "xa"},
			},
			want: Away,
		},
		{
			name: "best resource leaves",
			updates: []xmpp.Presence{
				{From: "alice@example.com/desktop"},
				{From: "alice@example.com/phone", Show: "dnd"},
				{From: "alice@example.com/desktop", Type: "unavailable"},
			},
			want: Busy,
		},
		{
			name: "bare unavailable clears every resource",
			updates: []xmpp.Presence{
				{From: "alice@example.com/desktop"},
				{From: "alice@example.com/phone", Show: "away"},
				{From: "alice@example.com", Type: "unavailable"},
			},
			want: Offline,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestXMPPConn("notifier")
			for _, p := range tt.updates {
				c.handlePresence(ctx, nil, p)
			}
			p, ok := c.Presence("alice@example.com")
			assert.True(t, ok)
			assert.Equal(t, tt.want, p.State())
		})
	}
}

func TestXMPPDropReportsOnce(t *testing.T) {
	c := newTestXMPPConn("notifier")
	drops := 0
	c.OnDrop(func() { drops++ })

	client := &xmpp.Client{}
	c.client = client
	c.reachable = true

	c.drop(client, errors.New("bad request"))
	assert.True(t, c.Authenticated())
	assert.Zero(t, drops)

	c.drop(client, io.EOF)
	assert.False(t, c.Connected())
	assert.Equal(t, 1, drops)

	c.forget(client)
	assert.Equal(t, 1, drops, "already forgotten")
}

package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mywio/im-notify/pkg/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
groups: [bots]
users:
  alice:
    properties:
      jabber: alice@chat.example.com
    groups: [devs]
  bob:
    groups: [devs, ops]
`

func TestParse(t *testing.T) {
	d, err := Parse([]byte(sample))
	require.NoError(t, err)
	ctx := context.Background()

	id, ok := d.FindIdentity(ctx, "alice")
	require.True(t, ok)
	assert.Equal(t, "alice", id.Name)
	_, ok = d.FindIdentity(ctx, "mallory")
	assert.False(t, ok)

	addr, ok := d.Property(ctx, id, "jabber")
	assert.True(t, ok)
	assert.Equal(t, "alice@chat.example.com", addr)
	_, ok = d.Property(ctx, &event.Identity{Name: "bob"}, "jabber")
	assert.False(t, ok)
	_, ok = d.Property(ctx, nil, "jabber")
	assert.False(t, ok)

	assert.True(t, d.HasGroup("bots"))
	assert.True(t, d.HasGroup("ops"))
	assert.False(t, d.HasGroup("admins"))

	member, err := d.IsMember(ctx, &event.Identity{Name: "bob"}, "ops")
	require.NoError(t, err)
	assert.True(t, member)
	member, err = d.IsMember(ctx, id, "ops")
	require.NoError(t, err)
	assert.False(t, member)
	_, err = d.IsMember(ctx, id, "admins")
	assert.Error(t, err)

	assert.Equal(t, []string{"alice", "bob"}, d.Users())
}

func TestLoadAndReload(t *testing.T) {
	d, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, d.Users())

	path := filepath.Join(t.TempDir(), "directory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	d, err = Load(path)
	require.NoError(t, err)
	assert.Len(t, d.Users(), 2)

	require.NoError(t, os.WriteFile(path, []byte("users:\n  carol: {}\n"), 0o600))
	require.NoError(t, d.Reload(path))
	assert.Equal(t, []string{"carol"}, d.Users())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	_, err = Parse([]byte("users: ["))
	assert.Error(t, err)
}

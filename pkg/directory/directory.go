// Package directory is a YAML-backed identity directory: users with
// properties (such as an XMPP address) and group memberships.
package directory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/mywio/im-notify/pkg/event"
	"gopkg.in/yaml.v3"
)

// File is the on-disk format.
//
//	groups: [devs, bots]
//	users:
//	  alice:
//	    properties: {jabber: alice@chat.example.com}
//	    groups: [devs]
type File struct {
	Groups []string        `yaml:"groups"`
	Users  map[string]User `yaml:"users"`
}

type User struct {
	Properties map[string]string `yaml:"properties"`
	Groups     []string          `yaml:"groups"`
}

// Directory answers identity, property and group questions.
type Directory struct {
	mu     sync.RWMutex
	users  map[string]User
	groups map[string]map[string]struct{} // group -> members
}

// New returns an empty directory.
func New() *Directory {
	d := &Directory{}
	d.replace(File{})
	return d
}

// Load reads a directory file. An empty path yields an empty directory.
func Load(path string) (*Directory, error) {
	d := New()
	if path == "" {
		return d, nil
	}
	if err := d.Reload(path); err != nil {
		return nil, err
	}
	return d, nil
}

// Parse builds a directory from YAML.
func Parse(data []byte) (*Directory, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse directory: %w", err)
	}
	d := &Directory{}
	d.replace(f)
	return d, nil
}

// Reload replaces the contents with the file at path.
func (d *Directory) Reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read directory %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse directory %s: %w", path, err)
	}
	d.replace(f)
	return nil
}

func (d *Directory) replace(f File) {
	users := map[string]User{}
	groups := map[string]map[string]struct{}{}
	for _, g := range f.Groups {
		if g = strings.TrimSpace(g); g != "" {
			groups[g] = map[string]struct{}{}
		}
	}
	for name, u := range f.Users {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		users[name] = u
		for _, g := range u.Groups {
			g = strings.TrimSpace(g)
			if g == "" {
				continue
			}
			if groups[g] == nil {
				groups[g] = map[string]struct{}{}
			}
			groups[g][name] = struct{}{}
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.users = users
	d.groups = groups
}

func (d *Directory) FindIdentity(ctx context.Context, name string) (*event.Identity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.users[name]; !ok {
		return nil, false
	}
	return &event.Identity{Name: name}, true
}

func (d *Directory) Property(ctx context.Context, id *event.Identity, key string) (string, bool) {
	if id == nil {
		return "", false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id.Name]
	if !ok {
		return "", false
	}
	v, ok := u.Properties[key]
	return v, ok
}

func (d *Directory) HasGroup(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.groups[name]
	return ok
}

func (d *Directory) IsMember(ctx context.Context, id *event.Identity, group string) (bool, error) {
	if id == nil {
		return false, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	members, ok := d.groups[group]
	if !ok {
		return false, fmt.Errorf("unknown group %q", group)
	}
	_, member := members[id.Name]
	return member, nil
}

// Users lists user names, sorted.
func (d *Directory) Users() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.users))
	for name := range d.users {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Package profile resolves the session's own identity and caches the
// contact and dialog lists the daemon reports. The session consults
// CurrentUserID on every classification, so reads are cheap copies behind a
// read lock.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/codefionn/botschafter/internal/logger"
)

// Caller performs one command round-trip against the daemon. The connection
// pool implements it.
type Caller interface {
	Call(ctx context.Context, command string, args map[string]interface{}) (map[string]interface{}, error)
}

// User is one known peer.
type User struct {
	PeerID    int64
	FirstName string
	LastName  string
	Username  string
}

// Chat is one known dialog.
type Chat struct {
	PeerID int64
	Title  string
}

// Cache is the default profile collaborator.
type Cache struct {
	caller Caller
	log    *logger.Logger

	mu       sync.RWMutex
	self     User
	contacts map[int64]User
	dialogs  map[int64]Chat
}

// New creates an empty cache over the given caller.
func New(caller Caller, log *logger.Logger) *Cache {
	if log == nil {
		log = logger.Global().WithPrefix("profile")
	}
	return &Cache{
		caller:   caller,
		log:      log,
		contacts: make(map[int64]User),
		dialogs:  make(map[int64]Chat),
	}
}

// Refresh queries the daemon for the session's own user plus the contact and
// dialog lists. Identity is required; the lists are best effort.
func (c *Cache) Refresh(ctx context.Context) error {
	result, err := c.caller.Call(ctx, "user_info", nil)
	if err != nil {
		return fmt.Errorf("user_info: %w", err)
	}

	userObj, ok := result["user"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("user_info reply has no user object")
	}
	self, ok := userFrom(userObj)
	if !ok {
		return fmt.Errorf("user_info reply has no usable peer_id")
	}

	contacts := c.fetchContacts(ctx)
	dialogs := c.fetchDialogs(ctx)

	c.mu.Lock()
	c.self = self
	if contacts != nil {
		c.contacts = contacts
	}
	if dialogs != nil {
		c.dialogs = dialogs
	}
	c.mu.Unlock()

	c.log.Info("profile refreshed: peer_id=%d contacts=%d dialogs=%d",
		self.PeerID, len(contacts), len(dialogs))
	return nil
}

func (c *Cache) fetchContacts(ctx context.Context) map[int64]User {
	result, err := c.caller.Call(ctx, "contact_list", nil)
	if err != nil {
		c.log.Debug("contact_list failed: %v", err)
		return nil
	}

	raw, ok := result["contacts"].([]interface{})
	if !ok {
		return nil
	}

	contacts := make(map[int64]User, len(raw))
	for _, entry := range raw {
		obj, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		if u, ok := userFrom(obj); ok {
			contacts[u.PeerID] = u
		}
	}
	return contacts
}

func (c *Cache) fetchDialogs(ctx context.Context) map[int64]Chat {
	result, err := c.caller.Call(ctx, "dialog_list", nil)
	if err != nil {
		c.log.Debug("dialog_list failed: %v", err)
		return nil
	}

	raw, ok := result["dialogs"].([]interface{})
	if !ok {
		return nil
	}

	dialogs := make(map[int64]Chat, len(raw))
	for _, entry := range raw {
		obj, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		id, ok := asInt64(obj["peer_id"])
		if !ok {
			continue
		}
		title, _ := obj["title"].(string)
		dialogs[id] = Chat{PeerID: id, Title: title}
	}
	return dialogs
}

// CurrentUserID returns the session's own peer id, zero before Refresh.
func (c *Cache) CurrentUserID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self.PeerID
}

// Self returns the session's own user record.
func (c *Cache) Self() User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self
}

// Contact looks up one contact by peer id.
func (c *Cache) Contact(peerID int64) (User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.contacts[peerID]
	return u, ok
}

// Contacts returns all contacts ordered by peer id.
func (c *Cache) Contacts() []User {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]User, 0, len(c.contacts))
	for _, u := range c.contacts {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

// Dialogs returns all dialogs ordered by peer id.
func (c *Cache) Dialogs() []Chat {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Chat, 0, len(c.dialogs))
	for _, d := range c.dialogs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

func userFrom(obj map[string]interface{}) (User, bool) {
	id, ok := asInt64(obj["peer_id"])
	if !ok {
		return User{}, false
	}
	u := User{PeerID: id}
	u.FirstName, _ = obj["first_name"].(string)
	u.LastName, _ = obj["last_name"].(string)
	u.Username, _ = obj["username"].(string)
	return u, true
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		id, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return id, true
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

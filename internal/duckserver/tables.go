package duckserver

import (
	"fmt"

	"github.com/duckchat/duckchatd/internal/wire"
)

// User is a logged-in client, keyed by its canonical "host:port" address.
type User struct {
	Addr       string
	Name       string
	Channels   map[string]struct{}
	LastMinute int
}

func newUser(addr, name string) *User {
	return &User{
		Addr:     addr,
		Name:     name,
		Channels: make(map[string]struct{}),
	}
}

// Channel is a named message-delivery scope. Users is ordered by join time;
// entries are non-owning references into the user table.
type Channel struct {
	Name  string
	Users []*User
}

func newChannel(name string) *Channel {
	return &Channel{Name: name}
}

func (c *Channel) indexOf(addr string) int {
	for i, u := range c.Users {
		if u.Addr == addr {
			return i
		}
	}
	return -1
}

func (c *Channel) addUser(u *User) {
	if c.indexOf(u.Addr) >= 0 {
		return
	}
	c.Users = append(c.Users, u)
}

func (c *Channel) removeUser(addr string) {
	i := c.indexOf(addr)
	if i < 0 {
		return
	}
	c.Users = append(c.Users[:i], c.Users[i+1:]...)
}

// Neighbor is a configured adjacent server.
type Neighbor struct {
	Addr       string
	LastMinute int
}

func newNeighbor(addr string) *Neighbor {
	return &Neighbor{Addr: addr}
}

// RoutingEntry is the ordered list of neighbors this server knows to be
// subscribed to Channel — the federated sub-tree projected onto this server.
type RoutingEntry struct {
	Channel   string
	Neighbors []*Neighbor
}

func newRoutingEntry(channel string) *RoutingEntry {
	return &RoutingEntry{Channel: channel}
}

func (r *RoutingEntry) indexOf(addr string) int {
	for i, n := range r.Neighbors {
		if n.Addr == addr {
			return i
		}
	}
	return -1
}

func (r *RoutingEntry) addNeighbor(n *Neighbor) bool {
	if r.indexOf(n.Addr) >= 0 {
		return false
	}
	r.Neighbors = append(r.Neighbors, n)
	return true
}

func (r *RoutingEntry) removeNeighbor(addr string) bool {
	i := r.indexOf(addr)
	if i < 0 {
		return false
	}
	r.Neighbors = append(r.Neighbors[:i], r.Neighbors[i+1:]...)
	return true
}

// msgCache is the fixed-capacity ring buffer of recently-seen message IDs
// used to suppress duplicate floods and break loops in the S2S mesh.
type msgCache struct {
	ids  [wire.MsgqSize]uint64
	seen map[uint64]int // id -> slot index, for O(1) membership + eviction
	next int
	full bool
}

func newMsgCache() *msgCache {
	return &msgCache{seen: make(map[uint64]int, wire.MsgqSize)}
}

func (c *msgCache) contains(id uint64) bool {
	_, ok := c.seen[id]
	return ok
}

// insert adds id to the ring, evicting the oldest entry if the ring is full.
// Inserting an id already present is a no-op (it is already suppressing).
func (c *msgCache) insert(id uint64) {
	if c.contains(id) {
		return
	}
	if c.full {
		delete(c.seen, c.ids[c.next])
	}
	c.ids[c.next] = id
	c.seen[id] = c.next
	c.next = (c.next + 1) % wire.MsgqSize
	if c.next == 0 {
		c.full = true
	}
}

// tables bundles the five process-wide state tables, passed around as an
// explicit server context rather than held as package globals — this is
// what makes multi-instance testing tractable.
type tables struct {
	users     map[string]*User
	channels  map[string]*Channel
	neighbors map[string]*Neighbor
	routing   map[string]*RoutingEntry
	cache     *msgCache
}

func newTables() *tables {
	t := &tables{
		users:     make(map[string]*User),
		channels:  make(map[string]*Channel),
		neighbors: make(map[string]*Neighbor),
		routing:   make(map[string]*RoutingEntry),
		cache:     newMsgCache(),
	}
	t.channels[wire.DefaultChannel] = newChannel(wire.DefaultChannel)
	return t
}

// isLeaf reports whether this server is a leaf of channel's subscription
// tree: at most one subscribed neighbor and no local subscribers.
func (t *tables) isLeaf(channel string) bool {
	ch := t.channels[channel]
	if ch != nil && len(ch.Users) > 0 {
		return false
	}
	re := t.routing[channel]
	if re == nil {
		return true
	}
	return len(re.Neighbors) <= 1
}

// dropChannelIfEmpty deletes channel from the channel table when it has no
// local users and is not the permanent default channel. The routing table
// is untouched here — callers that also prune the routing tree do so
// explicitly.
func (t *tables) dropChannelIfEmpty(channel string) {
	if channel == wire.DefaultChannel {
		return
	}
	ch, ok := t.channels[channel]
	if !ok || len(ch.Users) > 0 {
		return
	}
	delete(t.channels, channel)
}

// addUserToChannel is the one place that adds a user to a channel,
// maintaining both halves of the back-reference invariant: the user's
// subscription set and the channel's user list.
func (t *tables) addUserToChannel(u *User, channel string) {
	u.Channels[channel] = struct{}{}
	ch, ok := t.channels[channel]
	if !ok {
		ch = newChannel(channel)
		t.channels[channel] = ch
	}
	ch.addUser(u)
}

// removeUserFromChannel is the inverse of addUserToChannel, and the one
// place that tears down both halves of the invariant atomically.
func (t *tables) removeUserFromChannel(u *User, channel string) {
	delete(u.Channels, channel)
	if ch, ok := t.channels[channel]; ok {
		ch.removeUser(u.Addr)
	}
}

// removeUser scrubs u from every channel it subscribed to, then deletes it
// from the user table.
func (t *tables) removeUser(addr string) {
	u, ok := t.users[addr]
	if !ok {
		return
	}
	for channel := range u.Channels {
		if ch, ok := t.channels[channel]; ok {
			ch.removeUser(addr)
		}
	}
	delete(t.users, addr)
}

// removeNeighbor scrubs n from every routing-table list, then deletes it
// from the neighbor table. Returns the channels whose routing entry lost a
// subscriber, so the caller can re-evaluate leaf status for each.
func (t *tables) removeNeighbor(addr string) []string {
	var touched []string
	for channel, re := range t.routing {
		if re.removeNeighbor(addr) {
			touched = append(touched, channel)
		}
	}
	delete(t.neighbors, addr)
	return touched
}

func (t *tables) String() string {
	return fmt.Sprintf("users=%d channels=%d neighbors=%d routing=%d",
		len(t.users), len(t.channels), len(t.neighbors), len(t.routing))
}

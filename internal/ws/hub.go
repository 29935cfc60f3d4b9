package ws

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/4xmen/qased/internal/push"
	"github.com/4xmen/qased/internal/store"
)

// Hub owns the presence registry and the per-conversation broadcast groups
// for this process. Every live connection is registered here exactly once;
// the personal room of a user is its presence entry.
type Hub struct {
	store           *store.Store
	notifier        *push.Notifier
	maxMessageRunes int

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex
	// user id -> that user's live connections (the implicit personal room)
	presence map[int]map[*Client]struct{}
	// conversation key -> joined connections
	rooms map[string]map[*Client]struct{}
}

func NewHub(st *store.Store, notifier *push.Notifier, maxMessageRunes int) *Hub {
	if maxMessageRunes <= 0 {
		maxMessageRunes = 1000
	}
	return &Hub{
		store:           st,
		notifier:        notifier,
		maxMessageRunes: maxMessageRunes,
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		presence:        make(map[int]map[*Client]struct{}),
		rooms:           make(map[string]map[*Client]struct{}),
	}
}

// RoomKeyFor returns the canonical conversation key for a user pair. The
// two ids are sorted first, so the key is order-independent.
func RoomKeyFor(userA, userB int) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return fmt.Sprintf("%d_%d", userA, userB)
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.handleRegister(client)
		case client := <-h.unregister:
			h.handleUnregister(client)
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	h.mu.Lock()
	set, ok := h.presence[client.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.presence[client.userID] = set
	}
	set[client] = struct{}{}
	first := len(set) == 1
	total := len(h.presence)
	h.mu.Unlock()

	log.Printf("ws: user %d connected conn=%s (online users: %d)", client.userID, client.id, total)

	// Snapshot of who is online, for the new connection only.
	client.enqueue(&onlineUsersEvent{Type: evtOnlineUsers, UserIDs: h.OnlineUserIDs()})

	if first {
		// Presence-store failures must not block the broadcast.
		if err := h.store.SetOnline(context.Background(), client.userID, true); err != nil {
			log.Printf("ws: failed to persist online status for user %d: %v", client.userID, err)
		}
		h.broadcastAll(&presenceChangedEvent{Type: evtPresenceChanged, UserID: client.userID, IsOnline: true}, client)
	}
}

func (h *Hub) handleUnregister(client *Client) {
	h.mu.Lock()
	set, ok := h.presence[client.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, member := set[client]; !member {
		h.mu.Unlock()
		return
	}

	// Remove room memberships before anything else can fan out to this
	// connection; the close happens under the same lock every sender
	// snapshots under.
	for key := range client.rooms {
		if room, ok := h.rooms[key]; ok {
			delete(room, client)
			if len(room) == 0 {
				delete(h.rooms, key)
			}
		}
	}
	delete(set, client)
	last := len(set) == 0
	if last {
		delete(h.presence, client.userID)
	}
	close(client.send)
	total := len(h.presence)
	h.mu.Unlock()

	log.Printf("ws: user %d disconnected conn=%s (online users: %d)", client.userID, client.id, total)

	if last {
		// Registry cleanup already happened; a failed durability write is
		// logged and swallowed.
		if err := h.store.SetOnline(context.Background(), client.userID, false); err != nil {
			log.Printf("ws: failed to persist offline status for user %d: %v", client.userID, err)
		}
		h.broadcastAll(&presenceChangedEvent{Type: evtPresenceChanged, UserID: client.userID, IsOnline: false}, nil)
	}
}

// Join adds a connection to a conversation room. Joining twice is a no-op.
// Keys naming a pair the connection's user is not part of are ignored.
func (h *Hub) Join(client *Client, conversationKey string) {
	if !keyContains(conversationKey, client.userID) {
		log.Printf("ws: user %d tried to join foreign room %q", client.userID, conversationKey)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// A connection that already unregistered must not rejoin a room.
	set, registered := h.presence[client.userID]
	if !registered {
		return
	}
	if _, member := set[client]; !member {
		return
	}
	room, ok := h.rooms[conversationKey]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[conversationKey] = room
	}
	room[client] = struct{}{}
	client.rooms[conversationKey] = struct{}{}
}

// Leave removes a connection from a conversation room; idempotent.
func (h *Hub) Leave(client *Client, conversationKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, ok := h.rooms[conversationKey]; ok {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, conversationKey)
		}
	}
	delete(client.rooms, conversationKey)
}

// IsUserOnline reports whether the user has at least one live connection.
func (h *Hub) IsUserOnline(userID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.presence[userID]) > 0
}

// OnlineUserIDs is IsUserOnline's bulk form, sorted for stable output.
func (h *Hub) OnlineUserIDs() []int {
	h.mu.RLock()
	ids := make([]int, 0, len(h.presence))
	for id := range h.presence {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	sort.Ints(ids)
	return ids
}

// broadcastAll sends an event to every live connection except the one given.
func (h *Hub) broadcastAll(event interface{}, except *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.presence {
		for client := range set {
			if client == except {
				continue
			}
			client.enqueue(event)
		}
	}
}

// sendToUser delivers an event to a user's personal room: every live
// connection of that user. No-op when the user is offline.
func (h *Hub) sendToUser(userID int, event interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.presence[userID] {
		client.enqueue(event)
	}
}

// fanOutNewMessage emits one new-message event to the union of the
// conversation room and the receiver's personal room. A connection that is
// in both groups receives the event once.
func (h *Hub) fanOutNewMessage(conversationKey string, receiverID int, event interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := make(map[*Client]struct{})
	for client := range h.rooms[conversationKey] {
		delivered[client] = struct{}{}
	}
	for client := range h.presence[receiverID] {
		delivered[client] = struct{}{}
	}
	for client := range delivered {
		client.enqueue(event)
	}
}

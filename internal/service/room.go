package service

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/mentorlink/mentorlink-api/internal/dto"
)

const roomSeparator = "_"

// RoomKey derives the canonical room identifier for a pair of users: both ids
// sorted lexicographically and joined, so either participant computes the same
// key. User ids never contain the separator.
func RoomKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + roomSeparator + b
}

// chatHub tracks which clients are subscribed to which rooms. Every client is
// a permanent member of its personal room (keyed by its own user id) and at
// most one conversation room at a time: joining a new conversation prunes the
// previous membership so long-lived channels do not accumulate rooms.
type chatHub struct {
	mu    sync.RWMutex
	rooms map[string]map[*chatClient]struct{}
	log   zerolog.Logger
}

func newChatHub(log zerolog.Logger) *chatHub {
	return &chatHub{
		rooms: make(map[string]map[*chatClient]struct{}),
		log:   log,
	}
}

// register subscribes a freshly authenticated client to its personal room.
func (h *chatHub) register(client *chatClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.add(client, client.user.ID)
	h.log.Debug().Str("user_id", client.user.ID).Msg("chat client connected")
}

// joinRoom moves the client into a conversation room, leaving the previous
// conversation room if it was in one.
func (h *chatHub) joinRoom(client *chatClient, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client.activeRoom != "" && client.activeRoom != roomID {
		h.remove(client, client.activeRoom)
	}
	h.add(client, roomID)
	client.activeRoom = roomID
	h.log.Debug().Str("user_id", client.user.ID).Str("room_id", roomID).Msg("chat client joined room")
}

// unregister drops the client from every room it is a member of.
func (h *chatHub) unregister(client *chatClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for roomID := range client.rooms {
		h.remove(client, roomID)
	}
	client.activeRoom = ""
	h.log.Debug().Str("user_id", client.user.ID).Msg("chat client disconnected")
}

// broadcast delivers an event to every member of a room, optionally excluding
// one user (typing relays never echo back to the typist).
func (h *chatHub) broadcast(roomID string, envelope dto.ChatEnvelope, excludeUserID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[roomID] {
		if excludeUserID != "" && client.user.ID == excludeUserID {
			continue
		}
		select {
		case client.send <- envelope:
		default:
			h.log.Warn().Str("room_id", roomID).Str("user_id", client.user.ID).Msg("dropping chat event for slow client")
		}
	}
}

// add and remove assume h.mu is held. client.rooms is only touched under the
// hub lock.
func (h *chatHub) add(client *chatClient, roomID string) {
	if _, exists := h.rooms[roomID]; !exists {
		h.rooms[roomID] = make(map[*chatClient]struct{})
	}
	h.rooms[roomID][client] = struct{}{}
	client.rooms[roomID] = struct{}{}
}

func (h *chatHub) remove(client *chatClient, roomID string) {
	if clients, ok := h.rooms[roomID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.rooms, roomID)
		}
	}
	delete(client.rooms, roomID)
}

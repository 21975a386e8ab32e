package realtime

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testHub() *Hub {
	return NewHub(zap.NewNop().Sugar())
}

func drainFrame(t *testing.T, c *Client) *Envelope {
	t.Helper()
	select {
	case frame := <-c.Send:
		var envelope Envelope
		require.NoError(t, json.Unmarshal(frame, &envelope))
		return &envelope
	default:
		t.Fatal("expected a frame, send buffer empty")
		return nil
	}
}

func TestJoinRoomIdempotent(t *testing.T) {
	hub := testHub()
	client := newClient("c1", 1, "ala", nil)
	hub.Register(client)

	hub.JoinRoom(client, ChannelRoom(7))
	hub.JoinRoom(client, ChannelRoom(7))

	hub.EmitToRoom(ChannelRoom(7), EventNewMessage, map[string]uint{"id": 1})

	envelope := drainFrame(t, client)
	require.Equal(t, EventNewMessage, envelope.Event)

	// a double join must not produce a double delivery
	select {
	case <-client.Send:
		t.Fatal("received duplicate frame after repeated join")
	default:
	}
}

func TestEmitIsRoomScoped(t *testing.T) {
	hub := testHub()
	member := newClient("c1", 1, "ala", nil)
	outsider := newClient("c2", 2, "ola", nil)
	hub.Register(member)
	hub.Register(outsider)
	hub.JoinRoom(member, ChannelRoom(3))

	hub.EmitToRoom(ChannelRoom(3), EventNewMessage, map[string]string{"content": "hej"})

	require.Len(t, member.Send, 1)
	require.Len(t, outsider.Send, 0)
}

func TestEmitToUserReachesAllSessions(t *testing.T) {
	hub := testHub()
	laptop := newClient("c1", 5, "ala", nil)
	phone := newClient("c2", 5, "ala", nil)
	hub.Register(laptop)
	hub.Register(phone)
	hub.JoinRoom(laptop, UserRoom(5))
	hub.JoinRoom(phone, UserRoom(5))

	hub.EmitToUser(5, EventPrivateMessage, map[string]uint{"id": 9})

	require.Len(t, laptop.Send, 1)
	require.Len(t, phone.Send, 1)
}

func TestEmitToRoomExceptSkipsSender(t *testing.T) {
	hub := testHub()
	typer := newClient("c1", 1, "ala", nil)
	watcher := newClient("c2", 2, "ola", nil)
	hub.Register(typer)
	hub.Register(watcher)
	hub.JoinRoom(typer, ChannelRoom(4))
	hub.JoinRoom(watcher, ChannelRoom(4))

	hub.EmitToRoomExcept(ChannelRoom(4), typer, EventUserTyping, TypingUpdate{UserID: 1, IsTyping: true})

	require.Len(t, typer.Send, 0)
	envelope := drainFrame(t, watcher)
	require.Equal(t, EventUserTyping, envelope.Event)
}

func TestUnregisterCleansUpRooms(t *testing.T) {
	hub := testHub()
	client := newClient("c1", 1, "ala", nil)
	hub.Register(client)
	hub.JoinRoom(client, ChannelRoom(2))
	hub.JoinRoom(client, PresenceRoom)

	hub.Unregister(client)

	hub.mu.RLock()
	require.Empty(t, hub.rooms)
	require.Empty(t, hub.clients)
	hub.mu.RUnlock()

	// send channel is closed so the write pump can exit
	_, open := <-client.Send
	require.False(t, open)

	// joining after unregister must be a no-op, not a resurrection
	hub.JoinRoom(client, ChannelRoom(2))
	hub.mu.RLock()
	require.Empty(t, hub.rooms)
	hub.mu.RUnlock()
}

func TestEmitRacesDisconnect(t *testing.T) {
	hub := testHub()

	clients := make([]*Client, 500)
	for i := range clients {
		c := newClient(fmt.Sprintf("c%d", i), uint(i+1), "u", nil)
		clients[i] = c
		hub.Register(c)
		hub.JoinRoom(c, ChannelRoom(1))
	}

	// fan-out must never hit a Send channel that a concurrent disconnect
	// already closed
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			hub.EmitToRoom(ChannelRoom(1), EventNewMessage, map[string]int{"seq": i})
		}
	}()

	for _, c := range clients {
		hub.Unregister(c)
	}
	<-done

	hub.mu.RLock()
	require.Empty(t, hub.clients)
	hub.mu.RUnlock()
}

func TestSlowClientDoesNotBlockEmit(t *testing.T) {
	hub := testHub()
	client := newClient("c1", 1, "ala", nil)
	hub.Register(client)
	hub.JoinRoom(client, ChannelRoom(1))

	// fill the buffer; further emits must drop instead of blocking
	for i := 0; i < cap(client.Send)+10; i++ {
		hub.EmitToRoom(ChannelRoom(1), EventNewMessage, map[string]int{"seq": i})
	}

	require.Len(t, client.Send, cap(client.Send))
}

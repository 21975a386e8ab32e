package realtime

import (
	"fmt"
	"sync"
	"testing"

	"github.com/patry77/techniki-czatt/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recordedEvent struct {
	Room  string
	Event string
	Data  interface{}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingEmitter) EmitToRoom(room, event string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Room: room, Event: event, Data: data})
}

func (r *recordingEmitter) EmitToUser(userID uint, event string, data interface{}) {
	r.EmitToRoom(UserRoom(userID), event, data)
}

func (r *recordingEmitter) EmitToRoomExcept(room string, skip *Client, event string, data interface{}) {
	r.EmitToRoom(room, event, data)
}

func (r *recordingEmitter) all() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

func presenceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}))
	return db
}

func TestPresenceRefcount(t *testing.T) {
	db := presenceTestDB(t)
	user := models.User{Username: "ala", Email: "ala@example.com"}
	require.NoError(t, db.Create(&user).Error)

	emitter := &recordingEmitter{}
	tracker := NewPresenceTracker(db, emitter, zap.NewNop().Sugar())

	// two sessions, one broadcast
	tracker.Connected(user.ID, nil)
	tracker.Connected(user.ID, nil)
	require.True(t, tracker.Online(user.ID))
	require.Len(t, emitter.all(), 1)

	var loaded models.User
	require.NoError(t, db.First(&loaded, user.ID).Error)
	require.True(t, loaded.IsOnline)

	// closing one of two sessions keeps the user online
	tracker.Disconnected(user.ID)
	require.True(t, tracker.Online(user.ID))
	require.Len(t, emitter.all(), 1)
	require.NoError(t, db.First(&loaded, user.ID).Error)
	require.True(t, loaded.IsOnline)

	// the last disconnect flips the flag and stamps last seen
	tracker.Disconnected(user.ID)
	require.False(t, tracker.Online(user.ID))

	events := emitter.all()
	require.Len(t, events, 2)
	require.Equal(t, PresenceRoom, events[1].Room)
	require.Equal(t, EventUserStatusUpdate, events[1].Event)
	update := events[1].Data.(StatusUpdate)
	require.False(t, update.IsOnline)
	require.NotNil(t, update.LastSeen)

	require.NoError(t, db.First(&loaded, user.ID).Error)
	require.False(t, loaded.IsOnline)
	require.NotNil(t, loaded.LastSeen)
}

func TestStatusBroadcastSkipsOriginatingConnection(t *testing.T) {
	db := presenceTestDB(t)
	ala := models.User{Username: "ala", Email: "ala@example.com"}
	ola := models.User{Username: "ola", Email: "ola@example.com"}
	require.NoError(t, db.Create(&ala).Error)
	require.NoError(t, db.Create(&ola).Error)

	hub := NewHub(zap.NewNop().Sugar())
	tracker := NewPresenceTracker(db, hub, zap.NewNop().Sugar())

	watcher := newClient("c1", ola.ID, "ola", nil)
	hub.Register(watcher)
	hub.JoinRoom(watcher, PresenceRoom)

	joining := newClient("c2", ala.ID, "ala", nil)
	hub.Register(joining)
	hub.JoinRoom(joining, PresenceRoom)
	tracker.Connected(ala.ID, joining)

	// everyone else hears about the connect; the connection itself does not
	require.Len(t, watcher.Send, 1)
	require.Len(t, joining.Send, 0)

	envelope := drainFrame(t, watcher)
	require.Equal(t, EventUserStatusUpdate, envelope.Event)
}

func TestPresenceDisconnectWithoutConnect(t *testing.T) {
	db := presenceTestDB(t)
	user := models.User{Username: "ola", Email: "ola@example.com"}
	require.NoError(t, db.Create(&user).Error)

	emitter := &recordingEmitter{}
	tracker := NewPresenceTracker(db, emitter, zap.NewNop().Sugar())

	// a stray disconnect must not underflow the session count
	tracker.Disconnected(user.ID)
	tracker.Connected(user.ID, nil)
	require.True(t, tracker.Online(user.ID))
}

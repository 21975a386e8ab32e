package realtime

import (
	"sync"
	"time"

	"github.com/patry77/techniki-czatt/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// statusEmitter is the slice of the hub presence needs: a room broadcast
// that can exclude the connection which caused the change.
type statusEmitter interface {
	EmitToRoomExcept(room string, skip *Client, event string, data interface{})
}

// PresenceTracker owns the users' online flag and last-seen timestamp.
// Sessions are reference-counted per user, so closing one of several open
// tabs does not flip the user offline; only the last disconnect does.
type PresenceTracker struct {
	mu       sync.Mutex
	sessions map[uint]int

	db      *gorm.DB
	emitter statusEmitter
	log     *zap.SugaredLogger
}

func NewPresenceTracker(db *gorm.DB, emitter statusEmitter, log *zap.SugaredLogger) *PresenceTracker {
	return &PresenceTracker{
		sessions: map[uint]int{},
		db:       db,
		emitter:  emitter,
		log:      log,
	}
}

// Connected registers one more session for the user. The first session
// marks the user online and broadcasts the change to everyone except the
// connection itself; last-seen is untouched on connect.
func (p *PresenceTracker) Connected(userID uint, origin *Client) {
	p.mu.Lock()
	p.sessions[userID]++
	first := p.sessions[userID] == 1
	p.mu.Unlock()

	if !first {
		return
	}

	if err := p.db.Model(&models.User{}).Where("id = ?", userID).
		Update("is_online", true).Error; err != nil {
		p.log.Errorw("marking user online", "userID", userID, "error", err)
	}

	p.emitter.EmitToRoomExcept(PresenceRoom, origin, EventUserStatusUpdate, StatusUpdate{
		UserID:   userID,
		IsOnline: true,
	})
}

// Disconnected drops one session. When the count reaches zero the user goes
// offline, last-seen is stamped, and the change is broadcast.
func (p *PresenceTracker) Disconnected(userID uint) {
	p.mu.Lock()
	if p.sessions[userID] == 0 {
		p.mu.Unlock()
		return
	}
	p.sessions[userID]--
	last := p.sessions[userID] == 0
	if last {
		delete(p.sessions, userID)
	}
	p.mu.Unlock()

	if !last {
		return
	}

	now := time.Now()
	if err := p.db.Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{"is_online": false, "last_seen": now}).Error; err != nil {
		p.log.Errorw("marking user offline", "userID", userID, "error", err)
	}

	// the originating connection is already unregistered at this point
	p.emitter.EmitToRoomExcept(PresenceRoom, nil, EventUserStatusUpdate, StatusUpdate{
		UserID:   userID,
		IsOnline: false,
		LastSeen: &now,
	})
}

// Online reports whether the user has at least one live session.
func (p *PresenceTracker) Online(userID uint) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[userID] > 0
}

package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/patry77/techniki-czatt/models"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TypingExpiry is how long a typing indicator stays valid. There is no
// guaranteed "stopped typing" event, so clients expire stale indicators
// after this window and the Redis mirror keys share the same TTL.
const TypingExpiry = 3 * time.Second

// ReactionSink decouples the gateway from the reaction service (which fans
// out through the hub itself).
type ReactionSink interface {
	AddReaction(messageID uint, emoji string, actorID uint) error
}

// Gateway is the authenticated bidirectional event channel. A connection is
// Connecting until its handshake token verifies, Authenticated afterwards,
// and Disconnected once the read pump exits.
type Gateway struct {
	hub       *Hub
	presence  *PresenceTracker
	reactions ReactionSink
	db        *gorm.DB
	redis     *redis.Client
	log       *zap.SugaredLogger
	upgrader  websocket.Upgrader
}

func NewGateway(hub *Hub, presence *PresenceTracker, reactions ReactionSink, db *gorm.DB, rdb *redis.Client, log *zap.SugaredLogger) *Gateway {
	return &Gateway{
		hub:       hub,
		presence:  presence,
		reactions: reactions,
		db:        db,
		redis:     rdb,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// CORS is enforced at the HTTP layer
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type gatewayClaims struct {
	ID    uint   `json:"ID"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func parseAccessToken(token string) (*gatewayClaims, error) {
	claims := &gatewayClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Header["alg"])
		}
		return []byte(os.Getenv("ACCESS_TOKEN_SECRET")), nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.ID == 0 {
		return nil, fmt.Errorf("invalid access token")
	}
	return claims, nil
}

// ServeHTTP performs the handshake. Authentication happens exactly once
// here: a missing or invalid token rejects the connection with a reason
// before any event is processed.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := parseAccessToken(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var user models.User
	if err := g.db.First(&user, claims.ID).Error; err != nil {
		http.Error(w, "unknown user", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warnw("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(uuid.NewString(), user.ID, user.Username, conn)
	g.hub.Register(client)

	// Every session gets its personal room plus the presence room, then
	// every channel room it can see. This happens once per connection.
	g.hub.JoinRoom(client, UserRoom(user.ID))
	g.hub.JoinRoom(client, PresenceRoom)
	g.autoJoinChannels(client)

	g.presence.Connected(user.ID, client)
	g.log.Infow("client connected", "userID", user.ID, "connID", client.ID)

	go client.writePump()
	client.readPump(g)
}

func (g *Gateway) disconnect(c *Client) {
	g.hub.Unregister(c)
	g.presence.Disconnected(c.UserID)
	g.log.Infow("client disconnected", "userID", c.UserID, "connID", c.ID)
}

// autoJoinChannels resolves the user's visible channels (public ones plus
// private ones they belong to) and joins the matching rooms.
func (g *Gateway) autoJoinChannels(c *Client) {
	var channelIDs []uint
	err := g.db.Model(&models.Channel{}).
		Joins("LEFT JOIN channel_members ON channel_members.channel_id = channels.id AND channel_members.user_id = ?", c.UserID).
		Where("channels.is_private = ? OR channel_members.user_id IS NOT NULL", false).
		Distinct().
		Pluck("channels.id", &channelIDs).Error
	if err != nil {
		g.log.Errorw("resolving channels for auto-join", "userID", c.UserID, "error", err)
		return
	}
	for _, id := range channelIDs {
		g.hub.JoinRoom(c, ChannelRoom(id))
	}
}

type joinChannelPayload struct {
	ChannelID uint `json:"channelId"`
}

type joinChannelsPayload struct {
	ChannelIDs []uint `json:"channelIds"`
}

type typingPayload struct {
	ChannelID uint `json:"channelId"`
	IsTyping  bool `json:"isTyping"`
}

type privateTypingPayload struct {
	UserID   uint `json:"userId"`
	IsTyping bool `json:"isTyping"`
}

type addReactionPayload struct {
	MessageID uint   `json:"messageId"`
	Emoji     string `json:"emoji"`
	// Addressing hints sent by clients; the message row is authoritative.
	ChannelID     uint `json:"channelId,omitempty"`
	PrivateUserID uint `json:"privateUserId,omitempty"`
}

func (g *Gateway) dispatch(c *Client, envelope *Envelope) {
	switch envelope.Event {
	case ActionJoinChannel:
		var p joinChannelPayload
		if json.Unmarshal(envelope.Data, &p) == nil && p.ChannelID != 0 {
			g.hub.JoinRoom(c, ChannelRoom(p.ChannelID))
		}

	case ActionJoinChannels:
		var p joinChannelsPayload
		if json.Unmarshal(envelope.Data, &p) == nil {
			for _, id := range p.ChannelIDs {
				g.hub.JoinRoom(c, ChannelRoom(id))
			}
		}

	case ActionTyping:
		var p typingPayload
		if json.Unmarshal(envelope.Data, &p) != nil || p.ChannelID == 0 {
			return
		}
		g.hub.EmitToRoomExcept(ChannelRoom(p.ChannelID), c, EventUserTyping, TypingUpdate{
			UserID:    c.UserID,
			Username:  c.Username,
			ChannelID: p.ChannelID,
			IsTyping:  p.IsTyping,
		})
		g.mirrorTyping(typingKey(p.ChannelID, c.UserID), p.IsTyping)

	case ActionPrivateTyping:
		var p privateTypingPayload
		if json.Unmarshal(envelope.Data, &p) != nil || p.UserID == 0 {
			return
		}
		g.hub.EmitToUser(p.UserID, EventUserPrivateTyping, TypingUpdate{
			UserID:   c.UserID,
			Username: c.Username,
			IsTyping: p.IsTyping,
		})

	case ActionAddReaction:
		var p addReactionPayload
		if json.Unmarshal(envelope.Data, &p) != nil || p.MessageID == 0 || p.Emoji == "" {
			return
		}
		if err := g.reactions.AddReaction(p.MessageID, p.Emoji, c.UserID); err != nil {
			g.log.Warnw("adding reaction", "messageID", p.MessageID, "userID", c.UserID, "error", err)
		}

	case ActionSubscribePush:
		if len(envelope.Data) == 0 {
			return
		}
		if err := g.db.Model(&models.User{}).Where("id = ?", c.UserID).
			Update("push_subscription", datatypes.JSON(envelope.Data)).Error; err != nil {
			g.log.Warnw("saving push subscription", "userID", c.UserID, "error", err)
		}

	default:
		g.log.Debugw("unknown client event", "event", envelope.Event, "userID", c.UserID)
	}
}

// mirrorTyping keeps a short-lived Redis key per typing user so a freshly
// loaded client can ask who is typing right now. Best-effort only.
func (g *Gateway) mirrorTyping(key string, isTyping bool) {
	if g.redis == nil {
		return
	}
	ctx := context.Background()
	if isTyping {
		g.redis.Set(ctx, key, "1", TypingExpiry)
	} else {
		g.redis.Del(ctx, key)
	}
}

func typingKey(channelID, userID uint) string {
	return fmt.Sprintf("typing:chan:%d:user:%d", channelID, userID)
}

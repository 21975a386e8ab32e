package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/patry77/techniki-czatt/models"

	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type nopReactions struct{}

func (nopReactions) AddReaction(messageID uint, emoji string, actorID uint) error { return nil }

func gatewayTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.SetupJoinTable(&models.Channel{}, "Members", &models.ChannelMember{}))
	require.NoError(t, db.SetupJoinTable(&models.User{}, "Channels", &models.ChannelMember{}))
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Channel{}))
	return db
}

func newGatewayFixture(t *testing.T) (*Gateway, *Hub, *PresenceTracker, *gorm.DB, *httptest.Server) {
	t.Helper()
	os.Setenv("ACCESS_TOKEN_SECRET", "testsecret")

	db := gatewayTestDB(t)
	log := zap.NewNop().Sugar()
	hub := NewHub(log)
	presence := NewPresenceTracker(db, hub, log)
	gateway := NewGateway(hub, presence, nopReactions{}, db, nil, log)

	srv := httptest.NewServer(gateway)
	t.Cleanup(srv.Close)
	return gateway, hub, presence, db, srv
}

func signHandshakeToken(t *testing.T, id uint, email string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"ID":    id,
		"email": email,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte(os.Getenv("ACCESS_TOKEN_SECRET")))
	require.NoError(t, err)
	return signed
}

func wsAddr(srv *httptest.Server, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=" + token
}

func TestGatewayRejectsBadHandshake(t *testing.T) {
	_, _, _, db, srv := newGatewayFixture(t)

	// no token
	res, err := http.Get(srv.URL)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	// garbage token
	res, err = http.Get(srv.URL + "?token=notajwt")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	// valid signature, unknown user
	res, err = http.Get(srv.URL + "?token=" + signHandshakeToken(t, 999, "ghost@example.com"))
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	// the rejection happens before any upgrade: the dialer sees the 401
	_, dialRes, dialErr := websocket.DefaultDialer.Dial(wsAddr(srv, "notajwt"), nil)
	require.Error(t, dialErr)
	require.Equal(t, http.StatusUnauthorized, dialRes.StatusCode)

	var count int64
	require.NoError(t, db.Model(&models.User{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestGatewayAutoJoinsVisibleChannels(t *testing.T) {
	_, hub, presence, db, srv := newGatewayFixture(t)

	creator := models.User{Username: "ala", Email: "ala@example.com"}
	visitor := models.User{Username: "ola", Email: "ola@example.com"}
	require.NoError(t, db.Create(&creator).Error)
	require.NoError(t, db.Create(&visitor).Error)

	public := models.Channel{Name: "ogloszenia", CreatorID: creator.ID}
	private := models.Channel{Name: "tajny", CreatorID: creator.ID, IsPrivate: true}
	require.NoError(t, db.Create(&public).Error)
	require.NoError(t, db.Create(&private).Error)
	require.NoError(t, db.Create(&models.ChannelMember{ChannelID: public.ID, UserID: creator.ID}).Error)
	require.NoError(t, db.Create(&models.ChannelMember{ChannelID: private.ID, UserID: creator.ID}).Error)

	// the visitor is a member of nothing, yet the public channel is visible
	conn, _, err := websocket.DefaultDialer.Dial(wsAddr(srv, signHandshakeToken(t, visitor.ID, visitor.Email)), nil)
	require.NoError(t, err)
	defer conn.Close()

	// room joins happen on the server after the upgrade response
	require.Eventually(t, func() bool { return presence.Online(visitor.ID) },
		time.Second, 10*time.Millisecond)

	hub.EmitToRoom(ChannelRoom(public.ID), EventNewMessage, map[string]string{"content": "hej"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var envelope Envelope
	require.NoError(t, json.Unmarshal(frame, &envelope))
	require.Equal(t, EventNewMessage, envelope.Event)

	// the private channel of others stays out of reach
	hub.EmitToRoom(ChannelRoom(private.ID), EventNewMessage, map[string]string{"content": "sekret"})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
}

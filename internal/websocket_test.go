package internal_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/game-lobby/internal"
)

// wsFixture 端到端測試夾具：真實的 HTTP 服務器 + WebSocket 升級
type wsFixture struct {
	server *internal.GameServer
	hub    *internal.Hub
	ts     *httptest.Server
	room   *internal.Room
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	logger := newTestLogger()

	server := internal.NewGameServer(logger)
	room := internal.NewRoom("Heck", 20)
	server.Locked(func(s *internal.GameServer) {
		s.Rooms().AddRoom(room)
	})

	dispatcher := internal.NewDispatcher()
	internal.RegisterLobbyHandlers(dispatcher, logger)
	internal.RegisterChatHandlers(dispatcher, logger)

	hub := internal.NewHub(server, dispatcher, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	ts := httptest.NewServer(mux)

	t.Cleanup(func() {
		hub.Stop()
		ts.Close()
	})

	return &wsFixture{server: server, hub: hub, ts: ts, room: room}
}

// dial 建立一條客戶端連線
func (f *wsFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
	})
	return conn
}

// sendEnvelope 送出一個封包（文字 frame）
func sendEnvelope(t *testing.T, conn *websocket.Conn, messageType string, content any) {
	t.Helper()
	message, err := internal.NewClientMessage(messageType, content)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(message))
}

// readEnvelope 讀取下一個封包（2 秒超時）
func readEnvelope(t *testing.T, conn *websocket.Conn) internal.ClientMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var message internal.ClientMessage
	require.NoError(t, conn.ReadJSON(&message))
	return message
}

// TestWebSocket_GetRoomList 端到端的房間列表查詢
func TestWebSocket_GetRoomList(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)

	sendEnvelope(t, conn, "get-room-list", struct{}{})

	response := readEnvelope(t, conn)
	assert.Equal(t, "get-room-list-response", response.Type)

	var list internal.RoomListMessage
	require.NoError(t, response.DecodeContent(&list))
	require.Len(t, list.Rooms, 1)
	assert.Equal(t, "Heck", list.Rooms[0].Name)
	assert.Empty(t, list.Rooms[0].Players)
}

// TestWebSocket_JoinRoomFlow 端到端的加入流程與連線內順序
//
// 連續送 join-room、get-room-list 兩個 frame：
// 回應必須依序抵達（F1 調度完才調度 F2），且列表已反映加入結果。
func TestWebSocket_JoinRoomFlow(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)

	sendEnvelope(t, conn, "join-room", internal.JoinRoomMessage{Username: "foo", Room: f.room.ID})
	sendEnvelope(t, conn, "get-room-list", struct{}{})

	first := readEnvelope(t, conn)
	require.Equal(t, "join-room-response", first.Type)
	assert.JSONEq(t, `{}`, first.Content)

	second := readEnvelope(t, conn)
	require.Equal(t, "get-room-list-response", second.Type)

	var list internal.RoomListMessage
	require.NoError(t, second.DecodeContent(&list))
	require.Len(t, list.Rooms[0].Players, 1)
}

// TestWebSocket_RoomFull 端到端的容量邊界
func TestWebSocket_RoomFull(t *testing.T) {
	f := newWSFixture(t)

	// 把房間縮到容量 1
	small := internal.NewRoom("X", 1)
	f.server.Locked(func(s *internal.GameServer) {
		s.Rooms().AddRoom(small)
	})

	connA := f.dial(t)
	sendEnvelope(t, connA, "join-room", internal.JoinRoomMessage{Username: "a", Room: small.ID})
	require.Equal(t, "join-room-response", readEnvelope(t, connA).Type)

	connB := f.dial(t)
	sendEnvelope(t, connB, "join-room", internal.JoinRoomMessage{Username: "b", Room: small.ID})

	response := readEnvelope(t, connB)
	require.Equal(t, "join-room-fail", response.Type)

	var fail internal.JoinRoomFailMessage
	require.NoError(t, response.DecodeContent(&fail))
	assert.Equal(t, "Room is full!", fail.Reason)
}

// TestWebSocket_BinaryEcho 二進位 frame 原樣回傳
func TestWebSocket_BinaryEcho(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)

	payload := []byte{0x01, 0x02, 0xFF, 0x00, 0x42}
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, payload))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, messageType)
	assert.Equal(t, payload, data)
}

// TestWebSocket_MalformedFrameTolerated 壞 frame 不關連線
func TestWebSocket_MalformedFrameTolerated(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)

	// 不是 JSON 的文字 frame：記錄後忽略
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json at all")))

	// 連線仍然開著、仍然可用
	sendEnvelope(t, conn, "get-room-list", struct{}{})
	assert.Equal(t, "get-room-list-response", readEnvelope(t, conn).Type)
}

// TestWebSocket_UnknownTypeIgnored 未知訊息種類靜默忽略
func TestWebSocket_UnknownTypeIgnored(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)

	sendEnvelope(t, conn, "no-such-type", struct{}{})
	sendEnvelope(t, conn, "get-room-list", struct{}{})

	// 第一個回應就是房間列表：未知訊息沒有產生任何回應
	assert.Equal(t, "get-room-list-response", readEnvelope(t, conn).Type)
}

// TestWebSocket_DisconnectCleanup 斷線後的級聯清理
//
// 加入過房間的連線關閉後，session id 必須從房間成員與
// session 註冊表中消失；之後的列表絕不再列出它。
func TestWebSocket_DisconnectCleanup(t *testing.T) {
	f := newWSFixture(t)

	conn := f.dial(t)
	sendEnvelope(t, conn, "join-room", internal.JoinRoomMessage{Username: "foo", Room: f.room.ID})
	require.Equal(t, "join-room-response", readEnvelope(t, conn).Type)
	require.Len(t, f.server.RoomList()[0].Players, 1)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return len(f.server.RoomList()[0].Players) == 0
	}, 2*time.Second, 10*time.Millisecond, "斷線後房間成員應該被清理")

	// 之後的查詢（另一條連線）看到的是乾淨的房間
	other := f.dial(t)
	sendEnvelope(t, other, "get-room-list", struct{}{})
	var list internal.RoomListMessage
	require.NoError(t, readEnvelope(t, other).DecodeContent(&list))
	assert.Empty(t, list.Rooms[0].Players)
}

// TestWebSocket_PingPong ping 立即回 pong
func TestWebSocket_PingPong(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)

	pongCh := make(chan string, 1)
	conn.SetPongHandler(func(appData string) error {
		pongCh <- appData
		return nil
	})

	require.NoError(t, conn.WriteControl(websocket.PingMessage, []byte("probe"), time.Now().Add(time.Second)))

	// pong 是控制 frame，要靠讀取迴圈觸發 handler
	go func() {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, _ = conn.ReadMessage()
	}()

	select {
	case appData := <-pongCh:
		assert.Equal(t, "probe", appData)
	case <-time.After(2 * time.Second):
		t.Fatal("沒有收到 pong")
	}
}

// TestWebSocket_ChatPush 測試被動接收：沒有請求也會收到推送
//
// B 沒有送出任何請求，仍然收到 A 觸發的 chat-sent——
// 任何 session 的信箱都能被其他連線的調度投遞。
func TestWebSocket_ChatPush(t *testing.T) {
	f := newWSFixture(t)

	connA := f.dial(t)
	connB := f.dial(t)

	sendEnvelope(t, connA, "join-room", internal.JoinRoomMessage{Username: "foo", Room: f.room.ID})
	require.Equal(t, "join-room-response", readEnvelope(t, connA).Type)
	sendEnvelope(t, connB, "join-room", internal.JoinRoomMessage{Username: "bar", Room: f.room.ID})
	require.Equal(t, "join-room-response", readEnvelope(t, connB).Type)

	sendEnvelope(t, connA, "chat", internal.ChatSentMessage{Content: "hello"})

	response := readEnvelope(t, connB)
	require.Equal(t, "chat-sent", response.Type)

	var chat internal.ChatMessage
	require.NoError(t, response.DecodeContent(&chat))
	assert.Equal(t, "foo", chat.Username)
	assert.Equal(t, "hello", chat.Content)
}

// TestHub_Stop 關機時收斂所有連線
func TestHub_Stop(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)

	sendEnvelope(t, conn, "get-room-list", struct{}{})
	readEnvelope(t, conn)
	require.Equal(t, 1, f.hub.ConnectionCount())

	f.hub.Stop()

	// 服務器送出 close frame，客戶端讀取以錯誤（或 close）結束
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	assert.Equal(t, 0, f.hub.ConnectionCount())
}

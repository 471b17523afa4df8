package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   如何把 WebSocket frame 橋接到共享的協調器狀態，又不讓任何一條
//   慢連線拖垮其他連線？
//
// 核心挑戰：
//   1. 連線狀態機：Connecting → Open → Closing → Closed，每個轉換都有副作用
//   2. 入站順序：同一連線 frame N 調度完才能調度 frame N+1
//   3. 出站解耦：任何處理器（包含別的連線的調度）都能投遞訊息給這條連線，
//      寫 socket 由這條連線自己的 writePump 負責
//   4. 容錯：壞 frame 記錄後繼續，不關連線
//
// 設計方案：
//   ✅ 每連線兩個 goroutine - readPump 順序處理入站，writePump 獨立排空信箱
//   ✅ 緩衝 channel 信箱 - 非阻塞投遞，與共享鎖解耦（核心安全性質）
//   ✅ sync.Once 關閉信箱 - 多個關閉路徑（讀錯誤、Stop、重複註銷）只關一次

const (
	// 信箱緩衝：應對突發訊息，滿了就丟（慢客戶端不拖垮調度）
	sendBufferSize = 256

	// 寫入超時
	writeWait = 10 * time.Second

	// keepalive ping 間隔。只探測活性：沒有讀取期限配套，
	// 漏回 pong 不會觸發斷線，連線存活只由傳輸層關閉/錯誤決定。
	pingInterval = 54 * time.Second
)

// Frame 對外信箱中的一個 frame
//
// 帶 MessageType 是因為信箱同時承載文字回應與二進位 echo，
// 而 gorilla 連線只允許單一寫入者。
type Frame struct {
	MessageType int
	Data        []byte
}

// Hub WebSocket 連線中心
//
// 負責升級握手、鑄造 session id、啟動每連線的讀寫 goroutine，
// 以及關機時統一收斂所有連線。
type Hub struct {
	server     *GameServer
	dispatcher *Dispatcher
	logger     *slog.Logger
	upgrader   websocket.Upgrader

	mu    sync.Mutex
	conns map[uuid.UUID]*Connection
}

// Connection 一條 WebSocket 連線
type Connection struct {
	ID        uuid.UUID
	conn      *websocket.Conn
	send      chan Frame
	hub       *Hub
	closeOnce sync.Once // 確保信箱只關閉一次
}

// NewHub 創建 WebSocket Hub
func NewHub(server *GameServer, dispatcher *Dispatcher, logger *slog.Logger) *Hub {
	return &Hub{
		server:     server,
		dispatcher: dispatcher,
		logger:     logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[uuid.UUID]*Connection),
	}
}

// ServeWS 處理 WebSocket 連線
//
// 狀態機的 Connecting → Open 轉換：升級成功後分配信箱、
// 向協調器註冊 (sessionId, 信箱)，再啟動讀寫 goroutine。
func (hub *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	connection := &Connection{
		ID:   uuid.New(),
		conn: conn,
		send: make(chan Frame, sendBufferSize),
		hub:  hub,
	}

	hub.mu.Lock()
	hub.conns[connection.ID] = connection
	hub.mu.Unlock()

	hub.server.Connect(connection.ID, connection.send)

	go connection.writePump()
	go connection.readPump()

	hub.logger.Info("WebSocket 連線建立",
		"session_id", connection.ID,
		"remote_addr", r.RemoteAddr)
}

// unregister 註銷連線
//
// 狀態機的 Closing → Closed 轉換：先從協調器註銷（級聯移出房間），
// 再關閉信箱讓 writePump 送出 close frame 後結束。
// 冪等：讀錯誤與 Stop 兩條路徑都可能走到這裡。
func (hub *Hub) unregister(conn *Connection) {
	hub.mu.Lock()
	if actual, exists := hub.conns[conn.ID]; exists && actual == conn {
		delete(hub.conns, conn.ID)
	}
	hub.mu.Unlock()

	hub.server.Disconnect(conn.ID)

	conn.closeOnce.Do(func() {
		close(conn.send)
	})
}

// Stop 關閉所有連線（關機時呼叫）
func (hub *Hub) Stop() {
	hub.mu.Lock()
	conns := make([]*Connection, 0, len(hub.conns))
	for _, conn := range hub.conns {
		conns = append(conns, conn)
	}
	hub.conns = make(map[uuid.UUID]*Connection)
	hub.mu.Unlock()

	for _, conn := range conns {
		hub.server.Disconnect(conn.ID)
		conn.closeOnce.Do(func() {
			close(conn.send)
		})
	}

	hub.logger.Info("WebSocket Hub 已停止", "closed_connections", len(conns))
}

// ConnectionCount 獲取目前連線數（統計/測試用）
func (hub *Hub) ConnectionCount() int {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	return len(hub.conns)
}

// readPump 順序處理入站 frame
//
// 這個迴圈就是連線內順序保證的實作：ReadMessage 與 Dispatch
// 在同一個 goroutine 裡交替，frame N 的調度回傳前不會讀 frame N+1。
//
// frame 處理規則：
//   - 文字 frame：解析封包。解析失敗記錄後繼續（壞 frame 容忍，不關連線）；
//     成功則同步交給 Dispatcher。處理器內的錯誤不會傳播到線路上。
//   - 二進位 frame：原樣 echo（本核心不解讀二進位 payload）。
//   - ping：立刻回 pong，不改變狀態。
//   - 關閉/讀取錯誤：跳出迴圈，由 defer 做 Closing → Closed 清理。
func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	// 立即回應 pong。WriteControl 允許與 writePump 並行寫入。
	c.conn.SetPingHandler(func(appData string) error {
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket 讀取錯誤",
					"error", err,
					"session_id", c.ID)
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			var message ClientMessage
			if err := json.Unmarshal(data, &message); err != nil {
				c.hub.logger.Error("無效的訊息封包",
					"error", err,
					"session_id", c.ID)
				continue
			}
			c.hub.dispatcher.Dispatch(Incoming{
				SessionID: c.ID,
				Message:   message,
			}, c.hub.server)

		case websocket.BinaryMessage:
			c.enqueue(Frame{MessageType: websocket.BinaryMessage, Data: data})
		}
	}
}

// writePump 排空信箱並寫入線路
//
// 與入站處理完全獨立：處理器（任何連線的）投遞只是 enqueue，
// 真正的 socket 寫入都在這裡。信箱被關閉時送出 close frame 結束。
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err, "session_id", c.ID)
			}
			if !ok {
				// 信箱已關閉，完成關閉握手
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(frame.MessageType, frame.Data); err != nil {
				return
			}

			// 批次送出佇列中已累積的 frame
			n := len(c.send)
			for i := 0; i < n; i++ {
				queued, ok := <-c.send
				if !ok {
					_ = c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
				if err := c.conn.WriteMessage(queued.MessageType, queued.Data); err != nil {
					c.hub.logger.Error("發送訊息失敗", "error", err, "session_id", c.ID)
					return
				}
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err, "session_id", c.ID)
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue 非阻塞投遞到自己的信箱（二進位 echo 用）
func (c *Connection) enqueue(frame Frame) {
	select {
	case c.send <- frame:
	default:
		c.hub.logger.Warn("連線信箱已滿，frame 丟棄", "session_id", c.ID)
	}
}

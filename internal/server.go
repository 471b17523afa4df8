package internal

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   如何讓多個併發連線安全地共享 session 與房間兩份相關聯的狀態？
//
// 核心挑戰：
//   1. 原子性：移除 session 必須同時把它移出所在房間（不能留下懸空成員）
//   2. 死鎖預防：持鎖期間絕不能做阻塞 I/O（慢客戶端不能拖垮整個調度）
//   3. 重入預防：處理器執行時已持有鎖，提供給處理器的方法不能再取鎖
//
// 設計方案：
//   ✅ 單一粗粒度互斥鎖 - 覆蓋 sessions 與 rooms 兩份狀態（簡單性優先於吞吐量）
//   ✅ 鎖紀律分層 - 生命週期方法自行取鎖；處理器可見方法假設鎖已持有
//   ✅ 非阻塞投遞 - 持鎖時只做 channel enqueue，寫入 socket 由各連線自己的
//      writePump 負責，與共享鎖完全解耦

// Session 連線端點
//
// 由 GameServer 獨占擁有（對外信箱 channel 的生命週期則由 Connection 管理）。
// Username 在 join-room 時記錄，供聊天訊息署名。
type Session struct {
	ID       uuid.UUID
	Username string
	send     chan Frame
}

// GameServer 協調器：整個系統唯一的共享可變狀態
//
// 鎖紀律（重要）：
//   - Connect / Disconnect / RoomList / Stats 內部取鎖，供連線生命週期與
//     HTTP 層呼叫。處理器內呼叫會重入死鎖，絕對禁止。
//   - Send / Broadcast / SendToRoom / Rooms / SetUsername / Session 不取鎖，
//     只能在 Dispatcher 持鎖調度處理器時（或測試中透過 Locked）呼叫。
//
// 處理器若在持鎖期間 panic，會沿著連線 goroutine 傳播並讓整個行程崩潰。
// 這是刻意的：共享狀態可能已經損壞，靜默繼續比崩潰更危險。
type GameServer struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	rooms    *RoomManager
	chats    map[uuid.UUID]*ChatLog // roomID -> 聊天記錄
	logger   *slog.Logger
}

// NewGameServer 創建協調器
func NewGameServer(logger *slog.Logger) *GameServer {
	return &GameServer{
		sessions: make(map[uuid.UUID]*Session),
		rooms:    NewRoomManager(),
		chats:    make(map[uuid.UUID]*ChatLog),
		logger:   logger,
	}
}

// Connect 註冊 session 與它的對外信箱
//
// 同一 ID 重複註冊會直接替換信箱（目前設計沒有「已連線」錯誤）。
func (s *GameServer) Connect(id uuid.UUID, send chan Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[id] = &Session{
		ID:   id,
		send: send,
	}

	s.logger.Info("session 已連線", "session_id", id)
}

// Disconnect 註銷 session
//
// 級聯副作用：同一個臨界區內把 session 移出它所在的房間，
// 確保任何房間都不會殘留懸空成員。
func (s *GameServer) Disconnect(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	if roomID, left := s.rooms.LeaveAnyRoom(id); left {
		s.logger.Info("session 已離開房間", "session_id", id, "room_id", roomID)
	}

	s.logger.Info("session 已斷線", "session_id", id)
}

// Locked 在持有協調器互斥鎖的狀態下執行 fn
//
// 調度路徑以外需要獨占訪問時使用（啟動階段建房、測試）。
// fn 內只能呼叫「處理器可見」的方法。
func (s *GameServer) Locked(fn func(s *GameServer)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// Rooms 獲取房間管理器
//
// 呼叫者必須持有調度互斥鎖（處理器內、或 Locked 中）。
func (s *GameServer) Rooms() *RoomManager {
	return s.rooms
}

// Session 依 ID 獲取 session
//
// 呼叫者必須持有調度互斥鎖。
func (s *GameServer) Session(id uuid.UUID) (*Session, bool) {
	session, exists := s.sessions[id]
	return session, exists
}

// SetUsername 記錄 session 的使用者名稱
//
// 呼叫者必須持有調度互斥鎖。
func (s *GameServer) SetUsername(id uuid.UUID, username string) {
	if session, exists := s.sessions[id]; exists {
		session.Username = username
	}
}

// Send 投遞訊息給指定 session（盡力而為）
//
// session 不存在時靜默丟棄——房間廣播本來就是 fire-and-forget 語意，
// 呼叫者不需要也無法處理「對方剛好斷線」。
// 投遞是非阻塞 enqueue：信箱滿了就丟棄並記錄，絕不在持鎖時寫 socket。
//
// 呼叫者必須持有調度互斥鎖。
func (s *GameServer) Send(id uuid.UUID, message ClientMessage) {
	session, exists := s.sessions[id]
	if !exists {
		return
	}
	s.deliver(session, message)
}

// Broadcast 投遞訊息給所有 session
//
// 呼叫者必須持有調度互斥鎖。
func (s *GameServer) Broadcast(message ClientMessage) {
	for _, session := range s.sessions {
		s.deliver(session, message)
	}
}

// SendToRoom 投遞訊息給指定房間的所有成員
//
// 呼叫者必須持有調度互斥鎖。
func (s *GameServer) SendToRoom(roomID uuid.UUID, message ClientMessage) {
	room, exists := s.rooms.Room(roomID)
	if !exists {
		return
	}
	for _, sessionID := range room.sessions {
		if session, ok := s.sessions[sessionID]; ok {
			s.deliver(session, message)
		}
	}
}

// deliver 序列化訊息並非阻塞投遞到 session 信箱
func (s *GameServer) deliver(session *Session, message ClientMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		// 回應編碼失敗是可恢復的：記錄並丟棄，不中斷連線
		s.logger.Error("序列化訊息失敗",
			"error", err,
			"session_id", session.ID,
			"type", message.Type)
		return
	}

	select {
	case session.send <- Frame{MessageType: websocket.TextMessage, Data: data}:
	default:
		// 信箱滿了：丟棄訊息，慢客戶端不能拖垮調度
		s.logger.Warn("session 信箱已滿，訊息丟棄",
			"session_id", session.ID,
			"type", message.Type)
	}
}

// chatLog 獲取房間的聊天記錄（不存在時建立）
//
// 呼叫者必須持有調度互斥鎖。
func (s *GameServer) chatLog(roomID uuid.UUID) *ChatLog {
	log, exists := s.chats[roomID]
	if !exists {
		log = NewChatLog()
		s.chats[roomID] = log
	}
	return log
}

// RoomList 獲取房間快照（HTTP 層使用，內部取鎖）
func (s *GameServer) RoomList() []RoomDescription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms.List()
}

// Stats 獲取統計資訊（HTTP 層使用，內部取鎖）
func (s *GameServer) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	playersInRooms := 0
	for _, roomID := range s.rooms.order {
		playersInRooms += len(s.rooms.rooms[roomID].sessions)
	}

	return map[string]any{
		"total_sessions":   len(s.sessions),
		"total_rooms":      len(s.rooms.rooms),
		"players_in_rooms": playersInRooms,
	}
}

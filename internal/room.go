package internal

import (
	"errors"

	"github.com/google/uuid"
)

// 系統設計問題：
//   如何在多個併發連線同時操作下，維持房間容量上限與成員一致性？
//
// 核心挑戰：
//   1. 容量不變量：任何時刻 len(sessions) <= capacity（第 C+1 個加入必須確定性失敗）
//   2. 成員順序：加入順序需要保留（列表的公平性與確定性）
//   3. 反向查詢：斷線清理需要知道「session 在哪個房間」
//   4. 單一房間成員資格：一個 session 同時只屬於一個房間
//
// 設計方案：
//   ✅ 有序 slice 儲存成員 - 保留加入順序
//   ✅ sentinel error - errors.Is 判斷業務錯誤
//   ✅ 線性掃描反向查詢 - 房間數量固定且少（啟動時建立），O(rooms) 可接受
//   ✅ 無內部鎖 - 併發控制由 GameServer 的單一互斥鎖統一負責

// 業務錯誤：加入房間可能的失敗原因。
// 這些是預期中的可恢復錯誤，會以 join-room-fail 訊息回覆客戶端，不會關閉連線。
var (
	ErrRoomFull     = errors.New("room is full")
	ErrRoomNotFound = errors.New("room not found")
)

// Room 遊戲房間
//
// 房間集合在啟動時建立後即固定（本核心沒有動態建立/刪除路徑），
// 只有成員列表會被 join/leave 操作修改。
//
// 注意：Room 本身沒有鎖。所有修改都必須在 GameServer 的互斥鎖保護下進行，
// 這是刻意的粗粒度設計（簡單性優先於吞吐量）。
type Room struct {
	ID       uuid.UUID
	Name     string
	Capacity int
	sessions []uuid.UUID // 有序：保留加入順序
}

// NewRoom 創建新房間
func NewRoom(name string, capacity int) *Room {
	return &Room{
		ID:       uuid.New(),
		Name:     name,
		Capacity: capacity,
		sessions: make([]uuid.UUID, 0, capacity),
	}
}

// addSession 將 session 加入房間
//
// 容量邊界是「含」：容量 N 表示第 N 個成員可以加入，第 N+1 個失敗。
// 失敗時成員列表不變。
func (r *Room) addSession(session uuid.UUID) error {
	if len(r.sessions) >= r.Capacity {
		return ErrRoomFull
	}
	r.sessions = append(r.sessions, session)
	return nil
}

// removeSession 將 session 移出房間（冪等：不在房間內時不視為錯誤）
func (r *Room) removeSession(session uuid.UUID) {
	for i, s := range r.sessions {
		if s == session {
			r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
			return
		}
	}
}

// contains 檢查 session 是否在房間內
func (r *Room) contains(session uuid.UUID) bool {
	for _, s := range r.sessions {
		if s == session {
			return true
		}
	}
	return false
}

// Sessions 獲取房間內的 session 列表（依加入順序，回傳副本）
func (r *Room) Sessions() []uuid.UUID {
	sessions := make([]uuid.UUID, len(r.sessions))
	copy(sessions, r.sessions)
	return sessions
}

// RoomDescription 房間描述（用於列表回應的序列化）
type RoomDescription struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Capacity int       `json:"capacity"`
	Players  []string  `json:"players"`
}

// RoomManager 房間管理器
//
// 聚合所有房間，支援：
//   - 依 ID 查詢
//   - 反向查詢「session 在哪個房間」
//   - 有序快照（列表回應）
//
// 與 Room 相同，RoomManager 沒有內部鎖，依賴 GameServer 的互斥鎖。
type RoomManager struct {
	rooms map[uuid.UUID]*Room
	order []uuid.UUID // 房間建立順序（map 迭代順序不確定，列表需要確定性）
}

// NewRoomManager 創建房間管理器
func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms: make(map[uuid.UUID]*Room),
	}
}

// AddRoom 加入房間（只在啟動階段使用）
func (m *RoomManager) AddRoom(room *Room) {
	if _, exists := m.rooms[room.ID]; !exists {
		m.order = append(m.order, room.ID)
	}
	m.rooms[room.ID] = room
}

// RemoveRoom 移除房間（只在啟動階段/測試使用）
func (m *RoomManager) RemoveRoom(id uuid.UUID) {
	if _, exists := m.rooms[id]; !exists {
		return
	}
	delete(m.rooms, id)
	for i, roomID := range m.order {
		if roomID == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

// Room 依 ID 獲取房間
func (m *RoomManager) Room(id uuid.UUID) (*Room, bool) {
	room, exists := m.rooms[id]
	return room, exists
}

// Join 將 session 加入指定房間
//
// 失敗情況：
//   - ErrRoomNotFound：房間不存在，狀態不變
//   - ErrRoomFull：房間已滿，狀態不變（包含原房間的成員資格）
//
// 成功時會先自動離開原本所在的房間（單一房間成員資格），
// 再依加入順序附加到新房間。整個操作在呼叫者持有的同一個
// 臨界區內完成，不變量不會有中間狀態外漏。
func (m *RoomManager) Join(roomID, session uuid.UUID) error {
	room, exists := m.rooms[roomID]
	if !exists {
		return ErrRoomNotFound
	}

	// 先檢查容量再離開原房間：加入失敗時不應該把玩家踢出原房間。
	// 已在目標房間內的 session 重新加入不佔用額外名額。
	if !room.contains(session) && len(room.sessions) >= room.Capacity {
		return ErrRoomFull
	}

	m.LeaveAnyRoom(session)
	return room.addSession(session)
}

// Leave 將 session 移出指定房間（冪等）
func (m *RoomManager) Leave(roomID, session uuid.UUID) {
	if room, exists := m.rooms[roomID]; exists {
		room.removeSession(session)
	}
}

// LeaveAnyRoom 將 session 移出它所在的房間（若有）
//
// 斷線清理的級聯入口，回傳離開的房間 ID 供記錄。
func (m *RoomManager) LeaveAnyRoom(session uuid.UUID) (uuid.UUID, bool) {
	roomID, exists := m.RoomOfSession(session)
	if !exists {
		return uuid.Nil, false
	}
	m.rooms[roomID].removeSession(session)
	return roomID, true
}

// RoomOfSession 反向查詢 session 所在的房間
//
// 線性掃描所有房間：房間集合固定且數量少（啟動時建立的幾個），
// O(rooms) 是已記錄的規模限制而非正確性問題。
func (m *RoomManager) RoomOfSession(session uuid.UUID) (uuid.UUID, bool) {
	for _, roomID := range m.order {
		if m.rooms[roomID].contains(session) {
			return roomID, true
		}
	}
	return uuid.Nil, false
}

// List 獲取所有房間的有序快照（依建立順序）
func (m *RoomManager) List() []RoomDescription {
	result := make([]RoomDescription, 0, len(m.order))
	for _, roomID := range m.order {
		room := m.rooms[roomID]
		players := make([]string, 0, len(room.sessions))
		for _, session := range room.sessions {
			players = append(players, session.String())
		}
		result = append(result, RoomDescription{
			ID:       room.ID,
			Name:     room.Name,
			Capacity: room.Capacity,
			Players:  players,
		})
	}
	return result
}

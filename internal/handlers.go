package internal

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
)

// 內建的大廳處理器：房間列表查詢與加入房間。
//
// 錯誤語意（對客戶端可見的部分）：
//   - 房間不存在 → join-room-fail{reason: "Room not found"}
//   - 房間已滿   → join-room-fail{reason: "Room is full!"}
// 其他錯誤（content 解析失敗、回應編碼失敗）只記錄日誌，
// 客戶端看到的唯一徵兆是沒有回應。

// RoomListMessage get-room-list-response 的 payload
type RoomListMessage struct {
	Rooms []RoomDescription `json:"rooms"`
}

// JoinRoomMessage join-room 的 payload
type JoinRoomMessage struct {
	Username string    `json:"username"`
	Room     uuid.UUID `json:"room"`
}

// JoinRoomFailMessage join-room-fail 的 payload
type JoinRoomFailMessage struct {
	Reason string `json:"reason"`
}

// RegisterLobbyHandlers 註冊大廳處理器（啟動階段呼叫一次）
func RegisterLobbyHandlers(d *Dispatcher, logger *slog.Logger) {
	d.Register("get-room-list", ListRooms(logger))
	d.Register("join-room", JoinRoom(logger))
}

// ListRooms 回應房間列表
//
// 讀取完整快照，以 get-room-list-response 回覆請求端。
// 成員以不透明的 session id 字串呈現。
func ListRooms(logger *slog.Logger) HandlerFunc {
	return func(incoming Incoming, server *GameServer) {
		response, err := NewClientMessage("get-room-list-response", RoomListMessage{
			Rooms: server.Rooms().List(),
		})
		if err != nil {
			logger.Error("編碼房間列表回應失敗", "error", err, "session_id", incoming.SessionID)
			return
		}
		server.Send(incoming.SessionID, response)
	}
}

// JoinRoom 處理加入房間請求
//
// 成功時記錄 username 並回覆空 payload 的 join-room-response；
// 業務失敗以 join-room-fail 回覆明確的原因字串。
func JoinRoom(logger *slog.Logger) HandlerFunc {
	return func(incoming Incoming, server *GameServer) {
		var request JoinRoomMessage
		if err := incoming.Message.DecodeContent(&request); err != nil {
			logger.Error("解析 join-room 內容失敗",
				"error", err,
				"session_id", incoming.SessionID)
			return
		}

		err := server.Rooms().Join(request.Room, incoming.SessionID)
		switch {
		case errors.Is(err, ErrRoomNotFound):
			sendJoinFail(server, logger, incoming.SessionID, "Room not found")
			return
		case errors.Is(err, ErrRoomFull):
			sendJoinFail(server, logger, incoming.SessionID, "Room is full!")
			return
		case err != nil:
			logger.Error("加入房間失敗", "error", err, "session_id", incoming.SessionID)
			return
		}

		server.SetUsername(incoming.SessionID, request.Username)

		logger.Info("session 加入房間",
			"session_id", incoming.SessionID,
			"room_id", request.Room,
			"username", request.Username)

		response, err := NewClientMessage("join-room-response", struct{}{})
		if err != nil {
			logger.Error("編碼 join-room 回應失敗", "error", err, "session_id", incoming.SessionID)
			return
		}
		server.Send(incoming.SessionID, response)
	}
}

// sendJoinFail 回覆加入失敗訊息
func sendJoinFail(server *GameServer, logger *slog.Logger, session uuid.UUID, reason string) {
	response, err := NewClientMessage("join-room-fail", JoinRoomFailMessage{Reason: reason})
	if err != nil {
		logger.Error("編碼 join-room-fail 回應失敗", "error", err, "session_id", session)
		return
	}
	server.Send(session, response)
}

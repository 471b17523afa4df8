package internal

import (
	"log/slog"
)

// 房間聊天：chat / get-chat 處理器與每房間的訊息記錄。
//
// 記錄是純記憶體、有上限的（最新 maxChatMessages 筆），
// 不跨行程持久化——重啟即清空。

// maxChatMessages 每個房間保留的聊天訊息上限
const maxChatMessages = 100

// ChatMessage 一筆聊天訊息（也是 chat-sent 廣播的 payload）
type ChatMessage struct {
	Username string `json:"username"`
	Content  string `json:"content"`
}

// ChatSentMessage chat 請求的 payload
type ChatSentMessage struct {
	Content string `json:"content"`
}

// GetChatResponse get-chat-response 的 payload
type GetChatResponse struct {
	Exception string        `json:"exception,omitempty"`
	Messages  []ChatMessage `json:"messages,omitempty"`
}

// ChatLog 單一房間的聊天記錄
//
// 沒有內部鎖：只會在調度臨界區內被觸碰。
type ChatLog struct {
	messages []ChatMessage
}

// NewChatLog 創建聊天記錄
func NewChatLog() *ChatLog {
	return &ChatLog{}
}

// append 附加訊息，超過上限時丟棄最舊的
func (l *ChatLog) append(message ChatMessage) {
	l.messages = append(l.messages, message)
	if len(l.messages) > maxChatMessages {
		l.messages = l.messages[len(l.messages)-maxChatMessages:]
	}
}

// list 獲取訊息副本（由舊到新）
func (l *ChatLog) list() []ChatMessage {
	messages := make([]ChatMessage, len(l.messages))
	copy(messages, l.messages)
	return messages
}

// RegisterChatHandlers 註冊聊天處理器（啟動階段呼叫一次）
func RegisterChatHandlers(d *Dispatcher, logger *slog.Logger) {
	d.Register("chat", Chat(logger))
	d.Register("get-chat", GetChat(logger))
}

// Chat 處理聊天訊息
//
// 記錄到所在房間的聊天記錄，並以 chat-sent 廣播給同房間的所有成員
// （包含發送者本人）。不在任何房間的 session 發聊天只記錄日誌，
// 不回應也不斷線。
func Chat(logger *slog.Logger) HandlerFunc {
	return func(incoming Incoming, server *GameServer) {
		var request ChatSentMessage
		if err := incoming.Message.DecodeContent(&request); err != nil {
			logger.Error("解析 chat 內容失敗",
				"error", err,
				"session_id", incoming.SessionID)
			return
		}

		roomID, inRoom := server.Rooms().RoomOfSession(incoming.SessionID)
		if !inRoom {
			logger.Warn("不在房間內的 session 發送聊天訊息", "session_id", incoming.SessionID)
			return
		}

		message := ChatMessage{
			Username: senderName(server, incoming),
			Content:  request.Content,
		}
		server.chatLog(roomID).append(message)

		broadcast, err := NewClientMessage("chat-sent", message)
		if err != nil {
			logger.Error("編碼 chat-sent 失敗", "error", err, "session_id", incoming.SessionID)
			return
		}
		server.SendToRoom(roomID, broadcast)
	}
}

// GetChat 回應所在房間的聊天記錄
//
// 不在房間內時回覆帶 exception 欄位的回應（不是斷線條件）。
func GetChat(logger *slog.Logger) HandlerFunc {
	return func(incoming Incoming, server *GameServer) {
		roomID, inRoom := server.Rooms().RoomOfSession(incoming.SessionID)

		var payload GetChatResponse
		if inRoom {
			payload.Messages = server.chatLog(roomID).list()
		} else {
			payload.Exception = "session is not in a room"
		}

		response, err := NewClientMessage("get-chat-response", payload)
		if err != nil {
			logger.Error("編碼 get-chat 回應失敗", "error", err, "session_id", incoming.SessionID)
			return
		}
		server.Send(incoming.SessionID, response)
	}
}

// senderName 聊天署名：有 username 用 username，否則退回 session id
func senderName(server *GameServer, incoming Incoming) string {
	if session, exists := server.Session(incoming.SessionID); exists && session.Username != "" {
		return session.Username
	}
	return incoming.SessionID.String()
}

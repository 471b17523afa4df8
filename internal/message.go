package internal

import (
	"encoding/json"

	"github.com/google/uuid"
)

// 系統設計問題：
//   如何依訊息種類做可擴充的分發，又讓每個處理器的鎖義務清楚可稽核？
//
// 核心挑戰：
//   1. 可擴充性：同一個 type tag 可以掛多個處理器，依註冊順序全部執行
//   2. 順序保證：同一連線的訊息必須一個調度完才調度下一個
//   3. 鎖義務：處理器執行時需要獨占訪問協調器，但不能自己取鎖（重入）
//
// 設計方案：
//   ✅ map[string][]HandlerFunc - 顯式的 tag → 有序處理器列表
//   ✅ 調度時取一次鎖 - 整條處理器鏈在同一個臨界區內執行
//   ✅ 協調器作為顯式參數 - 處理器不隱式捕捉共享狀態，鎖義務在簽名上可見

// ClientMessage 線路訊息封包
//
// 兩個欄位都是字串：content 是「再編碼一次」的 JSON 字串，
// 外層不是巢狀物件。這是線路相容性要求，處理器需要自己再解一次。
type ClientMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// NewClientMessage 創建訊息封包（content 會被 JSON 編碼成字串）
//
// 編碼失敗回傳錯誤，由呼叫者記錄並丟棄回應——
// 一個壞掉的對外 payload 不可以弄死連線或行程。
func NewClientMessage(messageType string, content any) (ClientMessage, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return ClientMessage{}, err
	}
	return ClientMessage{
		Type:    messageType,
		Content: string(data),
	}, nil
}

// DecodeContent 解碼雙重編碼的 content 欄位
func (m ClientMessage) DecodeContent(v any) error {
	return json.Unmarshal([]byte(m.Content), v)
}

// Incoming 帶有來源 session 的入站訊息
type Incoming struct {
	SessionID uuid.UUID
	Message   ClientMessage
}

// HandlerFunc 訊息處理器
//
// server 參數在呼叫時已被 Dispatcher 上鎖：
//   - 只能呼叫處理器可見的方法（Send / Broadcast / Rooms / ...）
//   - 絕不能呼叫會取鎖的方法（Connect / Disconnect / RoomList / Stats）
//   - 絕不能做阻塞 I/O——所有對外投遞都是非阻塞 enqueue
//
// 處理器只透過 server.Send 傳達結果，沒有回傳值。
type HandlerFunc func(incoming Incoming, server *GameServer)

// Dispatcher 訊息分發器
//
// 註冊只在啟動階段進行，之後唯讀，因此分發路徑不需要自己的鎖。
type Dispatcher struct {
	callbacks map[string][]HandlerFunc
}

// NewDispatcher 創建分發器
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		callbacks: make(map[string][]HandlerFunc),
	}
}

// Register 註冊處理器（附加到該 tag 的有序列表尾端）
func (d *Dispatcher) Register(messageType string, handler HandlerFunc) {
	d.callbacks[messageType] = append(d.callbacks[messageType], handler)
}

// Dispatch 同步分發訊息
//
// 沒有處理器的 type 是靜默 no-op——未知或未訂閱的訊息種類是預期情況，
// 不是錯誤。有處理器時取一次協調器互斥鎖，依註冊順序同步執行整條鏈。
//
// 同步性就是連線內順序保證的來源：readPump 要等 Dispatch 回傳
// 才會讀下一個 frame。
//
// 刻意不 recover：處理器在持鎖時 panic 代表共享狀態可能已損壞，
// 讓行程崩潰而不是帶病運行。
func (d *Dispatcher) Dispatch(incoming Incoming, server *GameServer) {
	handlers, exists := d.callbacks[incoming.Message.Type]
	if !exists {
		return
	}

	server.mu.Lock()
	defer server.mu.Unlock()

	for _, handler := range handlers {
		handler(incoming, server)
	}
}

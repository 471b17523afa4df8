// Package lobby 提供了一個多人遊戲大廳的協調服務器。
//
// 實現了一個把大量併發連線協調進少量容量受限房間的後端核心，
// 包含以下功能：
//
// 房間協調
//
// 房間集合在啟動時固定，之後只有成員變動：
//   - 容量上限強制（第 C+1 個加入確定性失敗）
//   - 成員加入順序保留
//   - 斷線時級聯清理（session 移除與離開房間在同一臨界區完成）
//   - 單一房間成員資格（加入新房間自動離開舊房間）
//
// # 訊息分發
//
// 以 type tag 為鍵的可擴充分發機制：
//   - 同一 tag 可掛多個處理器，依註冊順序同步執行
//   - 未註冊的訊息種類靜默忽略
//   - 處理器以顯式參數取得協調器的獨占訪問權
//
// 線路協定
//
// 文字 frame 承載雙欄位 JSON 封包：
//
//	{ "type": "<tag>", "content": "<再編碼一次的 JSON 字串>" }
//
// 內建訊息：get-room-list、join-room、chat、get-chat。
// 二進位 frame 原樣 echo；ping 立即回 pong；壞 frame 容忍不斷線。
//
// 併發設計
//
// 刻意選擇簡單性優先於吞吐量：
//   - 單一粗粒度互斥鎖覆蓋 session 與房間兩份狀態
//   - 每連線獨立的讀寫 goroutine 與緩衝信箱
//   - 持鎖期間只做非阻塞 enqueue，慢客戶端不拖垮調度
//
// 使用範例
//
// 啟動服務器：
//
//	server := internal.NewGameServer(logger)
//	dispatcher := internal.NewDispatcher()
//	internal.RegisterLobbyHandlers(dispatcher, logger)
//	hub := internal.NewHub(server, dispatcher, logger)
//
//	http.HandleFunc("/ws", hub.ServeWS)
//	log.Fatal(http.ListenAndServe(":5189", nil))
//
// 客戶端連接：
//
//	ws, _, err := websocket.DefaultDialer.Dial("ws://localhost:5189/ws", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ws.Close()
//
// 配置選項
//
// 支援的運行時配置：
//   - -port：服務監聽端口（預設 5189）
//   - -log-level：日誌級別（debug/info/warn/error）
//   - -log-format：日誌格式（text/json）
//
// 已知限制
//
// 刻意保留、已記錄的範圍限制：
//   - 反向查詢「session 在哪個房間」是 O(rooms) 線性掃描（房間數固定且少）
//   - 沒有閒置連線超時：漏回 pong 不觸發斷線，存活只看傳輸層信號
//   - 訊息投遞是行程內盡力而為，不持久化、不跨行程
package lobby

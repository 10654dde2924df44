// Package internal 你畫我猜遊戲服務器的傳輸層與配置。
//
// 遊戲規則與房間狀態在 internal/game，本套件只負責把它們接到網路上：
//
// # WebSocket 通訊
//
// WebSocketHub 為每條連線分配 ID，讀取 {type, data} 意圖後交給 game.Coordinator，
// 並實作 game.Dispatcher 把事件送到目標連線：
//   - 心跳：54 秒 ping，60 秒未收到 pong 即斷線
//   - 每條連線一個令牌桶限流
//   - 發送佇列滿時丟棄該連線的事件，不阻塞其他人
//
// # HTTP API
//
//	GET  /health                 健康檢查與房間、人數
//	GET  /stats                  各狀態房間數與連線數
//	GET  /ws                     升級為 WebSocket
//	POST /api/v1/rooms           建立房間
//	GET  /api/v1/rooms/:code     房間摘要
//	GET  /api/v1/words           題庫
//	GET  /api/v1/leaderboard     排行榜（需啟用 Redis）
//	GET  /api/v1/games           最近的遊戲（需啟用 PostgreSQL）
//
// # 配置
//
// 預設值 → YAML → 環境變數 → 命令列參數，外部服務預設全部關閉。
package internal

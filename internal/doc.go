// Package internal 實現雙人對戰遊戲的房間與出兵轉發服務。
//
// 客戶端建立或加入房間，伺服器在兩位玩家之間轉發出兵事件，並把座標做垂直鏡像，
// 讓每位玩家都以自己的視角看到對手的出兵位置。
//
// 元件（由底層到上層）
//
//   - Mirror：座標鏡像（純函數）
//   - PlayerMeta.AllowSpawn：每位玩家的出兵冷卻
//   - Room：成員、遊戲旗標、有上限的出兵紀錄，自帶一把鎖
//   - Registry：roomID → Room，建立、查詢、空房間清理
//   - Relay：解析客戶端事件並產生要送出的訊息
//   - WebSocketHub：連線管理與訊息投遞
//   - Handler：HTTP 唯讀查詢
//
// # 併發模型
//
// 同一房間的修改由房間鎖序列化，不同房間完全並行。Registry 的映射由另一把鎖保護。
// 任何路徑都不會同時持有 Registry 鎖與房間鎖；需要兩者時順序固定為先房間、後 Registry。
//
// # 事件
//
// 客戶端 → 伺服器：
//
//	create_room{name}
//	join_room{room_id, name}
//	leave_room{room_id}
//	start_game{room_id, ai_mode}
//	spawn{room_id, char, x, y, playersize?, meta?}
//	get_room_state{room_id}
//
// 伺服器 → 客戶端：
//
//	connected, room_created, joined_room, player_joined, player_left,
//	game_started, spawn_broadcast, spawn_ack, spawn_failed, spawn_rejected,
//	join_failed, room_state, error
//
// # 使用範例
//
//	registry := internal.NewRegistry(cfg.Settings(), logger)
//	relay := internal.NewRelay(registry, cfg.Settings(), internal.NopPublisher{}, logger)
//	hub := internal.NewWebSocketHub(relay, cfg, logger)
//
//	http.HandleFunc("/ws", hub.ServeWS)
//	http.Handle("/", internal.NewHandler(registry, cfg.Settings(), hub, logger).Routes())
//
// # 限制
//
// 所有狀態只存在記憶體中，重啟後房間全部消失；不支援多個伺服器行程共享房間。
package internal

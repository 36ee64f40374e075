package studio

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// 개발용 - 모든 origin 허용
		return true
	},
}

// wsClient - 한 세션의 이벤트를 구독 중인 클라이언트
type wsClient struct {
	conn      *websocket.Conn
	sessionID string
	send      chan []byte
}

// Hub - 세션별 배치 진행 이벤트 브로드캐스트
// Scheduler가 task를 해소할 때마다 해당 세션의 구독자 전원에게 전달
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*wsClient]bool // sessionID → 구독자들
}

// NewHub - Hub 생성
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*wsClient]bool),
	}
}

// HandleWS - GET /ws?session=xxx
// 세션의 task/배치 이벤트 스트림 구독
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("❌ [Hub] WebSocket upgrade failed: %v", err)
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		log.Printf("⚠️ [Hub] Missing session parameter")
		conn.Close()
		return
	}

	client := &wsClient{
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, 64),
	}

	h.register(client)
	log.Printf("🔍 [Hub] New event subscriber - Session: %s", sessionID)

	go client.writePump()
	go h.readPump(client)
}

// register - 구독자 등록
func (h *Hub) register(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.sessionID] == nil {
		h.clients[client.sessionID] = make(map[*wsClient]bool)
	}
	h.clients[client.sessionID][client] = true
}

// unregister - 구독자 제거
func (h *Hub) unregister(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.clients[client.sessionID]; ok {
		if _, exists := subs[client]; exists {
			delete(subs, client)
			close(client.send)
			if len(subs) == 0 {
				delete(h.clients, client.sessionID)
			}
		}
	}
}

// Broadcast - 세션 구독자 전원에게 이벤트 전달
func (h *Hub) Broadcast(sessionID string, ev TaskEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("❌ [Hub] Error marshaling event: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[sessionID] {
		select {
		case client.send <- data:
		default:
			// 느린 구독자는 배치 진행을 막지 않도록 건너뜀
		}
	}
}

// readPump - 클라이언트 메시지 읽기 (구독 전용이라 내용은 버리고 연결 종료만 감지)
func (h *Hub) readPump(client *wsClient) {
	defer func() {
		h.unregister(client)
		client.conn.Close()
		log.Printf("👋 [Hub] Subscriber left session %s", client.sessionID)
	}()

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("⚠️ [Hub] WebSocket error: %v", err)
			}
			break
		}
	}
}

// writePump - 이벤트를 클라이언트로 쓰기
func (c *wsClient) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Printf("⚠️ [Hub] WebSocket write error: %v", err)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

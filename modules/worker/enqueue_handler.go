package worker

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"monday-angles-server/modules/common/config"
	redisClient "monday-angles-server/modules/common/redis"
	"monday-angles-server/modules/studio"
)

// EnqueueHandler - Redis Queue Enqueue Handler
type EnqueueHandler struct {
	rdb     *redis.Client
	manager *studio.Manager
}

// EnqueueRequest - Enqueue 요청
type EnqueueRequest struct {
	SessionID string `json:"sessionId"`
	BatchSize int    `json:"batchSize"`
}

// EnqueueResponse - Enqueue 응답
type EnqueueResponse struct {
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
	JobID         string `json:"jobId,omitempty"`
	Queue         string `json:"queue,omitempty"`
	QueuePosition int64  `json:"queuePosition,omitempty"`
}

// NewEnqueueHandler - EnqueueHandler 생성 (Redis 미설정이면 nil)
func NewEnqueueHandler(manager *studio.Manager) *EnqueueHandler {
	cfg := config.GetConfig()

	rdb := redisClient.Connect(cfg)
	if rdb == nil {
		log.Println("⚠️ [Enqueue] Redis unavailable, enqueue handler disabled")
		return nil
	}

	log.Println("✅ [Enqueue] Handler initialized with Redis connection")
	return &EnqueueHandler{
		rdb:     rdb,
		manager: manager,
	}
}

// RegisterRoutes - 라우트 등록
func (h *EnqueueHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/enqueue", h.HandleEnqueue).Methods("POST", "OPTIONS")
	log.Println("✅ Enqueue routes registered: /api/enqueue")
}

// HandleEnqueue - POST /api/enqueue
// 배치 job을 큐에 넣고 즉시 응답. 진행은 WebSocket 이벤트로 관찰
func (h *EnqueueHandler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("❌ [Enqueue] Invalid request: %v", err)
		json.NewEncoder(w).Encode(EnqueueResponse{
			Success: false,
			Error:   "Invalid request body",
		})
		return
	}

	if strings.TrimSpace(req.SessionID) == "" {
		json.NewEncoder(w).Encode(EnqueueResponse{
			Success: false,
			Error:   "sessionId is required",
		})
		return
	}

	// 세션과 원본이 준비됐는지 먼저 확인 (발사 전 실패는 여기서 걸러냄)
	sess := h.manager.Get(req.SessionID)
	if sess == nil {
		json.NewEncoder(w).Encode(EnqueueResponse{
			Success: false,
			Error:   "Session not found",
		})
		return
	}
	if _, _, ok := sess.Source(); !ok {
		json.NewEncoder(w).Encode(EnqueueResponse{
			Success: false,
			Error:   "Source image is required",
		})
		return
	}

	batchSize := req.BatchSize
	if batchSize == 0 {
		batchSize = 1
	}

	job := BatchJob{
		JobID:     uuid.New().String(),
		SessionID: req.SessionID,
		BatchSize: batchSize,
	}

	payload, err := json.Marshal(job)
	if err != nil {
		json.NewEncoder(w).Encode(EnqueueResponse{
			Success: false,
			Error:   "Failed to encode job",
		})
		return
	}

	position, err := h.rdb.LPush(r.Context(), QueueKey, payload).Result()
	if err != nil {
		log.Printf("❌ [Enqueue] Failed to enqueue job: %v", err)
		json.NewEncoder(w).Encode(EnqueueResponse{
			Success: false,
			Error:   "Failed to enqueue job",
		})
		return
	}

	log.Printf("📬 [Enqueue] Job %s enqueued (session: %s, position: %d)",
		job.JobID, job.SessionID, position)

	json.NewEncoder(w).Encode(EnqueueResponse{
		Success:       true,
		JobID:         job.JobID,
		Queue:         QueueKey,
		QueuePosition: position,
	})
}

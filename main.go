package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"monday-angles-server/modules/common/config"
	"monday-angles-server/modules/studio"
	"monday-angles-server/modules/worker"
)

// enableCORS - CORS 미들웨어
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// healthCheck - 헬스 체크 엔드포인트
func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "monday-angles-studio",
	})
}

func main() {
	// 환경변수 로드
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// 세션 매니저 + 정리 루틴
	manager := studio.NewManager()
	manager.StartCleanupRoutine()

	// 이벤트 hub
	hub := studio.NewHub()

	// Gemini 서비스
	service := studio.NewService()
	if service == nil {
		log.Fatal("❌ Failed to initialize studio service")
	}

	// 배치 스케줄러 (task 간 stagger는 설정으로 조정)
	scheduler := studio.NewScheduler(
		service.RequestAngle,
		time.Duration(cfg.TaskStaggerMs)*time.Millisecond,
		hub.Broadcast,
	)

	// Redis Queue Worker 시작 (백그라운드, Redis 미설정이면 바로 종료)
	go worker.StartWorker(manager, scheduler)

	// 라우터 설정
	r := mux.NewRouter()
	r.Use(enableCORS)

	// 기본 라우트
	r.HandleFunc("/", healthCheck).Methods("GET")
	r.HandleFunc("/health", healthCheck).Methods("GET")
	r.HandleFunc("/ws", hub.HandleWS)
	r.HandleFunc("/metrics", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(manager.Snapshot())
	}).Methods("GET")

	// 스튜디오 라우트
	studioHandler := studio.NewHandler(manager, service, scheduler)
	studioHandler.RegisterRoutes(r)

	// Enqueue 라우트 (Redis가 있을 때만)
	if enqueueHandler := worker.NewEnqueueHandler(manager); enqueueHandler != nil {
		enqueueHandler.RegisterRoutes(r)
	}

	log.Printf("🚀 Monday Angles Studio Server starting on port %s", cfg.Port)
	log.Printf("📡 WebSocket events: ws://localhost:%s/ws?session=<id>", cfg.Port)
	log.Printf("❤️  Health check: http://localhost:%s/health", cfg.Port)
	log.Printf("📊 Metrics: http://localhost:%s/metrics", cfg.Port)

	// 서버 시작
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

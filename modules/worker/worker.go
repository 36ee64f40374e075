package worker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"monday-angles-server/modules/common/config"
	redisClient "monday-angles-server/modules/common/redis"
	"monday-angles-server/modules/studio"
)

// QueueKey - 배치 job 큐
const QueueKey = "studio:jobs"

// BatchJob - 큐에 들어가는 배치 job payload
type BatchJob struct {
	JobID     string `json:"jobId"`
	SessionID string `json:"sessionId"`
	BatchSize int    `json:"batchSize"`
}

// StartWorker - Redis Queue Worker 시작
// 큐에서 배치 job을 꺼내 해당 세션에 대해 배치를 발사함
// Redis 미설정이면 워커는 돌지 않음 (동기 API 경로만 사용)
func StartWorker(manager *studio.Manager, scheduler *studio.Scheduler) {
	log.Println("🔄 Redis Queue Worker starting...")

	cfg := config.GetConfig()

	rdb := redisClient.Connect(cfg)
	if rdb == nil {
		log.Println("⚠️ [Worker] Redis unavailable, queue worker disabled")
		return
	}

	log.Printf("👀 Watching queue: %s", QueueKey)

	ctx := context.Background()

	// 무한 루프로 Queue 감시
	for {
		// Job 받기 (BRPOP - Blocking Right Pop)
		result, err := rdb.BRPop(ctx, 0, QueueKey).Result()
		if err != nil {
			log.Printf("❌ [Worker] Redis BRPOP error: %v", err)
			time.Sleep(5 * time.Second)
			continue
		}

		// result[0]은 큐 이름, result[1]이 실제 payload
		payload := result[1]
		log.Printf("🎯 [Worker] Received new job: %s", payload)

		// Job 처리 (goroutine으로 비동기)
		go processJob(ctx, manager, scheduler, payload)
	}
}

// processJob - 배치 job 처리
// 개별 task 실패는 배치를 중단시키지 않음. 진행/결과는 세션과 hub 이벤트로 관찰
func processJob(ctx context.Context, manager *studio.Manager, scheduler *studio.Scheduler, payload string) {
	var job BatchJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		log.Printf("❌ [Worker] Invalid job payload: %v", err)
		return
	}

	log.Printf("🚀 [Worker] Processing job %s (session: %s, batchSize: %d)",
		job.JobID, job.SessionID, job.BatchSize)

	sess := manager.Get(job.SessionID)
	if sess == nil {
		log.Printf("❌ [Worker] Session not found for job %s: %s", job.JobID, job.SessionID)
		return
	}

	batch, err := scheduler.LaunchBatch(ctx, sess, job.BatchSize)
	if err != nil {
		log.Printf("❌ [Worker] Job %s failed to start: %v", job.JobID, err)
		return
	}

	// 이벤트를 소모하며 로그만 남김 (클라이언트는 WebSocket으로 같은 이벤트를 받음)
	successCount := 0
	for _, ev := range batch.Wait() {
		if ev.Type == studio.EventTaskCompleted {
			successCount++
		}
	}

	log.Printf("✅ [Worker] Job %s completed: %d/%d tasks succeeded",
		job.JobID, successCount, len(batch.Tasks))
}

package studio

import (
	"context"
	"fmt"
	"log"
	"time"
)

// GenerateFunc - task 하나를 이미지로 바꾸는 함수. 테스트에서 fake 주입용
type GenerateFunc func(ctx context.Context, source []byte, sourceMime string, cfg AngleConfig) ([]byte, error)

// TaskEvent - task/배치 해소 이벤트 (WebSocket으로도 브로드캐스트됨)
type TaskEvent struct {
	Type        string `json:"type"` // task_completed | task_failed | batch_completed
	SessionID   string `json:"sessionId"`
	TaskIndex   int    `json:"taskIndex"`
	Label       string `json:"label,omitempty"`
	ImageID     string `json:"imageId,omitempty"`
	IsVariation bool   `json:"isVariation,omitempty"`
	Error       string `json:"error,omitempty"`
	Completed   int    `json:"completed"`
	Total       int    `json:"total"`
}

// 이벤트 타입
const (
	EventTaskCompleted  = "task_completed"
	EventTaskFailed     = "task_failed"
	EventBatchCompleted = "batch_completed"
)

// Scheduler - 배치 파생/발사/수렴 담당
type Scheduler struct {
	generate GenerateFunc
	stagger  time.Duration
	notify   func(sessionID string, ev TaskEvent) // nil 가능
}

// NewScheduler - Scheduler 생성
func NewScheduler(generate GenerateFunc, stagger time.Duration, notify func(string, TaskEvent)) *Scheduler {
	return &Scheduler{
		generate: generate,
		stagger:  stagger,
		notify:   notify,
	}
}

// DeriveTasks - 기준 설정에서 배치 task 목록 파생 (결정적)
// batchSize 1 → 기준 샷만, 2 → +45° 변형 추가, 4 → -45° 변형과 tilt 25° 변형 추가
// 회전 변형은 도메인 [-180, 180]을 벗어나면 반대 방향으로 wrap
func DeriveTasks(base AngleConfig, batchSize int) ([]GenerationTask, error) {
	if batchSize != 1 && batchSize != 2 && batchSize != 4 {
		return nil, ErrInvalidBatchSize
	}

	label := LabelRenderingAngle
	if len(base.ReferenceImage) > 0 {
		label = LabelMatchingReference
	}

	tasks := []GenerationTask{
		{
			Settings:    base,
			Label:       label,
			LaunchOrder: 0,
			IsVariation: false,
		},
	}

	baseRot := base.Rotation

	if batchSize >= 2 {
		v := base
		if baseRot+45 > MaxRotation {
			v.Rotation = baseRot - 45
		} else {
			v.Rotation = baseRot + 45
		}
		v.Tilt = 0
		tasks = append(tasks, GenerationTask{
			Settings:    v,
			Label:       VariationLabel(1),
			LaunchOrder: 1,
			IsVariation: true,
		})
	}

	if batchSize >= 4 {
		v2 := base
		if baseRot-45 < MinRotation {
			v2.Rotation = baseRot + 45
		} else {
			v2.Rotation = baseRot - 45
		}
		v2.Tilt = 0
		tasks = append(tasks, GenerationTask{
			Settings:    v2,
			Label:       VariationLabel(2),
			LaunchOrder: 2,
			IsVariation: true,
		})

		v3 := base
		v3.Tilt = 25
		tasks = append(tasks, GenerationTask{
			Settings:    v3,
			Label:       VariationLabel(3),
			LaunchOrder: 3,
			IsVariation: true,
		})
	}

	return tasks, nil
}

// Batch - 발사된 배치의 이벤트 스트림
type Batch struct {
	SessionID string
	Tasks     []GenerationTask
	events    chan TaskEvent
}

// Events - 이벤트 채널. batch_completed 이후 닫힘
// 채널은 task 수 + 1 만큼 버퍼링되어 있어 소비하지 않아도 배치는 진행됨
func (b *Batch) Events() <-chan TaskEvent {
	return b.events
}

// Wait - 배치 종료까지 이벤트를 소모하며 대기, 전체 이벤트 목록 반환
func (b *Batch) Wait() []TaskEvent {
	var events []TaskEvent
	for ev := range b.events {
		events = append(events, ev)
	}
	return events
}

// taskOutcome - task 하나의 해소 결과 (coordinator 전용)
type taskOutcome struct {
	index int
	image []byte
	err   error
}

// LaunchBatch - 배치 발사
// task i는 배치 시작 후 i × stagger 시점에 발사되고, 발사된 task들은 서로
// 기다리지 않고 독립적으로 해소됨. 해소 순서는 보장하지 않음.
// 발사 전 실패(원본 없음, 잘못된 batchSize)는 에러 반환 + 세션을 에러 상태로 전환
func (sc *Scheduler) LaunchBatch(ctx context.Context, sess *Session, batchSize int) (*Batch, error) {
	source, sourceMime, base, epoch, err := sess.beginBatch()
	if err != nil {
		log.Printf("❌ [Scheduler] Session %s: batch failed to start: %v", sess.ID, err)
		return nil, err
	}

	tasks, err := DeriveTasks(base, batchSize)
	if err != nil {
		sess.failToStart(err.Error())
		return nil, err
	}

	log.Printf("🚀 [Scheduler] Session %s: launching batch of %d (stagger: %v, epoch: %d)",
		sess.ID, len(tasks), sc.stagger, epoch)

	batch := &Batch{
		SessionID: sess.ID,
		Tasks:     tasks,
		events:    make(chan TaskEvent, len(tasks)+1),
	}

	resultCh := make(chan taskOutcome, len(tasks))

	// task 발사 - index 순서대로, stagger 간격으로
	for i, task := range tasks {
		go sc.runTask(ctx, source, sourceMime, task, time.Duration(i)*sc.stagger, resultCh)
	}

	// coordinator - 단일 소비자로 결과 수렴 (히스토리/선택/카운터는 여기서만 변경)
	go sc.coordinate(sess, batch, epoch, resultCh)

	return batch, nil
}

// runTask - task 하나 실행. 발사 지연 후 생성 호출, 결과를 coordinator로 전달
func (sc *Scheduler) runTask(ctx context.Context, source []byte, sourceMime string, task GenerationTask, delay time.Duration, resultCh chan<- taskOutcome) {
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			resultCh <- taskOutcome{index: task.LaunchOrder, err: ctx.Err()}
			return
		}
	}

	log.Printf("🎨 [Scheduler] Task %d: %s", task.LaunchOrder, task.Label)

	image, err := sc.generate(ctx, source, sourceMime, task.Settings)
	resultCh <- taskOutcome{index: task.LaunchOrder, image: image, err: err}
}

// coordinate - task 해소를 하나씩 수렴
// 실패한 task는 히스토리에 남기지 않고 형제 task에도 영향 없음.
// 배치 완료는 N개 중 N번째 해소가 도착했을 때만 선언됨 (성공 여부 무관)
func (sc *Scheduler) coordinate(sess *Session, batch *Batch, epoch int, resultCh <-chan taskOutcome) {
	total := len(batch.Tasks)
	completed := 0

	for completed < total {
		outcome := <-resultCh
		completed++
		task := batch.Tasks[outcome.index]

		var ev TaskEvent
		if outcome.err != nil {
			log.Printf("❌ [Scheduler] Task %d failed: %v", outcome.index, outcome.err)
			ev = TaskEvent{
				Type:      EventTaskFailed,
				SessionID: batch.SessionID,
				TaskIndex: outcome.index,
				Label:     task.Label,
				Error:     fmt.Sprintf("Generation failed: %v", outcome.err),
				Completed: completed,
				Total:     total,
			}
		} else {
			img := GeneratedImage{
				ID:          NewImageID(),
				ImageData:   outcome.image,
				CreatedAt:   time.Now(),
				Settings:    task.Settings,
				IsVariation: task.IsVariation,
			}
			sess.appendResult(img, outcome.index, epoch)

			log.Printf("✅ [Scheduler] Task %d completed: %s (%d bytes)",
				outcome.index, img.ID, len(img.ImageData))
			ev = TaskEvent{
				Type:        EventTaskCompleted,
				SessionID:   batch.SessionID,
				TaskIndex:   outcome.index,
				Label:       task.Label,
				ImageID:     img.ID,
				IsVariation: img.IsVariation,
				Completed:   completed,
				Total:       total,
			}
		}

		sc.emit(batch, ev)
	}

	sess.completeBatch(epoch)
	log.Printf("🏁 [Scheduler] Session %s: batch completed (%d/%d tasks resolved)",
		batch.SessionID, completed, total)

	sc.emit(batch, TaskEvent{
		Type:      EventBatchCompleted,
		SessionID: batch.SessionID,
		Completed: completed,
		Total:     total,
	})
	close(batch.events)
}

// emit - 배치 스트림과 WebSocket hub 양쪽으로 이벤트 전달
func (sc *Scheduler) emit(batch *Batch, ev TaskEvent) {
	select {
	case batch.events <- ev:
	default:
		// 버퍼가 가득 차는 일은 없어야 하지만, 배치 진행을 막지는 않음
	}
	if sc.notify != nil {
		sc.notify(batch.SessionID, ev)
	}
}

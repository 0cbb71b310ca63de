package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exam-monitor/internal/shared/model"
	"exam-monitor/internal/shared/storage"
	"exam-monitor/internal/shared/storage/driver/sqlite"
	"exam-monitor/internal/shared/storage/repository"
)

type recordingNotifier struct {
	mu     sync.Mutex
	queued []string
}

func (n *recordingNotifier) CommandQueued(_ string, cmd *model.Command) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.queued = append(n.queued, cmd.ID)
}

func newTestRelay(t *testing.T) (*Relay, *repository.Store, *recordingNotifier) {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	// 内存库多连接会各自拿到独立数据库，强制单连接
	db.SetMaxOpenConns(1)
	dialect := sqlite.NewDialect()
	require.NoError(t, dialect.AutoMigrate(db))
	store := repository.NewStore(db, dialect)
	t.Cleanup(func() { store.Close() })

	notifier := &recordingNotifier{}
	return New(store, notifier), store, notifier
}

func seedSession(t *testing.T, store *repository.Store, id string) *model.Session {
	t.Helper()
	now := time.Now()
	session := &model.Session{
		ID:        id,
		StudentID: "its-1001",
		Status:    model.SessionStatusActive,
		StartTime: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateSession(context.Background(), session))
	return session
}

func TestEnqueue(t *testing.T) {
	relay, store, notifier := newTestRelay(t)
	ctx := context.Background()
	seedSession(t, store, "sess-a")

	cmd, err := relay.Enqueue(ctx, &EnqueueRequest{
		SessionID: "sess-a",
		Type:      model.CommandTypeMouseClick,
		Payload:   []byte(`{"x":100,"y":200,"button":"left"}`),
		IssuedBy:  "admin-1",
	})
	require.NoError(t, err)
	assert.Equal(t, model.CommandStatusPending, cmd.Status)
	assert.Equal(t, "admin-1", cmd.IssuedBy)
	assert.Equal(t, []string{cmd.ID}, notifier.queued)

	// 下发动作进活动日志
	activities, err := store.ListActivitiesBySession(ctx, "sess-a", string(model.ActivityTypeCommandIssued), 10, 0)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, "admin-1", activities[0].Actor)
}

func TestEnqueueValidation(t *testing.T) {
	relay, store, _ := newTestRelay(t)
	ctx := context.Background()
	seedSession(t, store, "sess-a")

	// 未知类型在入队时即拒绝
	_, err := relay.Enqueue(ctx, &EnqueueRequest{
		SessionID: "sess-a",
		Type:      "reboot",
	})
	assert.ErrorIs(t, err, ErrUnknownCommandType)

	// 载荷形状不匹配
	_, err = relay.Enqueue(ctx, &EnqueueRequest{
		SessionID: "sess-a",
		Type:      model.CommandTypeTypeText,
		Payload:   []byte(`{"text":""}`),
	})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	// 未知会话
	_, err = relay.Enqueue(ctx, &EnqueueRequest{
		SessionID: "sess-missing",
		Type:      model.CommandTypeCaptureScreenshot,
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// 终态会话
	_, err = store.EndSession(ctx, "sess-a", time.Now())
	require.NoError(t, err)
	_, err = relay.Enqueue(ctx, &EnqueueRequest{
		SessionID: "sess-a",
		Type:      model.CommandTypeCaptureScreenshot,
	})
	assert.ErrorIs(t, err, ErrSessionEnded)
}

func TestPollPendingFIFO(t *testing.T) {
	relay, store, _ := newTestRelay(t)
	ctx := context.Background()
	seedSession(t, store, "sess-a")

	var issued []string
	for i := 0; i < 3; i++ {
		cmd, err := relay.Enqueue(ctx, &EnqueueRequest{
			SessionID: "sess-a",
			Type:      model.CommandTypeCaptureScreenshot,
		})
		require.NoError(t, err)
		issued = append(issued, cmd.ID)
		time.Sleep(2 * time.Millisecond) // created_at 必须可区分顺序
	}

	claimed, err := relay.PollPending(ctx, "sess-a", 0)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	for i, cmd := range claimed {
		assert.Equal(t, issued[i], cmd.ID)
		assert.Equal(t, model.CommandStatusExecuting, cmd.Status)
		assert.NotNil(t, cmd.ExecutedAt)
	}

	// 已领取的不会再次出现
	again, err := relay.PollPending(ctx, "sess-a", 0)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestPollPendingConcurrent(t *testing.T) {
	relay, store, _ := newTestRelay(t)
	ctx := context.Background()
	seedSession(t, store, "sess-a")

	const total = 20
	for i := 0; i < total; i++ {
		_, err := relay.Enqueue(ctx, &EnqueueRequest{
			SessionID: "sess-a",
			Type:      model.CommandTypeCaptureScreenshot,
		})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]int)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := relay.PollPending(ctx, "sess-a", 5)
				if err != nil || len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, cmd := range claimed {
					seen[cmd.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// 每条指令恰好被投递一次
	assert.Len(t, seen, total)
	for id, count := range seen {
		assert.Equalf(t, 1, count, "command %s delivered %d times", id, count)
	}
}

func TestPollPendingEndedSession(t *testing.T) {
	relay, store, _ := newTestRelay(t)
	ctx := context.Background()
	seedSession(t, store, "sess-a")

	_, err := store.EndSession(ctx, "sess-a", time.Now())
	require.NoError(t, err)

	_, err = relay.PollPending(ctx, "sess-a", 0)
	assert.ErrorIs(t, err, ErrSessionEnded)
}

func TestReportResult(t *testing.T) {
	relay, store, _ := newTestRelay(t)
	ctx := context.Background()
	seedSession(t, store, "sess-a")

	cmd, err := relay.Enqueue(ctx, &EnqueueRequest{
		SessionID: "sess-a",
		Type:      model.CommandTypeExecuteShell,
		Payload:   []byte(`{"command":"whoami"}`),
	})
	require.NoError(t, err)

	// pending 指令不能直接上报结果
	_, err = relay.ReportResult(ctx, cmd.ID, model.CommandStatusCompleted, []byte(`{"stdout":"student"}`))
	assert.ErrorIs(t, err, ErrInvalidTransition)

	claimed, err := relay.PollPending(ctx, "sess-a", 0)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	done, err := relay.ReportResult(ctx, cmd.ID, model.CommandStatusCompleted, []byte(`{"stdout":"student"}`))
	require.NoError(t, err)
	assert.Equal(t, model.CommandStatusCompleted, done.Status)
	assert.JSONEq(t, `{"stdout":"student"}`, string(done.Result))

	// 重复上报同一终态幂等
	dup, err := relay.ReportResult(ctx, cmd.ID, model.CommandStatusCompleted, []byte(`{"stdout":"other"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"stdout":"student"}`, string(dup.Result))

	// 上报不同终态被拒绝
	_, err = relay.ReportResult(ctx, cmd.ID, model.CommandStatusFailed, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// 非终态状态值不接受
	_, err = relay.ReportResult(ctx, cmd.ID, model.CommandStatusExecuting, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestWatchdog(t *testing.T) {
	relay, store, _ := newTestRelay(t)
	ctx := context.Background()
	seedSession(t, store, "sess-a")

	cmd, err := relay.Enqueue(ctx, &EnqueueRequest{
		SessionID: "sess-a",
		Type:      model.CommandTypeCaptureScreenshot,
	})
	require.NoError(t, err)
	_, err = relay.PollPending(ctx, "sess-a", 0)
	require.NoError(t, err)

	// 直接调存储层模拟看门狗扫描，阈值取未来时刻使刚投递的指令判定为超时
	n, err := store.FailStaleExecuting(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	failed, err := store.GetCommand(ctx, cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CommandStatusFailed, failed.Status)

	var result map[string]string
	require.NoError(t, json.Unmarshal(failed.Result, &result))
	assert.Contains(t, result["error"], "timed out")
}

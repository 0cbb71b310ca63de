package mongostore

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"exam-monitor/internal/shared/model"
	"exam-monitor/internal/shared/storage"
)

// testStore 创建测试用 Store，使用独立数据库避免污染
func testStore(t *testing.T) *Store {
	t.Helper()

	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	dbName := "exam_monitor_test"
	s, err := NewStore(uri, dbName)
	if err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}

	// 清空测试数据库
	ctx := context.Background()
	if err := s.db.Drop(ctx); err != nil {
		t.Fatalf("Failed to drop test database: %v", err)
	}
	// 重新创建索引
	if err := s.ensureIndexes(ctx); err != nil {
		t.Fatalf("Failed to create indexes: %v", err)
	}

	t.Cleanup(func() {
		s.db.Drop(context.Background())
		s.Close()
	})

	return s
}

// Compile-time interface check
var _ storage.PersistentStore = (*Store)(nil)

func testSession(id string) *model.Session {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &model.Session{
		ID:        id,
		StudentID: "its-1001",
		Status:    model.SessionStatusActive,
		StartTime: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, testSession("sess-m1")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Duplicate insert
	if err := s.CreateSession(ctx, testSession("sess-m1")); err == nil {
		t.Fatal("Expected duplicate error")
	}

	got, err := s.GetSession(ctx, "sess-m1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != model.SessionStatusActive {
		t.Errorf("Status = %q, want active", got.Status)
	}

	// active → disconnected → active → ended
	ok, err := s.MarkSessionDisconnected(ctx, "sess-m1")
	if err != nil || !ok {
		t.Fatalf("MarkSessionDisconnected: ok=%v err=%v", ok, err)
	}
	ok, err = s.ReconnectSession(ctx, "sess-m1")
	if err != nil || !ok {
		t.Fatalf("ReconnectSession: ok=%v err=%v", ok, err)
	}
	ok, err = s.EndSession(ctx, "sess-m1", time.Now())
	if err != nil || !ok {
		t.Fatalf("EndSession: ok=%v err=%v", ok, err)
	}

	// 重复结束：未命中
	ok, err = s.EndSession(ctx, "sess-m1", time.Now())
	if err != nil {
		t.Fatalf("EndSession second: %v", err)
	}
	if ok {
		t.Error("second EndSession should be a no-op")
	}

	// 终态不可逆
	ok, _ = s.ReconnectSession(ctx, "sess-m1")
	if ok {
		t.Error("ReconnectSession on ended session should fail")
	}

	// 不存在的会话
	if _, err := s.EndSession(ctx, "nonexistent", time.Now()); err != storage.ErrNotFound {
		t.Errorf("EndSession(nonexistent) = %v, want ErrNotFound", err)
	}
}

func TestCommandClaim(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, testSession("sess-m2")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, id := range []string{"cmd-1", "cmd-2", "cmd-3"} {
		cmd := &model.Command{
			ID:        id,
			SessionID: "sess-m2",
			Type:      model.CommandTypeKeyPress,
			Payload:   json.RawMessage(`{"key":"F5"}`),
			Status:    model.CommandStatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.CreateCommand(ctx, cmd); err != nil {
			t.Fatalf("CreateCommand(%s): %v", id, err)
		}
	}

	claimed, err := s.ClaimPendingCommands(ctx, "sess-m2", 2)
	if err != nil {
		t.Fatalf("ClaimPendingCommands: %v", err)
	}
	if len(claimed) != 2 || claimed[0].ID != "cmd-1" || claimed[1].ID != "cmd-2" {
		t.Fatalf("claimed = %+v, want cmd-1, cmd-2", claimed)
	}
	if claimed[0].Status != model.CommandStatusExecuting || claimed[0].ExecutedAt == nil {
		t.Error("claimed command should be executing with executed_at set")
	}

	// 剩余一条
	claimed, err = s.ClaimPendingCommands(ctx, "sess-m2", 10)
	if err != nil {
		t.Fatalf("ClaimPendingCommands: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != "cmd-3" {
		t.Fatalf("claimed = %+v, want cmd-3", claimed)
	}

	// 结果上报
	ok, err := s.FinishCommand(ctx, "cmd-1", model.CommandStatusCompleted, json.RawMessage(`{"ok":true}`))
	if err != nil || !ok {
		t.Fatalf("FinishCommand: ok=%v err=%v", ok, err)
	}
	ok, _ = s.FinishCommand(ctx, "cmd-1", model.CommandStatusFailed, nil)
	if ok {
		t.Error("FinishCommand on terminal command should be a no-op")
	}

	// 看门狗
	n, err := s.FailStaleExecuting(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("FailStaleExecuting: %v", err)
	}
	if n != 2 {
		t.Errorf("FailStaleExecuting = %d, want 2", n)
	}
}

func TestActivityAndSummary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, testSession("sess-m3")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	for _, typ := range []model.ActivityType{model.ActivityTypeLogin, model.ActivityTypeSuspicious} {
		entry := &model.ActivityLogEntry{
			SessionID: "sess-m3", StudentID: "its-1001", Type: typ,
			Actor: model.ActorStudent, CreatedAt: now,
		}
		if err := s.AppendActivity(ctx, entry); err != nil {
			t.Fatalf("AppendActivity(%s): %v", typ, err)
		}
		if entry.ID == 0 {
			t.Error("AppendActivity should assign a sequence id")
		}
	}

	entries, err := s.ListActivitiesBySession(ctx, "sess-m3", "", 100, 0)
	if err != nil {
		t.Fatalf("ListActivitiesBySession: %v", err)
	}
	if len(entries) != 2 || entries[0].Type != model.ActivityTypeLogin {
		t.Fatalf("entries = %+v, want login first", entries)
	}

	summaries, err := s.ListActiveSummaries(ctx)
	if err != nil {
		t.Fatalf("ListActiveSummaries: %v", err)
	}
	if len(summaries) != 1 || summaries[0].ActivityCount != 2 || summaries[0].SuspiciousCount != 1 {
		t.Fatalf("summaries = %+v", summaries)
	}
}

func TestStudentAndAdmin(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	student := &model.Student{ITSID: "its-3001", FullName: "王五", CreatedAt: now, UpdatedAt: now}
	if err := s.UpsertStudent(ctx, student); err != nil {
		t.Fatalf("UpsertStudent: %v", err)
	}
	student.FullName = "王五改"
	if err := s.UpsertStudent(ctx, student); err != nil {
		t.Fatalf("UpsertStudent update: %v", err)
	}
	got, err := s.GetStudentByITSID(ctx, "its-3001")
	if err != nil {
		t.Fatalf("GetStudentByITSID: %v", err)
	}
	if got.FullName != "王五改" {
		t.Errorf("FullName = %q", got.FullName)
	}
	if err := s.RecordStudentConsent(ctx, "its-3001"); err != nil {
		t.Fatalf("RecordStudentConsent: %v", err)
	}

	admin := &model.AdminUser{
		ID: "adm-m1", Username: "chief", PasswordHash: "$2a$12$x",
		Role: model.RoleSuperAdmin, Active: true, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.CreateAdminUser(ctx, admin); err != nil {
		t.Fatalf("CreateAdminUser: %v", err)
	}
	gotAdmin, err := s.GetAdminByUsername(ctx, "chief")
	if err != nil {
		t.Fatalf("GetAdminByUsername: %v", err)
	}
	if gotAdmin.ID != "adm-m1" || gotAdmin.Role != model.RoleSuperAdmin {
		t.Errorf("admin = %+v", gotAdmin)
	}
	if err := s.UpdateAdminLastLogin(ctx, "adm-m1", time.Now()); err != nil {
		t.Fatalf("UpdateAdminLastLogin: %v", err)
	}
}

package docstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"uniassist/internal/errkind"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "docs.db"), nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDocumentCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	doc := &Document{
		Title:       "Quy định học vụ",
		Collection:  "regulations",
		Content:     "Nội dung quy định...",
		Metadata:    map[string]any{"category": "academic"},
		Tags:        []string{"quy định"},
		ContentHash: "abc123",
		ChunkCount:  2,
		VectorIDs:   []string{"v1", "v2"},
		Artifacts: []Artifact{
			{StorageKey: "data/x/0-form.docx", ArtifactType: "form", FileName: "form.docx",
				MimeType:  "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
				SizeBytes: 1234, IsFillable: true, FillFields: []string{"name", "student_id"}},
		},
		PrimaryArtifactIndex: 0,
	}
	if err := s.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if doc.ID == "" {
		t.Fatal("expected generated id")
	}

	got, err := s.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Title != doc.Title || !got.IsActive {
		t.Fatalf("unexpected document: %+v", got)
	}
	if len(got.VectorIDs) != 2 || got.VectorIDs[1] != "v2" {
		t.Fatalf("vector ids lost: %v", got.VectorIDs)
	}
	if len(got.Artifacts) != 1 || !got.Artifacts[0].IsFillable {
		t.Fatalf("artifacts lost: %v", got.Artifacts)
	}
	if got.Metadata["category"] != "academic" {
		t.Fatalf("metadata lost: %v", got.Metadata)
	}

	got.Title = "Quy định học vụ 2026"
	if err := s.UpdateDocument(ctx, got); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	if err := s.ArchiveDocument(ctx, doc.ID); err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	archived, _ := s.GetDocument(ctx, doc.ID)
	if archived.IsActive {
		t.Fatal("archive did not clear is_active")
	}

	if err := s.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.GetDocument(ctx, doc.ID); !errkind.Is(err, errkind.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestDocumentInvariants(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	bad := &Document{Title: "x", Content: "y", ChunkCount: 3, VectorIDs: []string{"v1"}, PrimaryArtifactIndex: -1}
	if err := s.CreateDocument(ctx, bad); !errkind.Is(err, errkind.Internal) {
		t.Fatalf("expected chunk/vector mismatch error, got %v", err)
	}

	bad2 := &Document{Title: "x", Content: "y", PrimaryArtifactIndex: 2}
	if err := s.CreateDocument(ctx, bad2); !errkind.Is(err, errkind.InvalidInput) {
		t.Fatalf("expected index range error, got %v", err)
	}
}

func TestFindDocumentsByHash(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, hash := range []string{"h1", "h1", "h2"} {
		doc := &Document{Title: "doc", Content: "c", ContentHash: hash, PrimaryArtifactIndex: -1}
		if i == 1 {
			doc.IsActive = false
		}
		if err := s.CreateDocument(ctx, doc); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if i == 1 {
			// Archive to verify inactive docs are excluded from hash lookup.
			if err := s.ArchiveDocument(ctx, doc.ID); err != nil {
				t.Fatalf("archive failed: %v", err)
			}
		}
	}
	docs, err := s.FindDocumentsByHash(ctx, "h1")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 active doc with h1, got %d", len(docs))
	}
}

func TestPendingUpdateLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := &PendingUpdate{Title: "Thông báo mới", Content: "c", ContentHash: "hash1", DetectionType: DetectionNew}
	if err := s.CreatePendingUpdate(ctx, p); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if p.Status != StatusPending {
		t.Fatalf("status = %q, want pending", p.Status)
	}

	ok, err := s.PendingHashExists(ctx, "hash1")
	if err != nil || !ok {
		t.Fatalf("hash should exist: ok=%v err=%v", ok, err)
	}

	if err := s.TransitionPendingUpdate(ctx, p.ID, StatusApproved); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	// Second transition must lose the compare-and-set.
	if err := s.TransitionPendingUpdate(ctx, p.ID, StatusRejected); !errkind.Is(err, errkind.Conflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestPendingDuplicateRejectedAtCreation(t *testing.T) {
	s := openTestStore(t)
	p := &PendingUpdate{Title: "t", Content: "c", ContentHash: "h", DetectionType: DetectionDuplicate}
	if err := s.CreatePendingUpdate(context.Background(), p); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if p.Status != StatusRejected {
		t.Fatalf("duplicate should be rejected at creation, got %q", p.Status)
	}
}

func TestMonitorTargetDueAndClaim(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	target := &MonitorTarget{URL: "https://uni.example/thong-bao", IntervalHours: 6}
	if err := s.UpsertMonitorTarget(ctx, target); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	targets, err := s.ListActiveTargets(ctx)
	if err != nil || len(targets) != 1 {
		t.Fatalf("list: %v, %d targets", err, len(targets))
	}
	got := targets[0]
	if !got.Due(now) {
		t.Fatal("never-checked target should be due")
	}

	if err := s.ClaimTarget(ctx, got, now); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	// A second claimer holding the stale snapshot loses.
	stale := *got
	stale.LastCheckedAt = nil
	if err := s.ClaimTarget(ctx, &stale, now); !errkind.Is(err, errkind.Conflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}

	if got.Due(now.Add(time.Hour)) {
		t.Fatal("recently checked target should not be due")
	}
	if !got.Due(now.Add(7 * time.Hour)) {
		t.Fatal("target past interval should be due")
	}
}

func TestMonitorTargetFailureDeactivation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	target := &MonitorTarget{URL: "https://uni.example/broken", MaxFailures: 2}
	if err := s.UpsertMonitorTarget(ctx, target); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	deactivated, err := s.RecordTargetFailure(ctx, target.ID, "timeout")
	if err != nil || deactivated {
		t.Fatalf("first failure should not deactivate: %v %v", deactivated, err)
	}
	deactivated, err = s.RecordTargetFailure(ctx, target.ID, "timeout")
	if err != nil || !deactivated {
		t.Fatalf("second failure should deactivate: %v %v", deactivated, err)
	}
	targets, _ := s.ListActiveTargets(ctx)
	if len(targets) != 0 {
		t.Fatalf("deactivated target still listed: %d", len(targets))
	}
}

func TestSearchLogAndGaps(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	log := &SearchLog{
		Query:       "học phí kỳ này bao nhiêu",
		TopScore:    0.42,
		Results:     []SearchHit{{DocumentID: "d1", Title: "Học phí", Score: 0.42}},
		ResultCount: 1, ResultQuality: "low", Collection: "default",
	}
	if err := s.InsertSearchLog(ctx, log); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	logs, err := s.ListSearchLogsSince(ctx, time.Now().Add(-time.Hour))
	if err != nil || len(logs) != 1 {
		t.Fatalf("list: %v, %d logs", err, len(logs))
	}
	if logs[0].Results[0].DocumentID != "d1" {
		t.Fatalf("results lost: %+v", logs[0].Results)
	}

	gap := &KnowledgeGap{
		Topic: "học phí", SampleQueries: []string{"học phí kỳ này bao nhiêu"},
		QueryCount: 3, AvgScore: 0.4, Priority: 2.1,
		FirstDetectedAt: time.Now(), LastQueryAt: time.Now(),
	}
	if err := s.UpsertKnowledgeGap(ctx, gap); err != nil {
		t.Fatalf("upsert gap failed: %v", err)
	}
	gap.QueryCount = 4
	if err := s.UpsertKnowledgeGap(ctx, gap); err != nil {
		t.Fatalf("re-upsert gap failed: %v", err)
	}
	got, err := s.GetKnowledgeGap(ctx, "học phí")
	if err != nil || got.QueryCount != 4 {
		t.Fatalf("gap: %v %+v", err, got)
	}
	if err := s.SetGapStatus(ctx, "học phí", "resolved", "added doc"); err != nil {
		t.Fatalf("set status failed: %v", err)
	}
}

func TestProfileCompareAndSet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, _, err := s.LoadProfile(ctx, "sv001"); !errkind.Is(err, errkind.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if err := s.SaveProfile(ctx, "sv001", []byte(`{"user_id":"sv001"}`), 0); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	_, version, err := s.LoadProfile(ctx, "sv001")
	if err != nil || version != 1 {
		t.Fatalf("load: %v version=%d", err, version)
	}
	if err := s.SaveProfile(ctx, "sv001", []byte(`{"user_id":"sv001","major":"CNTT"}`), version); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	// Stale writer loses.
	if err := s.SaveProfile(ctx, "sv001", []byte(`{}`), version); !errkind.Is(err, errkind.Conflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestChatHistoryWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		msg := &ChatMessage{SessionID: "sess1", Role: role, Content: string(rune('a' + i))}
		if err := s.AppendChatMessage(ctx, msg); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	msgs, err := s.RecentChatMessages(ctx, "sess1", 4)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "g" || msgs[3].Content != "j" {
		t.Fatalf("wrong window or order: %q .. %q", msgs[0].Content, msgs[3].Content)
	}
}

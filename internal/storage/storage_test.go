package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"diffusiond/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	return New(filepath.Join(root, "users"), filepath.Join(root, "temp"), 1)
}

func testImages(n int) []ImageFile {
	imgs := make([]ImageFile, 0, n)
	for i := 0; i < n; i++ {
		imgs = append(imgs, ImageFile{
			Name:    "photo " + string(rune('a'+i)) + ".JPG",
			Content: []byte{0xFF, 0xD8, byte(i)},
		})
	}
	return imgs
}

func TestSaveTrainingImages(t *testing.T) {
	s := newTestStore(t)
	res, err := s.SaveTrainingImages("user_123", "aurel_person", testImages(3), CustomMetadata{
		TrainingID: "train_ab12cd34",
		Status:     types.JobPending,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if res.NumImages != 3 {
		t.Fatalf("num images = %d, want 3", res.NumImages)
	}
	if res.TotalSizeBytes != 9 {
		t.Fatalf("total bytes = %d, want 9", res.TotalSizeBytes)
	}

	// Names are normalized to <model>_NNN.<ext>.
	entries, err := os.ReadDir(res.ImagesDir)
	if err != nil {
		t.Fatalf("read images dir: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("images on disk = %d, want 3", len(entries))
	}
	if got := entries[0].Name(); got != "aurel_person_000.jpg" {
		t.Fatalf("first image = %q", got)
	}

	meta, err := s.ReadMetadata(res.TrainingDir)
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	if meta.UserID != "user_123" || meta.ModelIdentifier != "aurel_person" {
		t.Fatalf("metadata identity = %q/%q", meta.UserID, meta.ModelIdentifier)
	}
	if meta.Custom.TrainingID != "train_ab12cd34" || meta.Custom.Status != types.JobPending {
		t.Fatalf("custom section = %+v", meta.Custom)
	}
	if meta.Images[1].OriginalFilename != "photo b.JPG" {
		t.Fatalf("original filename = %q", meta.Images[1].OriginalFilename)
	}
}

func TestMetadataRoundTripAtomic(t *testing.T) {
	s := newTestStore(t)
	dir, err := s.TrainingDir("u", "m")
	if err != nil {
		t.Fatalf("training dir: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	in := Metadata{
		UserID:          "u",
		ModelIdentifier: "m",
		CreatedAt:       now,
		Custom:          CustomMetadata{Status: types.JobRunning, Progress: 42, StartedAt: &now},
	}
	if err := s.WriteMetadata(dir, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := s.ReadMetadata(dir)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Custom.Progress != 42 || out.Custom.Status != types.JobRunning {
		t.Fatalf("round trip lost fields: %+v", out.Custom)
	}
	if out.Custom.StartedAt == nil || !out.Custom.StartedAt.Equal(now) {
		t.Fatalf("started_at = %v, want %v", out.Custom.StartedAt, now)
	}

	// No temp files left behind.
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.Name() != metadataFile && e.Name() != "images" {
			t.Fatalf("unexpected leftover %q", e.Name())
		}
	}
}

func TestStorageLimit(t *testing.T) {
	root := t.TempDir()
	s := New(filepath.Join(root, "users"), "", 0) // unlimited
	if err := s.CheckStorageLimit("u", 1<<40); err != nil {
		t.Fatalf("unlimited store rejected upload: %v", err)
	}

	s = New(filepath.Join(root, "users2"), "", 1)
	if err := s.CheckStorageLimit("u", 1<<29); err != nil {
		t.Fatalf("under limit rejected: %v", err)
	}
	if err := s.CheckStorageLimit("u", 2<<30); err == nil {
		t.Fatal("over limit accepted")
	}
}

func TestUserStorageBytes(t *testing.T) {
	s := newTestStore(t)
	if got, _ := s.UserStorageBytes("ghost"); got != 0 {
		t.Fatalf("unknown user size = %d, want 0", got)
	}
	if _, err := s.SaveTrainingImages("u", "m", testImages(2), CustomMetadata{}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.UserStorageBytes("u")
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if got < 6 {
		t.Fatalf("size = %d, want at least image bytes", got)
	}
}

func TestDeleteModelData(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.SaveTrainingImages("u", "m", testImages(1), CustomMetadata{}); err != nil {
		t.Fatalf("save: %v", err)
	}
	ok, err := s.DeleteModelData("u", "m")
	if err != nil || !ok {
		t.Fatalf("delete = %v, %v", ok, err)
	}
	ok, err = s.DeleteModelData("u", "m")
	if err != nil || ok {
		t.Fatalf("second delete = %v, %v, want false, nil", ok, err)
	}
}

func TestListUserModels(t *testing.T) {
	s := newTestStore(t)
	if models, err := s.ListUserModels("nobody"); err != nil || models != nil {
		t.Fatalf("empty list = %v, %v", models, err)
	}
	for _, id := range []string{"alpha", "beta"} {
		if _, err := s.SaveTrainingImages("u", id, testImages(1), CustomMetadata{TrainingID: "train_" + id}); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	models, err := s.ListUserModels("u")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("models = %d, want 2", len(models))
	}
}

func TestCleanupTemp(t *testing.T) {
	root := t.TempDir()
	temp := filepath.Join(root, "temp")
	if err := os.MkdirAll(temp, 0o755); err != nil {
		t.Fatal(err)
	}
	old := filepath.Join(temp, "old.bin")
	if err := os.WriteFile(old, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatal(err)
	}
	fresh := filepath.Join(temp, "fresh.bin")
	if err := os.WriteFile(fresh, []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := New(filepath.Join(root, "users"), temp, 1)
	n, err := s.CleanupTemp(time.Hour)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 1 {
		t.Fatalf("cleaned = %d, want 1", n)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh file removed: %v", err)
	}
}

package store

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chatfront/chatfront/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestCreateThenLoad(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.Create("alice")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("Create returned empty id")
	}

	got, err := s.Load("alice", rec.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Title != "New Chat" {
		t.Errorf("title = %q, want %q", got.Title, "New Chat")
	}
	if got.Model != "" {
		t.Errorf("model = %q, want empty", got.Model)
	}
	if len(got.Messages) != 0 {
		t.Errorf("messages = %d, want 0", len(got.Messages))
	}
}

func TestLoadNotFound(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Load("alice", "never-created"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load err = %v, want ErrNotFound", err)
	}
}

func TestLoadCorruptRecord(t *testing.T) {
	s := newTestStore(t)

	dir := filepath.Join(s.root, "alice")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load("alice", "broken")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Title != "Corrupt Chat" {
		t.Errorf("title = %q, want %q", got.Title, "Corrupt Chat")
	}
	if len(got.Messages) != 0 {
		t.Errorf("messages = %d, want 0", len(got.Messages))
	}
}

func TestSaveRoundTrip(t *testing.T) {
	s := newTestStore(t)

	msgs := []models.Message{
		{Role: models.RoleUser, Content: "hello"},
		{Role: models.RoleAssistant, Content: "hi there"},
	}
	if _, err := s.Save("alice", "chat-1", msgs, SaveOptions{Title: "T", Model: "X"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load("alice", "chat-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := &models.ChatRecord{ID: "chat-1", Title: "T", Model: "X", Messages: msgs}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestSaveIdempotent(t *testing.T) {
	s := newTestStore(t)

	msgs := []models.Message{{Role: models.RoleUser, Content: "hello"}}
	if _, err := s.Save("alice", "chat-1", msgs, SaveOptions{Title: "T", Model: "X"}); err != nil {
		t.Fatal(err)
	}
	first, err := os.ReadFile(s.path("alice", "chat-1"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Save("alice", "chat-1", msgs, SaveOptions{Title: "T", Model: "X"}); err != nil {
		t.Fatal(err)
	}
	second, err := os.ReadFile(s.path("alice", "chat-1"))
	if err != nil {
		t.Fatal(err)
	}

	if string(first) != string(second) {
		t.Error("second identical save changed the persisted bytes")
	}
}

func TestSaveFieldInheritance(t *testing.T) {
	s := newTestStore(t)

	long := "this prompt is quite a bit longer than fifty characters in total"
	msgs := []models.Message{{Role: models.RoleUser, Content: long}}

	// No title given and no existing record: derived from first user message.
	rec, err := s.Save("alice", "chat-1", msgs, SaveOptions{BoundModel: "m1"})
	if err != nil {
		t.Fatal(err)
	}
	if want := long[:50]; rec.Title != want {
		t.Errorf("derived title = %q, want %q", rec.Title, want)
	}
	if rec.Model != "m1" {
		t.Errorf("model = %q, want bound model fallback m1", rec.Model)
	}

	// Resave with nothing set: existing title and model are retained even
	// when the caller is now bound to a different model.
	rec, err = s.Save("alice", "chat-1", msgs, SaveOptions{BoundModel: "m2"})
	if err != nil {
		t.Fatal(err)
	}
	if want := long[:50]; rec.Title != want {
		t.Errorf("retained title = %q, want %q", rec.Title, want)
	}
	if rec.Model != "m1" {
		t.Errorf("model = %q, want retained m1", rec.Model)
	}

	// Explicit values win over both.
	rec, err = s.Save("alice", "chat-1", msgs, SaveOptions{Title: "Renamed", Model: "m3"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Title != "Renamed" || rec.Model != "m3" {
		t.Errorf("explicit save = (%q, %q), want (Renamed, m3)", rec.Title, rec.Model)
	}
}

func TestResolveField(t *testing.T) {
	cases := []struct {
		newValue, existing, computed, want string
	}{
		{"a", "b", "c", "a"},
		{"", "b", "c", "b"},
		{"", "", "c", "c"},
		{"", "", "", ""},
	}
	for _, c := range cases {
		if got := resolveField(c.newValue, c.existing, c.computed); got != c.want {
			t.Errorf("resolveField(%q, %q, %q) = %q, want %q", c.newValue, c.existing, c.computed, got, c.want)
		}
	}
}

func TestListOrdering(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.Save("alice", id, nil, SaveOptions{Title: id}); err != nil {
			t.Fatal(err)
		}
	}

	base := time.Now().Add(-time.Hour)
	set := func(id string, offset time.Duration) {
		if err := os.Chtimes(s.path("alice", id), base.Add(offset), base.Add(offset)); err != nil {
			t.Fatal(err)
		}
	}
	set("a", 1*time.Minute)
	set("b", 3*time.Minute)
	set("c", 2*time.Minute)

	got, err := s.List("alice")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var ids []string
	for _, sum := range got {
		ids = append(ids, sum.ID)
	}
	if want := []string{"b", "c", "a"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("List order = %v, want %v", ids, want)
	}
}

func TestListEmptyUser(t *testing.T) {
	s := newTestStore(t)
	got, err := s.List("nobody")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("List = %v, want empty", got)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)

	keep, err := s.Create("alice")
	if err != nil {
		t.Fatal(err)
	}
	gone, err := s.Create("alice")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Delete("alice", gone.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete("alice", gone.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete err = %v, want ErrNotFound", err)
	}
	if _, err := s.Load("alice", keep.ID); err != nil {
		t.Errorf("unrelated record affected by delete: %v", err)
	}
}

func TestDuplicate(t *testing.T) {
	s := newTestStore(t)

	msgs := []models.Message{
		{Role: models.RoleUser, Content: "original"},
		{Role: models.RoleAssistant, Content: "reply"},
	}
	if _, err := s.Save("alice", "src", msgs, SaveOptions{Title: "Plans", Model: "m1"}); err != nil {
		t.Fatal(err)
	}

	dup, err := s.Duplicate("alice", "src")
	if err != nil {
		t.Fatalf("Duplicate: %v", err)
	}
	if dup.ID == "src" {
		t.Error("duplicate kept the source id")
	}
	if dup.Title != "Plans (copy)" {
		t.Errorf("duplicate title = %q, want %q", dup.Title, "Plans (copy)")
	}
	if dup.Model != "m1" || !reflect.DeepEqual(dup.Messages, msgs) {
		t.Errorf("duplicate did not copy model/messages: %+v", dup)
	}

	// Source is unchanged and independently deletable.
	src, err := s.Load("alice", "src")
	if err != nil {
		t.Fatal(err)
	}
	if src.Title != "Plans" || !reflect.DeepEqual(src.Messages, msgs) {
		t.Errorf("source mutated by duplicate: %+v", src)
	}
	if err := s.Delete("alice", "src"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load("alice", dup.ID); err != nil {
		t.Errorf("duplicate lost after source delete: %v", err)
	}
}

func TestDuplicateNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Duplicate("alice", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Duplicate err = %v, want ErrNotFound", err)
	}
}

func TestUpdateSerializesSameRecord(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.Create("alice")
	if err != nil {
		t.Fatal(err)
	}

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update("alice", rec.ID, func(r *models.ChatRecord) (SaveOptions, error) {
				r.Messages = append(r.Messages, models.Message{Role: models.RoleUser, Content: "x"})
				return SaveOptions{}, nil
			})
			if err != nil {
				t.Errorf("Update: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Load("alice", rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Messages) != n {
		t.Errorf("messages = %d, want %d (lost update)", len(got.Messages), n)
	}
}

func TestUpdateNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Update("alice", "missing", func(r *models.ChatRecord) (SaveOptions, error) {
		return SaveOptions{}, nil
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update err = %v, want ErrNotFound", err)
	}
}

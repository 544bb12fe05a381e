package memory_test

import (
	"context"
	"sync"
	"testing"

	"github.com/solagent/solagent/internal/memory"
	"github.com/solagent/solagent/internal/models"
)

func TestAppendAndHistoryOrder(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := context.Background()

	store.Append(ctx, "s1", models.Message{Role: models.RoleUser, Content: "one"})
	store.Append(ctx, "s1",
		models.Message{Role: models.RoleAssistant, Content: "two"},
		models.Message{Role: models.RoleUser, Content: "three"},
	)

	history, err := store.History(ctx, "s1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 || history[0].Content != "one" || history[2].Content != "three" {
		t.Fatalf("history = %+v", history)
	}
}

func TestUnknownSessionIsEmptyNotError(t *testing.T) {
	store := memory.NewInMemoryStore()

	history, err := store.History(context.Background(), "missing")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("history = %+v", history)
	}
}

func TestHistoryReturnsCopy(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := context.Background()
	store.Append(ctx, "s1", models.Message{Role: models.RoleUser, Content: "original"})

	history, _ := store.History(ctx, "s1")
	history[0].Content = "mutated"

	again, _ := store.History(ctx, "s1")
	if again[0].Content != "original" {
		t.Error("caller mutation leaked into the store")
	}
}

func TestReplaceSwapsHistory(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := context.Background()
	store.Append(ctx, "s1",
		models.Message{Role: models.RoleUser, Content: "a"},
		models.Message{Role: models.RoleAssistant, Content: "b"},
	)

	store.Replace(ctx, "s1", []models.Message{{Role: models.RoleUser, Content: "summary"}})

	history, _ := store.History(ctx, "s1")
	if len(history) != 1 || history[0].Content != "summary" {
		t.Fatalf("history = %+v", history)
	}
}

func TestClearRemovesSession(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := context.Background()
	store.Append(ctx, "s1", models.Message{Role: models.RoleUser, Content: "a"})

	store.Clear(ctx, "s1")

	history, _ := store.History(ctx, "s1")
	if len(history) != 0 {
		t.Fatalf("history = %+v", history)
	}
}

func TestConcurrentAppends(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Append(ctx, "s1", models.Message{Role: models.RoleUser, Content: "x"})
		}()
	}
	wg.Wait()

	history, _ := store.History(ctx, "s1")
	if len(history) != 20 {
		t.Fatalf("len = %d, want 20", len(history))
	}
}

package store_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/dshills/langgraph-travel/graph/store"
)

type TestState struct {
	Counter int      `json:"counter"`
	Notes   []string `json:"notes,omitempty"`
}

type storeFactory struct {
	name string
	open func(t *testing.T) store.Store[TestState]
}

// storeFactories returns every backend that can run without external
// services. MySQL joins the list when TEST_MYSQL_DSN is set.
func storeFactories(t *testing.T) []storeFactory {
	t.Helper()

	factories := []storeFactory{
		{"memory", func(t *testing.T) store.Store[TestState] {
			return store.NewMemStore[TestState]()
		}},
		{"sqlite", func(t *testing.T) store.Store[TestState] {
			st, err := store.NewSQLiteStore[TestState](":memory:")
			if err != nil {
				t.Fatalf("NewSQLiteStore: %v", err)
			}
			t.Cleanup(func() { _ = st.Close() })
			return st
		}},
		{"sqlite-zstd", func(t *testing.T) store.Store[TestState] {
			st, err := store.NewSQLiteStore[TestState](":memory:", store.WithCompression())
			if err != nil {
				t.Fatalf("NewSQLiteStore: %v", err)
			}
			t.Cleanup(func() { _ = st.Close() })
			return st
		}},
		{"redis", func(t *testing.T) store.Store[TestState] {
			mr, err := miniredis.Run()
			if err != nil {
				t.Fatalf("miniredis: %v", err)
			}
			t.Cleanup(mr.Close)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return store.NewRedisStore[TestState](client, store.WithCompression())
		}},
		{"badger", func(t *testing.T) store.Store[TestState] {
			st, err := store.NewBadgerStore[TestState]("")
			if err != nil {
				t.Fatalf("NewBadgerStore: %v", err)
			}
			t.Cleanup(func() { _ = st.Close() })
			return st
		}},
	}

	if dsn := os.Getenv("TEST_MYSQL_DSN"); dsn != "" {
		factories = append(factories, storeFactory{"mysql", func(t *testing.T) store.Store[TestState] {
			st, err := store.NewMySQLStore[TestState](dsn)
			if err != nil {
				t.Fatalf("NewMySQLStore: %v", err)
			}
			t.Cleanup(func() { _ = st.Close() })
			return st
		}})
	}

	return factories
}

// uniqueThread keeps MySQL runs isolated from earlier test data.
func uniqueThread(name string) string {
	return fmt.Sprintf("%s-%d", name, time.Now().UnixNano())
}

func TestStoreContract(t *testing.T) {
	for _, f := range storeFactories(t) {
		f := f
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("latest on unknown thread", func(t *testing.T) {
				st := f.open(t)
				_, err := st.Latest(ctx, uniqueThread("missing"))
				if !errors.Is(err, store.ErrNotFound) {
					t.Fatalf("expected ErrNotFound, got %v", err)
				}
				history, err := st.History(ctx, uniqueThread("missing"))
				if err != nil {
					t.Fatalf("History: %v", err)
				}
				if len(history) != 0 {
					t.Fatalf("expected empty history, got %d", len(history))
				}
			})

			t.Run("append assigns monotonic sequence from zero", func(t *testing.T) {
				st := f.open(t)
				thread := uniqueThread("seq")

				for i := 0; i < 4; i++ {
					seq, err := st.Append(ctx, thread, store.Checkpoint[TestState]{
						Seq:      99, // ignored
						State:    TestState{Counter: i},
						NextNode: "node",
						Source:   store.SourceLoop,
					})
					if err != nil {
						t.Fatalf("Append %d: %v", i, err)
					}
					if seq != int64(i) {
						t.Fatalf("expected seq %d, got %d", i, seq)
					}
				}
			})

			t.Run("latest returns the last append with all fields", func(t *testing.T) {
				st := f.open(t)
				thread := uniqueThread("latest")
				created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

				_, _ = st.Append(ctx, thread, store.Checkpoint[TestState]{State: TestState{Counter: 1}, NextNode: "a", Source: store.SourceInput})
				_, err := st.Append(ctx, thread, store.Checkpoint[TestState]{
					State:      TestState{Counter: 2, Notes: []string{"x"}},
					NextNode:   "sensitive_tools",
					Interrupts: []string{"sensitive_tools"},
					Node:       "assistant",
					Source:     store.SourceLoop,
					CreatedAt:  created,
				})
				if err != nil {
					t.Fatalf("Append: %v", err)
				}

				cp, err := st.Latest(ctx, thread)
				if err != nil {
					t.Fatalf("Latest: %v", err)
				}
				if cp.ThreadID != thread || cp.Seq != 1 {
					t.Errorf("unexpected identity %s/%d", cp.ThreadID, cp.Seq)
				}
				if cp.State.Counter != 2 || len(cp.State.Notes) != 1 {
					t.Errorf("unexpected state %+v", cp.State)
				}
				if cp.NextNode != "sensitive_tools" || cp.Node != "assistant" || cp.Source != store.SourceLoop {
					t.Errorf("unexpected position %+v", cp)
				}
				if !cp.Interrupted() {
					t.Errorf("expected checkpoint to be interrupted")
				}
				if !cp.CreatedAt.Equal(created) {
					t.Errorf("expected created_at %v, got %v", created, cp.CreatedAt)
				}
			})

			t.Run("history is ordered and threads are isolated", func(t *testing.T) {
				st := f.open(t)
				a, b := uniqueThread("a"), uniqueThread("b")

				for i := 0; i < 3; i++ {
					_, _ = st.Append(ctx, a, store.Checkpoint[TestState]{State: TestState{Counter: i}, NextNode: "n", Source: store.SourceLoop})
				}
				_, _ = st.Append(ctx, b, store.Checkpoint[TestState]{State: TestState{Counter: 100}, NextNode: "n", Source: store.SourceLoop})

				history, err := st.History(ctx, a)
				if err != nil {
					t.Fatalf("History: %v", err)
				}
				if len(history) != 3 {
					t.Fatalf("expected 3 checkpoints, got %d", len(history))
				}
				for i, cp := range history {
					if cp.Seq != int64(i) || cp.State.Counter != i {
						t.Errorf("checkpoint %d out of order: seq=%d counter=%d", i, cp.Seq, cp.State.Counter)
					}
				}

				latestB, err := st.Latest(ctx, b)
				if err != nil {
					t.Fatalf("Latest b: %v", err)
				}
				if latestB.Seq != 0 || latestB.State.Counter != 100 {
					t.Errorf("thread b leaked: %+v", latestB)
				}
			})

			t.Run("concurrent appends to one thread are gapless", func(t *testing.T) {
				st := f.open(t)
				thread := uniqueThread("concurrent")
				const writers = 8

				var wg sync.WaitGroup
				seqs := make(chan int64, writers)
				errs := make(chan error, writers)
				for i := 0; i < writers; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						seq, err := st.Append(ctx, thread, store.Checkpoint[TestState]{State: TestState{Counter: i}, NextNode: "n", Source: store.SourceLoop})
						if err != nil {
							errs <- err
							return
						}
						seqs <- seq
					}(i)
				}
				wg.Wait()
				close(seqs)
				close(errs)

				for err := range errs {
					t.Fatalf("Append: %v", err)
				}
				seen := make(map[int64]bool)
				for seq := range seqs {
					if seen[seq] {
						t.Fatalf("duplicate sequence %d", seq)
					}
					seen[seq] = true
				}
				for i := int64(0); i < writers; i++ {
					if !seen[i] {
						t.Fatalf("missing sequence %d", i)
					}
				}
			})
		})
	}
}

//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/alegny-health/api/internal/platform/firestore"
	"github.com/alegny-health/api/internal/platform/firestore/firestoretest"
)

type counterDoc struct {
	Name  string `firestore:"name"`
	Count int    `firestore:"count"`
}

func TestProviderAndRepositoryIntegration(t *testing.T) {
	provider := pfirestore.NewProvider(firestoretest.Start(t))
	t.Cleanup(func() { _ = provider.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	repo := pfirestore.NewBaseRepository[counterDoc](provider, "counters", nil, nil)
	if err := repo.Create(ctx, "c1", counterDoc{Name: "alpha", Count: 1}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	var conflict interface{ IsConflict() bool }
	if err := repo.Create(ctx, "c1", counterDoc{}); !errors.As(err, &conflict) || !conflict.IsConflict() {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}

	doc, err := repo.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if doc.ID != "c1" || doc.Data.Name != "alpha" || doc.UpdateTime.IsZero() {
		t.Fatalf("unexpected document %#v", doc)
	}

	var notFound interface{ IsNotFound() bool }
	if _, err := repo.Get(ctx, "missing"); !errors.As(err, &notFound) || !notFound.IsNotFound() {
		t.Fatalf("expected not found classification, got %v", err)
	}

	if err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		current, err := repo.Get(ctx, "c1")
		if err != nil {
			return err
		}
		current.Data.Count += 2
		return repo.Set(ctx, "c1", current.Data)
	}); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	sub := repo.In("owners/o1/counters")
	if err := sub.Set(ctx, "c2", counterDoc{Name: "nested", Count: 7}); err != nil {
		t.Fatalf("nested set failed: %v", err)
	}
	docs, err := repo.Query(ctx, func(q firestore.Query) firestore.Query { return q.Where("count", ">=", 3) })
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(docs) != 1 || docs[0].Data.Count != 3 {
		t.Fatalf("expected one top-level counter at 3, got %#v", docs)
	}

	if err := sub.Delete(ctx, "c2"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := sub.Delete(ctx, "c2"); err != nil {
		t.Fatalf("second delete should succeed, got %v", err)
	}

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	if err := provider.RunTransaction(cancelled, func(context.Context, *firestore.Transaction) error {
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled error, got %v", err)
	}
}

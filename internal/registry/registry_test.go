package registry_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"rvcworker/internal/registry"
)

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(filepath.Join(t.TempDir(), "state", "models.json"))
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	return reg
}

func TestGetMissingFileReturnsAbsent(t *testing.T) {
	reg := newRegistry(t)
	rec, ok, err := reg.Get(context.Background(), "never-written")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if ok {
		t.Fatalf("expected absent record, got %+v", rec)
	}
}

func TestGetEmptyFileReturnsAbsent(t *testing.T) {
	reg := newRegistry(t)
	if err := os.MkdirAll(filepath.Dir(reg.Path()), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(reg.Path(), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := reg.Get(context.Background(), "m"); err != nil || ok {
		t.Fatalf("expected absent without error, got ok=%v err=%v", ok, err)
	}
}

func TestMergeIsAdditive(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)

	if err := reg.Merge(ctx, "m1", registry.Update{WeightsPath: "/models/m1/m1.pth"}); err != nil {
		t.Fatalf("Merge weights: %v", err)
	}
	if err := reg.Merge(ctx, "m1", registry.Update{IndexPath: "/models/m1/m1.index"}); err != nil {
		t.Fatalf("Merge index: %v", err)
	}
	if err := reg.Merge(ctx, "m1", registry.Update{}); err != nil {
		t.Fatalf("Merge empty: %v", err)
	}

	rec, ok, err := reg.Get(ctx, "m1")
	if err != nil || !ok {
		t.Fatalf("expected record, ok=%v err=%v", ok, err)
	}
	if rec.WeightsPath != "/models/m1/m1.pth" || rec.IndexPath != "/models/m1/m1.index" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !rec.Complete() {
		t.Fatal("expected record to be complete")
	}
}

func TestMergeWritesSnakeCaseDocument(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	if err := reg.Merge(ctx, "voice", registry.Update{WeightsPath: "w", IndexPath: "i"}); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	data, err := os.ReadFile(reg.Path())
	if err != nil {
		t.Fatalf("read registry: %v", err)
	}
	want := "{\n  \"voice\": {\n    \"weights_path\": \"w\",\n    \"index_path\": \"i\"\n  }\n}\n"
	if string(data) != want {
		t.Fatalf("unexpected document:\n%s", data)
	}
}

func TestCorruptFileReportsUnavailable(t *testing.T) {
	reg := newRegistry(t)
	if err := os.MkdirAll(filepath.Dir(reg.Path()), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(reg.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, _, err := reg.Get(context.Background(), "m")
	if !errors.Is(err, registry.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if err := reg.Merge(context.Background(), "m", registry.Update{WeightsPath: "w"}); !errors.Is(err, registry.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from Merge, got %v", err)
	}
}

func TestConcurrentMergesDoNotLoseUpdates(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)

	const models = 8
	var wg sync.WaitGroup
	errs := make(chan error, models*2)
	for i := 0; i < models; i++ {
		name := fmt.Sprintf("model-%d", i)
		wg.Add(3)
		go func() {
			defer wg.Done()
			errs <- reg.Merge(ctx, name, registry.Update{WeightsPath: name + ".pth"})
		}()
		go func() {
			defer wg.Done()
			errs <- reg.Merge(ctx, name, registry.Update{IndexPath: name + ".index"})
		}()
		go func() {
			defer wg.Done()
			if _, _, err := reg.Get(ctx, name); err != nil {
				t.Errorf("concurrent Get: %v", err)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Merge returned error: %v", err)
		}
	}

	all, err := reg.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != models {
		t.Fatalf("expected %d models, got %d", models, len(all))
	}
	for i := 0; i < models; i++ {
		name := fmt.Sprintf("model-%d", i)
		rec := all[name]
		if rec.WeightsPath != name+".pth" || rec.IndexPath != name+".index" {
			t.Fatalf("lost update for %s: %+v", name, rec)
		}
	}

	names, err := reg.Names(ctx)
	if err != nil {
		t.Fatalf("Names: %v", err)
	}
	if names[0] != "model-0" || len(names) != models {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestMergeRespectsCancelledContextWhileLocked(t *testing.T) {
	reg := newRegistry(t)
	if err := os.MkdirAll(filepath.Dir(reg.Path()), 0o755); err != nil {
		t.Fatal(err)
	}
	holder, err := os.OpenFile(reg.Path()+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer holder.Close()
	if err := lockExclusive(holder); err != nil {
		t.Fatalf("hold lock: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = reg.Merge(ctx, "m", registry.Update{WeightsPath: "w"})
	if !errors.Is(err, registry.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable while lock is held, got %v", err)
	}
}

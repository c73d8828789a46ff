package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestLocalStore_PutGetList(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	files := map[string]string{
		"jobs/a/original/page_0001.png":        "one",
		"jobs/a/attempt-1/pages/page_0001.jpg": "two",
		"jobs/a/attempt-1/output/book.pdf":     "three",
		"jobs/b/original/page_0001.png":        "four",
	}
	for k, v := range files {
		if err := store.Put(ctx, k, []byte(v), "application/octet-stream"); err != nil {
			t.Fatalf("Put %s failed: %v", k, err)
		}
	}

	data, err := store.Get(ctx, "jobs/a/attempt-1/output/book.pdf")
	if err != nil || string(data) != "three" {
		t.Errorf("Expected 'three', got %q (%v)", data, err)
	}

	keys, err := store.List(ctx, "jobs/a/")
	if err != nil {
		t.Fatal(err)
	}
	expected := []string{
		"jobs/a/attempt-1/output/book.pdf",
		"jobs/a/attempt-1/pages/page_0001.jpg",
		"jobs/a/original/page_0001.png",
	}
	if !reflect.DeepEqual(keys, expected) {
		t.Errorf("Expected %v, got %v", expected, keys)
	}

	if err := store.DeletePrefix(ctx, "jobs/a/attempt-1/"); err != nil {
		t.Fatal(err)
	}
	keys, _ = store.List(ctx, "jobs/a/")
	if !reflect.DeepEqual(keys, []string{"jobs/a/original/page_0001.png"}) {
		t.Errorf("Expected only the original left, got %v", keys)
	}
	if _, err := store.Get(ctx, "jobs/a/attempt-1/output/book.pdf"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := store.Delete(ctx, "jobs/missing"); err != nil {
		t.Errorf("Expected deleting a missing key to succeed, got %v", err)
	}
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	store, _ := NewLocalStore(t.TempDir())
	for _, key := range []string{"../x", "/etc/passwd", ""} {
		if err := store.Put(context.Background(), key, []byte("x"), ""); err == nil {
			t.Errorf("Expected key %q to be rejected", key)
		}
	}
}

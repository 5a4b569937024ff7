package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/JakeFAU/roundup-crawler/internal/storage"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "path/data.json", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://path/data.json" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'
	stored := string(store.data["path/data.json"])
	if stored != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", stored)
	}
	if store.Writes("path/data.json") != 1 {
		t.Fatalf("expected one write, got %d", store.Writes("path/data.json"))
	}
}

func TestBlobStoreGetObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	if _, err := store.GetObject(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := store.PutObject(context.Background(), "k", "", bytes.NewReader([]byte("v"))); err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	got, err := store.GetObject(context.Background(), "k")
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	got[0] = 'x'
	again, _ := store.GetObject(context.Background(), "k")
	if string(again) != "v" {
		t.Fatalf("expected returned slice to be a copy, got %q", again)
	}
}

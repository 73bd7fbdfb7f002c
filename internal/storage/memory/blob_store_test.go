package memory

import (
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "pages/abc.html", "text/html", payload)
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://pages/abc.html" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'
	stored, ok := store.Object("pages/abc.html")
	if !ok || string(stored) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", stored)
	}
	if paths := store.Paths(); len(paths) != 1 || paths[0] != "pages/abc.html" {
		t.Fatalf("unexpected paths %v", paths)
	}
	if _, err := store.PutObject(context.Background(), "", "text/html", payload); err == nil {
		t.Fatal("expected error for empty path")
	}
}

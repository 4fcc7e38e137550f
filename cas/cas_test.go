package cas

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStorePutGetRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, err := s.Put(ctx, Object{Data: []byte("hello")})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Data) != "hello" {
		t.Fatalf("got data %q, want hello", got.Data)
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), DataID("nope"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreDeterministicDigest(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id1, err := s.Put(ctx, Object{Data: []byte("x"), Refs: []DataID{"a", "b"}})
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.Put(ctx, Object{Data: []byte("x"), Refs: []DataID{"a", "b"}})
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("expected identical content to produce identical DataID, got %s != %s", id1, id2)
	}
	if s.Len() != 1 {
		t.Fatalf("expected a single stored object, got %d", s.Len())
	}
}

func TestS3StorePutGetRoundTrip(t *testing.T) {
	mock := newMockS3Client()
	mock.bucket = "test-bucket"
	store := &S3Store{client: mock, bucket: "test-bucket"}
	ctx := context.Background()

	id, err := store.Put(ctx, Object{Data: []byte("payload"), Refs: []DataID{"ref-a", "ref-b"}})
	if err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Data) != "payload" {
		t.Fatalf("got data %q, want payload", got.Data)
	}
	if len(got.Refs) != 2 || got.Refs[0] != "ref-a" || got.Refs[1] != "ref-b" {
		t.Fatalf("got refs %v, want [ref-a ref-b]", got.Refs)
	}
}

func TestS3StoreGetMissing(t *testing.T) {
	mock := newMockS3Client()
	store := &S3Store{client: mock, bucket: "test-bucket"}
	_, err := store.Get(context.Background(), DataID("absent"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

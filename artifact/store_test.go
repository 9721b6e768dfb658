package artifact

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/hazyhaar/salvage/dbopen"
	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T, baseURL string) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return NewStore(db, baseURL)
}

func TestEnsureIdempotent(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()
	blob := []byte("raster bytes")

	first, err := s.Ensure(ctx, blob, "image/png")
	if err != nil {
		t.Fatalf("first Ensure: %v", err)
	}
	second, err := s.Ensure(ctx, blob, "image/png")
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("same bytes produced two ids: %s vs %s", first.ID, second.ID)
	}
	if first.Hash != second.Hash || first.Hash == "" {
		t.Fatalf("hash mismatch: %q vs %q", first.Hash, second.Hash)
	}
	if first.Size != len(blob) {
		t.Fatalf("size = %d, want %d", first.Size, len(blob))
	}
}

func TestEnsureDistinctBlobs(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	a, err := s.Ensure(ctx, []byte("one"), "text/plain")
	if err != nil {
		t.Fatalf("Ensure one: %v", err)
	}
	b, err := s.Ensure(ctx, []byte("two"), "text/plain")
	if err != nil {
		t.Fatalf("Ensure two: %v", err)
	}
	if a.ID == b.ID || a.Hash == b.Hash {
		t.Fatal("distinct blobs collided")
	}
}

func TestEnsureRejectsEmpty(t *testing.T) {
	s := newTestStore(t, "")
	if _, err := s.Ensure(context.Background(), nil, "image/png"); err == nil {
		t.Fatal("Ensure accepted an empty blob")
	}
}

func TestEnsureConcurrent(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()
	blob := []byte("shared payload")

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := s.Ensure(ctx, blob, "image/png")
			if err != nil {
				t.Errorf("Ensure: %v", err)
				return
			}
			ids[i] = a.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("concurrent Ensure diverged: %q vs %q", ids[0], id)
		}
	}
}

func TestGetRoundTrip(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()
	blob := []byte{0x89, 'P', 'N', 'G'}

	a, err := s.Ensure(ctx, blob, "image/png")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	got, data, err := s.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Mime != "image/png" || string(data) != string(blob) {
		t.Fatalf("Get returned mime=%q data=%v", got.Mime, data)
	}

	if _, _, err := s.Get(ctx, "no-such-id"); err != ErrNotFound {
		t.Fatalf("Get unknown id: err = %v, want ErrNotFound", err)
	}
}

func TestUploadURL(t *testing.T) {
	ctx := context.Background()

	opaque := newTestStore(t, "")
	u, err := opaque.Upload(ctx, []byte("blob"), "image/png")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.HasPrefix(u, "artifact:") {
		t.Fatalf("opaque URL = %q", u)
	}

	public := newTestStore(t, "https://files.example.com/a")
	u, err = public.Upload(ctx, []byte("blob"), "image/png")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.HasPrefix(u, "https://files.example.com/a/") {
		t.Fatalf("public URL = %q", u)
	}
}

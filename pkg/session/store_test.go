package session

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	_ "modernc.org/sqlite"
)

// exerciseStore runs the contract every Store must satisfy.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	future := time.Now().Add(time.Hour)

	if data, err := store.Load(ctx, "missing"); err != nil || data != nil {
		t.Fatalf("Load(missing) = %q, %v; want nil, nil", data, err)
	}

	if err := store.Save(ctx, "s1", []byte(`{"a":1}`), future); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := store.Load(ctx, "s1")
	if err != nil || string(data) != `{"a":1}` {
		t.Fatalf("Load = %q, %v", data, err)
	}

	if err := store.Save(ctx, "s1", []byte(`{"a":2}`), future); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if data, _ := store.Load(ctx, "s1"); string(data) != `{"a":2}` {
		t.Errorf("after overwrite Load = %q", data)
	}

	if err := store.Save(ctx, "old", []byte("x"), time.Now().Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	if data, err := store.Load(ctx, "old"); err != nil || data != nil {
		t.Errorf("expired Load = %q, %v; want nil, nil", data, err)
	}
	if err := store.Touch(ctx, "old", future); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if data, _ := store.Load(ctx, "old"); string(data) != "x" {
		t.Errorf("touched Load = %q, want x", data)
	}
	if err := store.Touch(ctx, "missing", future); err != nil {
		t.Errorf("Touch(missing) = %v", err)
	}

	err = store.SaveAll(ctx, map[string]Record{
		"b1": {Data: []byte("one"), ExpiresAt: future},
		"b2": {Data: []byte("two"), ExpiresAt: future},
	})
	if err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	if data, _ := store.Load(ctx, "b2"); string(data) != "two" {
		t.Errorf("Load(b2) = %q", data)
	}

	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if data, _ := store.Load(ctx, "s1"); data != nil {
		t.Error("deleted session still loads")
	}
	if err := store.Delete(ctx, "s1"); err != nil {
		t.Errorf("second Delete = %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := store.Save(ctx, "s2", nil, future); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Save after Close = %v, want ErrStoreClosed", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(WithCleanupInterval(time.Hour)))
}

func TestMemoryStoreCopiesData(t *testing.T) {
	store := NewMemoryStore(WithCleanupInterval(time.Hour))
	defer store.Close()

	buf := []byte("abc")
	_ = store.Save(context.Background(), "s", buf, time.Now().Add(time.Hour))
	buf[0] = 'z'
	if data, _ := store.Load(context.Background(), "s"); string(data) != "abc" {
		t.Errorf("stored data aliased caller buffer: %q", data)
	}
}

func TestMemoryStoreCleanup(t *testing.T) {
	store := NewMemoryStore(WithCleanupInterval(time.Hour))
	defer store.Close()

	ctx := context.Background()
	_ = store.Save(ctx, "old", nil, time.Now().Add(-time.Minute))
	_ = store.Save(ctx, "new", nil, time.Now().Add(time.Minute))
	store.cleanup()
	if store.Count() != 1 {
		t.Errorf("Count() = %d after cleanup, want 1", store.Count())
	}
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLStoreSQLite(t *testing.T) {
	store := NewSQLStore(openSQLite(t),
		WithSQLDialect(DialectSQLite),
		WithSQLCleanupInterval(time.Hour))
	if err := store.CreateTable(context.Background()); err != nil {
		t.Fatal(err)
	}
	exerciseStore(t, store)
}

func TestSQLStoreDeleteExpired(t *testing.T) {
	db := openSQLite(t)
	store := NewSQLStore(db, WithSQLDialect(DialectSQLite), WithSQLCleanupInterval(time.Hour))
	defer store.Close()

	ctx := context.Background()
	if err := store.CreateTable(ctx); err != nil {
		t.Fatal(err)
	}
	_ = store.Save(ctx, "old", []byte("x"), time.Now().Add(-time.Hour))
	_ = store.Save(ctx, "new", []byte("y"), time.Now().Add(time.Hour))
	if err := store.DeleteExpired(ctx); err != nil {
		t.Fatal(err)
	}

	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pagecycle_sessions").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		name string
		want SQLDialect
		ok   bool
	}{
		{"postgres", DialectPostgreSQL, true},
		{"mysql", DialectMySQL, true},
		{"sqlite", DialectSQLite, true},
		{"oracle", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseDialect(tt.name)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseDialect(%q) = %v, %v", tt.name, got, err)
		}
	}
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

type fakeObject struct {
	data []byte
	meta map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeObject)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = fakeObject{data: data, meta: in.Metadata}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:     io.NopCloser(bytes.NewReader(obj.data)),
		Metadata: obj.meta,
	}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	exerciseStore(t, NewS3Store(newFakeS3(), "bucket", "sessions"))
}

func TestS3StoreKeys(t *testing.T) {
	fake := newFakeS3()
	store := NewS3Store(fake, "bucket", "sessions/")
	if err := store.Save(context.Background(), "abc", []byte("{}"), time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, ok := fake.objects["bucket/sessions/abc.json"]; !ok {
		t.Errorf("objects = %v, want bucket/sessions/abc.json", fake.objects)
	}
}

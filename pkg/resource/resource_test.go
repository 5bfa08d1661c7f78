package resource

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(Config{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(r.Close)
	return r
}

func TestGetCachesGeneratedContent(t *testing.T) {
	r := newRegistry(t)
	var calls atomic.Int32
	err := r.Register(Resource{
		Name:        "app.css",
		ContentType: "text/css",
		Generate: func(context.Context) ([]byte, error) {
			calls.Add(1)
			return []byte("body{}"), nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	data, ct, err := r.Get(context.Background(), "app.css")
	if err != nil || string(data) != "body{}" || ct != "text/css" {
		t.Fatalf("Get = %q, %q, %v", data, ct, err)
	}
	r.Wait()
	if _, _, err := r.Get(context.Background(), "app.css"); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Errorf("generator ran %d times, want 1", calls.Load())
	}

	r.Invalidate("app.css")
	r.Wait()
	_, _, _ = r.Get(context.Background(), "app.css")
	if calls.Load() != 2 {
		t.Errorf("after Invalidate generator ran %d times, want 2", calls.Load())
	}
}

func TestGetUnknown(t *testing.T) {
	r := newRegistry(t)
	if _, _, err := r.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGeneratorFailureNotCached(t *testing.T) {
	r := newRegistry(t)
	fail := true
	_ = r.Register(Resource{
		Name: "report",
		Generate: func(context.Context) ([]byte, error) {
			if fail {
				return nil, errors.New("backend down")
			}
			return []byte("ok"), nil
		},
	})
	if _, _, err := r.Get(context.Background(), "report"); err == nil {
		t.Fatal("expected generation error")
	}
	fail = false
	data, ct, err := r.Get(context.Background(), "report")
	if err != nil || string(data) != "ok" || ct != "application/octet-stream" {
		t.Errorf("Get = %q, %q, %v", data, ct, err)
	}
}

func TestRegisterValidation(t *testing.T) {
	r := newRegistry(t)
	if err := r.Static("logo", "image/svg+xml", []byte("<svg/>")); err != nil {
		t.Fatal(err)
	}
	if err := r.Static("logo", "image/svg+xml", nil); err == nil {
		t.Error("duplicate registration should fail")
	}
	if err := r.Register(Resource{Name: "x"}); err == nil {
		t.Error("registration without generator should fail")
	}
	if names := r.Names(); len(names) != 1 || names[0] != "logo" {
		t.Errorf("Names() = %v", names)
	}
}

package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	r := New()
	if r == nil {
		t.Fatal("New returned nil")
	}
	if r.handlers == nil || r.disabled == nil {
		t.Fatal("maps not initialized")
	}
}

func TestRegisterLocal_and_Call(t *testing.T) {
	r := New()
	called := false
	r.RegisterLocal("echo", func(ctx context.Context, payload []byte) ([]byte, error) {
		called = true
		return payload, nil
	})

	resp, err := r.Call(context.Background(), "echo", []byte("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("local handler not called")
	}
	if string(resp) != "hello" {
		t.Fatalf("got %q, want %q", resp, "hello")
	}
}

func TestCall_ServiceNotFound(t *testing.T) {
	r := New()
	_, err := r.Call(context.Background(), "nonexistent", nil)
	var snf *ErrServiceNotFound
	if !errors.As(err, &snf) {
		t.Fatalf("expected ErrServiceNotFound, got %T: %v", err, err)
	}
	if snf.Service != "nonexistent" {
		t.Fatalf("got service %q, want %q", snf.Service, "nonexistent")
	}
}

func TestDisable_Noop(t *testing.T) {
	r := New()
	calls := 0
	r.RegisterLocal("svc", func(ctx context.Context, payload []byte) ([]byte, error) {
		calls++
		return []byte("x"), nil
	})

	r.Disable("svc")
	resp, err := r.Call(context.Background(), "svc", nil)
	if err != nil || resp != nil {
		t.Fatalf("disabled call: got %q, %v; want nil, nil", resp, err)
	}
	if calls != 0 {
		t.Fatal("handler called while disabled")
	}

	r.Enable("svc")
	if _, err := r.Call(context.Background(), "svc", nil); err != nil {
		t.Fatalf("enabled call: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls: got %d, want 1", calls)
	}
}

func TestWithMiddleware_WrapsRegisteredHandlers(t *testing.T) {
	var seen []string
	tag := func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			seen = append(seen, string(payload))
			return next(ctx, payload)
		}
	}
	r := New(WithMiddleware(tag))
	r.RegisterLocal("a", func(ctx context.Context, payload []byte) ([]byte, error) { return nil, nil })

	r.Call(context.Background(), "a", []byte("p"))
	if !slices.Equal(seen, []string{"p"}) {
		t.Fatalf("middleware saw %v", seen)
	}
}

func TestListServices(t *testing.T) {
	r := New()
	noop := func(ctx context.Context, payload []byte) ([]byte, error) { return nil, nil }
	r.RegisterLocal("b", noop)
	r.RegisterLocal("a", noop)
	r.Disable("b")

	var got []ServiceInfo
	for info := range r.ListServices() {
		got = append(got, info)
	}
	want := []ServiceInfo{{Name: "a", Enabled: true}, {Name: "b", Enabled: false}}
	if !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	if _, ok := r.Inspect("missing"); ok {
		t.Error("Inspect(missing): ok=true")
	}
	if info, ok := r.Inspect("a"); !ok || !info.Enabled {
		t.Errorf("Inspect(a): got %+v, %v", info, ok)
	}
}

func TestChain(t *testing.T) {
	var order []string

	mw1 := func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			order = append(order, "mw1-before")
			resp, err := next(ctx, payload)
			order = append(order, "mw1-after")
			return resp, err
		}
	}
	mw2 := func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			order = append(order, "mw2-before")
			resp, err := next(ctx, payload)
			order = append(order, "mw2-after")
			return resp, err
		}
	}

	base := func(ctx context.Context, payload []byte) ([]byte, error) {
		order = append(order, "handler")
		return nil, nil
	}

	wrapped := Chain(mw1, mw2)(base)
	wrapped(context.Background(), nil)

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if !slices.Equal(order, expected) {
		t.Fatalf("got %v, want %v", order, expected)
	}
}

func TestRecovery(t *testing.T) {
	base := func(ctx context.Context, payload []byte) ([]byte, error) {
		panic("boom")
	}

	wrapped := Recovery(slog.Default())(base)
	_, err := wrapped(context.Background(), nil)
	var ep *ErrPanic
	if !errors.As(err, &ep) {
		t.Fatalf("expected ErrPanic, got %T: %v", err, err)
	}
	if ep.Value != "boom" {
		t.Errorf("panic value: got %v", ep.Value)
	}
}

func TestTimeout(t *testing.T) {
	base := func(ctx context.Context, payload []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	_, err := Timeout(10 * time.Millisecond)(base)(context.Background(), nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want DeadlineExceeded", err)
	}
}

func TestLogging_PassesThrough(t *testing.T) {
	errFail := errors.New("fail")
	base := func(ctx context.Context, payload []byte) ([]byte, error) {
		return []byte("ok"), errFail
	}
	resp, err := Logging(slog.Default())(base)(context.Background(), []byte("in"))
	if string(resp) != "ok" || !errors.Is(err, errFail) {
		t.Fatalf("got %q, %v", resp, err)
	}
}

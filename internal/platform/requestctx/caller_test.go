package requestctx

import (
	"context"
	"testing"
)

func TestCallerFromContextRoundTrip(t *testing.T) {
	want := Caller{Subject: "3", Role: "participant", MatchID: "m1"}
	got, ok := CallerFromContext(WithCaller(context.Background(), want))
	if !ok || got != want {
		t.Fatalf("CallerFromContext = %+v, %v, want %+v", got, ok, want)
	}
}

func TestCallerFromContextEmpty(t *testing.T) {
	if _, ok := CallerFromContext(context.Background()); ok {
		t.Fatal("expected no caller")
	}
}

func TestCallerFromContextNil(t *testing.T) {
	if _, ok := CallerFromContext(nil); ok {
		t.Fatal("expected no caller for nil context")
	}
}

func TestWithCallerNilContext(t *testing.T) {
	ctx := WithCaller(nil, Caller{Subject: "host"})
	if got, _ := CallerFromContext(ctx); got.Subject != "host" {
		t.Fatalf("Subject = %q, want host", got.Subject)
	}
}

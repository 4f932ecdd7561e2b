package plugin

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

type recordingPlugin struct {
	id    string
	calls *[]string

	panicOnBefore bool
	errOnAfter    error
}

func (p *recordingPlugin) ID() string { return p.id }

func (p *recordingPlugin) OnInit(context.Context) error {
	*p.calls = append(*p.calls, p.id+":OnInit")
	return nil
}

func (p *recordingPlugin) OnBeforeTask(_ context.Context, name string) error {
	if p.panicOnBefore {
		panic("boom")
	}
	*p.calls = append(*p.calls, p.id+":OnBeforeTask:"+name)
	return nil
}

func (p *recordingPlugin) OnAfterTask(_ context.Context, name string, exitCode int) error {
	*p.calls = append(*p.calls, p.id+":OnAfterTask:"+name)
	return p.errOnAfter
}

func TestEngineCallsHooksInIDOrder(t *testing.T) {
	var calls []string
	b := &recordingPlugin{id: "b", calls: &calls}
	a := &recordingPlugin{id: "a", calls: &calls}

	e, err := NewEngine([]Plugin{b, a}, slog.Default())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	e.OnInit(context.Background())
	e.OnBeforeTask(context.Background(), "build")
	e.OnAfterTask(context.Background(), "build", 0)

	want := []string{"a:OnInit", "b:OnInit", "a:OnBeforeTask:build", "b:OnBeforeTask:build", "a:OnAfterTask:build", "b:OnAfterTask:build"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls[%d] = %q, want %q", i, calls[i], want[i])
		}
	}
}

func TestEngineRejectsDuplicateID(t *testing.T) {
	p1 := &recordingPlugin{id: "dup", calls: &[]string{}}
	p2 := &recordingPlugin{id: "dup", calls: &[]string{}}
	if _, err := NewEngine([]Plugin{p1, p2}, slog.Default()); err == nil {
		t.Fatal("expected error for duplicate plugin id")
	}
}

func TestEngineRecoversPanicAndRecordsError(t *testing.T) {
	var calls []string
	p := &recordingPlugin{id: "p", calls: &calls, panicOnBefore: true}
	e, err := NewEngine([]Plugin{p}, slog.Default())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	e.OnBeforeTask(context.Background(), "build")

	errs := e.Errors()
	if len(errs) != 1 {
		t.Fatalf("Errors() = %v, want 1 entry", errs)
	}
}

func TestEngineRecordsHookError(t *testing.T) {
	wantErr := errors.New("boom")
	p := &recordingPlugin{id: "p", calls: &[]string{}, errOnAfter: wantErr}
	e, err := NewEngine([]Plugin{p}, slog.Default())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	e.OnAfterTask(context.Background(), "build", 1)

	errs := e.Errors()
	if len(errs) != 1 || !errors.Is(errs[0], wantErr) {
		t.Fatalf("Errors() = %v, want wrapping %v", errs, wantErr)
	}
}

func TestNilEngineIsNoOp(t *testing.T) {
	var e *Engine
	e.OnInit(context.Background())
	e.OnBeforeTask(context.Background(), "build")
	e.OnAfterTask(context.Background(), "build", 0)
}

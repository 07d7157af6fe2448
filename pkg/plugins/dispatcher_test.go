package plugins

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openfroyo/activator/pkg/engine"
)

// stubHandler answers every step with a canned status.
type stubHandler struct {
	kind  engine.ResourceKind
	panic bool
	calls int
}

func (h *stubHandler) Kind() engine.ResourceKind { return h.kind }

func (h *stubHandler) step(step engine.LifecycleStep, id string) *engine.TaskStatus {
	h.calls++
	if h.panic {
		panic("boom")
	}
	return engine.SucceededTask(h.kind, step, id, string(step)+" done")
}

func (h *stubHandler) Activate(_ context.Context, id string, _ engine.ActivationContext) *engine.TaskStatus {
	return h.step(engine.StepActivate, id)
}
func (h *stubHandler) FirstStart(_ context.Context, id string) *engine.TaskStatus {
	return h.step(engine.StepFirstStart, id)
}
func (h *stubHandler) Start(_ context.Context, id string) *engine.TaskStatus {
	return h.step(engine.StepStart, id)
}
func (h *stubHandler) Stop(_ context.Context, id string) *engine.TaskStatus {
	return h.step(engine.StepStop, id)
}
func (h *stubHandler) Delete(_ context.Context, id string) *engine.TaskStatus {
	return h.step(engine.StepDelete, id)
}
func (h *stubHandler) Poll(_ context.Context, status *engine.TaskStatus) *engine.TaskStatus {
	if h.panic {
		panic("boom")
	}
	return status
}

func TestNewDispatcher_RegistrationErrors(t *testing.T) {
	route := &stubHandler{kind: engine.KindRoute}

	tests := []struct {
		name string
		regs []Registration
		code string
	}{
		{"unknown kind", []Registration{{Kind: "queue", Step: engine.StepActivate, Handler: route}}, engine.ErrCodeMisconfigured},
		{"unknown step", []Registration{{Kind: engine.KindRoute, Step: "restart", Handler: route}}, engine.ErrCodeMisconfigured},
		{"nil handler", []Registration{{Kind: engine.KindRoute, Step: engine.StepActivate}}, engine.ErrCodeMisconfigured},
		{"kind mismatch", []Registration{{Kind: engine.KindApp, Step: engine.StepActivate, Handler: route}}, engine.ErrCodeMisconfigured},
		{"duplicate", append(AllSteps(route), Registration{Kind: engine.KindRoute, Step: engine.StepStop, Handler: route}), engine.ErrCodeAlreadyExists},
		{"nil AllSteps", AllSteps(nil), engine.ErrCodeMisconfigured},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDispatcher(tt.regs...)
			if !engine.IsConfiguration(err) {
				t.Fatalf("NewDispatcher() error = %v, want configuration error", err)
			}
			var engErr *engine.EngineError
			if !errors.As(err, &engErr) || engErr.Code != tt.code {
				t.Errorf("error code = %v, want %s", engErr, tt.code)
			}
		})
	}
}

func TestDispatcher_AcceptsAndRequire(t *testing.T) {
	d, err := NewDispatcher(AllSteps(&stubHandler{kind: engine.KindRoute})...)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	if !d.Accepts(engine.KindRoute, engine.StepDelete) {
		t.Error("route/delete should be accepted")
	}
	if d.Accepts(engine.KindApp, engine.StepDelete) {
		t.Error("app/delete should not be accepted")
	}
	if err := d.Require(engine.KindRoute); err != nil {
		t.Errorf("Require(route) error = %v", err)
	}
	if err := d.Require(engine.KindRoute, engine.KindApp); !engine.IsConfiguration(err) {
		t.Errorf("Require(app) error = %v, want configuration error", err)
	}
}

func TestDispatcher_WithLeavesReceiverUnchanged(t *testing.T) {
	d, err := NewDispatcher(AllSteps(&stubHandler{kind: engine.KindRoute})...)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	next, err := d.With(AllSteps(&stubHandler{kind: engine.KindApp})...)
	if err != nil {
		t.Fatalf("With() error = %v", err)
	}
	if d.Accepts(engine.KindApp, engine.StepActivate) {
		t.Error("With should not modify the receiver")
	}
	if !next.Accepts(engine.KindApp, engine.StepActivate) || !next.Accepts(engine.KindRoute, engine.StepActivate) {
		t.Error("With should hold both registrations")
	}
	if _, err := next.With(AllSteps(&stubHandler{kind: engine.KindApp})...); !engine.IsConfiguration(err) {
		t.Errorf("With(duplicate) error = %v", err)
	}
}

func TestDispatcher_Miss(t *testing.T) {
	d, err := NewDispatcher()
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	status := d.Dispatch(context.Background(), engine.KindApp, engine.StepStart, "a1", engine.ActivationContext{})
	if !status.Failed() {
		t.Fatalf("state = %s, want FINISHED_FAILED", status.State)
	}
	if !strings.Contains(status.ErrorMessage, "no handler registered") {
		t.Errorf("error message = %q", status.ErrorMessage)
	}

	running := engine.StartedTask(engine.KindApp, engine.StepStart, "a1", "App a1")
	polled := d.Poll(context.Background(), running)
	if !polled.Failed() {
		t.Errorf("poll of unknown kind = %s, want FINISHED_FAILED", polled.State)
	}
	if running.IsTerminal() {
		t.Error("poll should not mutate its argument")
	}
}

func TestDispatcher_RecoversPanics(t *testing.T) {
	h := &stubHandler{kind: engine.KindSpace, panic: true}
	d, err := NewDispatcher(AllSteps(h)...)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	status := d.Dispatch(context.Background(), engine.KindSpace, engine.StepActivate, "s1", engine.ActivationContext{})
	if !status.Failed() || !strings.Contains(status.ErrorMessage, "boom") {
		t.Errorf("status = %s %q, want FINISHED_FAILED with the panic", status.State, status.ErrorMessage)
	}

	polled := d.Poll(context.Background(), engine.StartedTask(engine.KindSpace, engine.StepActivate, "s1", "Space s1"))
	if !polled.Failed() {
		t.Errorf("poll state = %s, want FINISHED_FAILED", polled.State)
	}
}

func TestDispatcher_RoutesBySteps(t *testing.T) {
	h := &stubHandler{kind: engine.KindOrganization}
	d, err := NewDispatcher(AllSteps(h)...)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	for _, step := range engine.AllSteps {
		status := d.Dispatch(context.Background(), engine.KindOrganization, step, "o1", engine.ActivationContext{})
		if status.Step != step || status.Title != string(step)+" done" {
			t.Errorf("Dispatch(%s) = %s %q", step, status.Step, status.Title)
		}
	}
	if h.calls != len(engine.AllSteps) {
		t.Errorf("handler calls = %d, want %d", h.calls, len(engine.AllSteps))
	}
}

package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/spanearme/voicebridge/internal/crm"
)

type fakeCRM struct {
	result crm.CreateResult
	err    error
	calls  int
}

func (f *fakeCRM) CreateRecord(ctx context.Context, fullName, phoneNumber, email string) (crm.CreateResult, error) {
	f.calls++
	if f.err != nil {
		return crm.CreateResult{}, f.err
	}
	return f.result, nil
}

func newLeadRegistry(t *testing.T, svc crm.Service, leads *crm.LeadLog) *Registry {
	t.Helper()
	r := NewRegistry(time.Second, zerolog.Nop())
	if err := r.Register(NewLeadDefinition(svc, leads, zerolog.Nop())); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return r
}

func validLeadArgs() map[string]any {
	return map[string]any{
		"fullName":    "Jordan Smith",
		"phoneNumber": "555-0100",
		"email":       "jordan@example.com",
	}
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := NewRegistry(time.Second, zerolog.Nop())

	if err := r.Register(Definition{Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) { return nil, nil }}); err == nil {
		t.Error("Expected error for definition without a name")
	}
	if err := r.Register(Definition{Name: "noop"}); err == nil {
		t.Error("Expected error for definition without a handler")
	}

	def := NewLeadDefinition(&fakeCRM{}, crm.NewLeadLog(), zerolog.Nop())
	if err := r.Register(def); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(def); err == nil {
		t.Error("Expected error for duplicate registration")
	}
}

func TestRegistry_Declarations(t *testing.T) {
	r := newLeadRegistry(t, &fakeCRM{}, crm.NewLeadLog())

	decls := r.Declarations()
	if len(decls) != 1 {
		t.Fatalf("Expected 1 declaration, got %d", len(decls))
	}
	if decls[0].Name != LeadToolName {
		t.Errorf("Expected declaration for %q, got %q", LeadToolName, decls[0].Name)
	}
	if decls[0].ParameterSchema == nil {
		t.Error("Expected declaration to carry a parameter schema")
	}
}

func TestRegistry_HandleSuccess(t *testing.T) {
	svc := &fakeCRM{result: crm.CreateResult{Success: true, RecordID: "lead_abc123"}}
	leads := crm.NewLeadLog()
	r := newLeadRegistry(t, svc, leads)

	res := r.Handle(context.Background(), Invocation{
		ID:   "call-1",
		Name: LeadToolName,
		Args: validLeadArgs(),
	})

	if res.ID != "call-1" || res.Name != LeadToolName {
		t.Errorf("Result lost correlation: id=%q name=%q", res.ID, res.Name)
	}
	if success, _ := res.Payload["success"].(bool); !success {
		t.Fatalf("Expected success payload, got %v", res.Payload)
	}
	if res.Payload["recordId"] != "lead_abc123" {
		t.Errorf("Expected recordId in payload, got %v", res.Payload["recordId"])
	}

	if leads.Len() != 1 {
		t.Fatalf("Expected 1 lead recorded, got %d", leads.Len())
	}
	rec := leads.Records()[0]
	if rec.ID != "lead_abc123" || rec.FullName != "Jordan Smith" {
		t.Errorf("Unexpected lead record: %+v", rec)
	}
	if rec.Timestamp.IsZero() {
		t.Error("Expected lead record to carry a timestamp")
	}
}

func TestRegistry_HandleUnknownTool(t *testing.T) {
	r := newLeadRegistry(t, &fakeCRM{}, crm.NewLeadLog())

	res := r.Handle(context.Background(), Invocation{ID: "call-2", Name: "deleteEverything"})

	if res.ID != "call-2" {
		t.Errorf("Expected result correlated to invocation id, got %q", res.ID)
	}
	if success, _ := res.Payload["success"].(bool); success {
		t.Error("Expected failure payload for unknown tool")
	}
	if msg, _ := res.Payload["error"].(string); !strings.Contains(msg, "unknown tool") {
		t.Errorf("Expected unknown-tool error message, got %q", msg)
	}
}

func TestRegistry_HandleInvalidArguments(t *testing.T) {
	svc := &fakeCRM{result: crm.CreateResult{Success: true, RecordID: "x"}}
	r := newLeadRegistry(t, svc, crm.NewLeadLog())

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing required field", map[string]any{"fullName": "Jordan Smith"}},
		{"wrong type", map[string]any{"fullName": 42, "phoneNumber": "555-0100", "email": "j@example.com"}},
		{"nil arguments", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Handle(context.Background(), Invocation{ID: "call-3", Name: LeadToolName, Args: tt.args})
			if success, _ := res.Payload["success"].(bool); success {
				t.Fatalf("Expected validation failure, got %v", res.Payload)
			}
			if res.ID != "call-3" {
				t.Errorf("Expected correlated failure result, got id %q", res.ID)
			}
		})
	}

	if svc.calls != 0 {
		t.Errorf("Handler ran %d times despite invalid arguments", svc.calls)
	}
}

func TestRegistry_HandleServiceFailure(t *testing.T) {
	svc := &fakeCRM{err: fmt.Errorf("%w: upstream 503", crm.ErrRecordService)}
	leads := crm.NewLeadLog()
	r := newLeadRegistry(t, svc, leads)

	res := r.Handle(context.Background(), Invocation{ID: "call-4", Name: LeadToolName, Args: validLeadArgs()})

	if success, _ := res.Payload["success"].(bool); success {
		t.Fatalf("Expected failure payload, got %v", res.Payload)
	}
	if res.ID != "call-4" {
		t.Errorf("Service failure must still produce a correlated result, got id %q", res.ID)
	}
	if leads.Len() != 0 {
		t.Errorf("Failed creation must not append a lead, got %d", leads.Len())
	}
}

func TestRegistry_HandleTimeout(t *testing.T) {
	r := NewRegistry(20*time.Millisecond, zerolog.Nop())
	err := r.Register(Definition{
		Name:            "slow",
		ParameterSchema: map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			select {
			case <-time.After(time.Second):
				return map[string]any{}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	start := time.Now()
	res := r.Handle(context.Background(), Invocation{ID: "call-5", Name: "slow"})
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Handle did not respect the execution bound, took %v", elapsed)
	}

	if success, _ := res.Payload["success"].(bool); success {
		t.Error("Expected timeout to produce a failure payload")
	}
	if res.ID != "call-5" {
		t.Errorf("Timeout must still produce a correlated result, got id %q", res.ID)
	}
}

func TestErrInvalidArguments_Wrapped(t *testing.T) {
	r := newLeadRegistry(t, &fakeCRM{}, crm.NewLeadLog())
	res := r.Handle(context.Background(), Invocation{ID: "c", Name: LeadToolName, Args: map[string]any{}})

	msg, _ := res.Payload["error"].(string)
	if !strings.Contains(msg, ErrInvalidArguments.Error()) {
		t.Errorf("Expected error payload to mention invalid arguments, got %q", msg)
	}
}

func TestFailureHelper_PreservesCorrelation(t *testing.T) {
	inv := Invocation{ID: "id-9", Name: "anything"}
	res := failure(inv, errors.New("boom"))
	if res.ID != inv.ID || res.Name != inv.Name {
		t.Errorf("failure dropped correlation: %+v", res)
	}
}

package policyopa

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"decertify/internal/domain"
)

const testPolicy = `package decertify.issuance

deny[d] {
	input.document.media_type != "application/pdf"
	d := {"code": "MEDIA_TYPE", "message": sprintf("unsupported media type %s", [input.document.media_type])}
}

deny[d] {
	input.request.period < 2000
	d := {"code": "PERIOD", "message": "graduation period is closed"}
}

deny[d] {
	input.document.size > 1048576
	d := {"code": "SIZE", "message": "document too large"}
}
`

func baseInput() domain.PolicyInput {
	return domain.PolicyInput{
		Request:  domain.PolicyRequest{ID: "req-1", SubjectID: "1RV20CS001", Period: 2024, Category: "degree"},
		IssuerID: "issuer-1",
		Document: domain.PolicyDocument{Size: 2048, MediaType: "application/pdf"},
	}
}

func TestEngineAllowsBaseline(t *testing.T) {
	engine, err := NewEngineFromModule(context.Background(), "issuance.rego", testPolicy)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	denies, err := engine.Evaluate(context.Background(), baseInput())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(denies) != 0 {
		t.Fatalf("expected no denies, got %+v", denies)
	}
}

func TestEngineDenies(t *testing.T) {
	engine, err := NewEngineFromModule(context.Background(), "issuance.rego", testPolicy)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	input := baseInput()
	input.Request.Period = 1995
	input.Document.MediaType = "image/png"

	denies, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(denies) != 2 || denies[0].Code != "MEDIA_TYPE" || denies[1].Code != "PERIOD" {
		t.Fatalf("unexpected denies: %+v", denies)
	}
	if denies[0].Message != "unsupported media type image/png" {
		t.Fatalf("unexpected message %q", denies[0].Message)
	}
}

func TestEngineFromPath(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "issuance.rego"), []byte(testPolicy), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	engine, err := NewEngineFromPath(context.Background(), dir)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	input := baseInput()
	input.Document.Size = 2 << 20
	denies, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(denies) != 1 || denies[0].Code != "SIZE" {
		t.Fatalf("unexpected denies: %+v", denies)
	}
}

func TestEngineRejectsForbiddenBuiltins(t *testing.T) {
	policy := `package decertify.issuance

deny[d] {
	resp := http.send({"method": "GET", "url": "https://example.com"})
	resp.status_code != 200
	d := {"code": "REMOTE", "message": "remote check failed"}
}
`
	if _, err := NewEngineFromModule(context.Background(), "remote.rego", policy); err == nil {
		t.Fatalf("expected forbidden builtin error")
	}
}

func TestEngineWithoutDenyRule(t *testing.T) {
	engine, err := NewEngineFromModule(context.Background(), "empty.rego", "package decertify.other\n\nallow = true\n")
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	denies, err := engine.Evaluate(context.Background(), baseInput())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(denies) != 0 {
		t.Fatalf("expected no denies, got %+v", denies)
	}
}

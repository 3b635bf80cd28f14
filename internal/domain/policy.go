package domain

import "context"

type PolicyInput struct {
	Request  PolicyRequest  `json:"request"`
	IssuerID string         `json:"issuer_id"`
	Document PolicyDocument `json:"document"`
}

type PolicyRequest struct {
	ID        string `json:"id"`
	SubjectID string `json:"subject_id"`
	Period    int    `json:"period"`
	Category  string `json:"category"`
}

type PolicyDocument struct {
	Size      int    `json:"size"`
	MediaType string `json:"media_type,omitempty"`
}

type PolicyDeny struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type IssuancePolicy interface {
	Evaluate(ctx context.Context, input PolicyInput) ([]PolicyDeny, error)
}

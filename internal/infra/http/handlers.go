package http

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"decertify/internal/domain"
	"decertify/internal/usecase"

	"github.com/gin-gonic/gin"
)

type createRequestBody struct {
	IssuerID         string `json:"issuer_id"`
	RecipientAddress string `json:"recipient_address"`
	SubjectID        string `json:"subject_id"`
	Period           int    `json:"period"`
	Category         string `json:"category"`
}

type decideBody struct {
	Status  string `json:"status"`
	Remarks string `json:"remarks"`
}

type eventResponse struct {
	Type      domain.EventType `json:"type"`
	Attempt   int              `json:"attempt"`
	ActorID   string           `json:"actor_id,omitempty"`
	Payload   map[string]any   `json:"payload,omitempty"`
	CreatedAt string           `json:"created_at"`
}

func (s *Server) handleCreateRequest(c *gin.Context) {
	principal, ok := s.requirePrincipal(c, domain.RoleRequester)
	if !ok {
		return
	}
	var body createRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	view, err := s.requests.CreateRequest(c.Request.Context(), usecase.CreateInput{
		RequesterID:      principal.Subject,
		IssuerID:         body.IssuerID,
		RecipientAddress: body.RecipientAddress,
		SubjectID:        body.SubjectID,
		Period:           body.Period,
		Category:         body.Category,
	})
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (s *Server) handleListRequests(c *gin.Context) {
	principal, ok := s.requirePrincipal(c)
	if !ok {
		return
	}
	var (
		views []usecase.RequestView
		err   error
	)
	if principal.Role == domain.RoleIssuer {
		views, err = s.requests.ListIssuerRequests(c.Request.Context(), principal.Subject, c.Query("status"))
	} else {
		views, err = s.requests.ListRequesterRequests(c.Request.Context(), principal.Subject)
	}
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": views})
}

func (s *Server) handleGetRequest(c *gin.Context) {
	principal, ok := s.requirePrincipal(c)
	if !ok {
		return
	}
	view, err := s.requests.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	if !canView(principal, view.RequesterID, view.IssuerID) {
		writeError(c, domain.ErrNotFound, nil)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleListEvents(c *gin.Context) {
	principal, ok := s.requirePrincipal(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	view, err := s.requests.GetRequest(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	if !canView(principal, view.RequesterID, view.IssuerID) {
		writeError(c, domain.ErrNotFound, nil)
		return
	}
	events, err := s.requests.ListEvents(ctx, view.ID)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, event := range events {
		out = append(out, eventResponse{
			Type:      event.Type,
			Attempt:   event.Attempt,
			ActorID:   event.ActorID,
			Payload:   event.Payload,
			CreatedAt: event.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

// handleDecide accepts JSON for a rejection and multipart/form-data when a
// document is attached.
func (s *Server) handleDecide(c *gin.Context) {
	principal, ok := s.requirePrincipal(c, domain.RoleIssuer)
	if !ok {
		return
	}
	input := usecase.DecideInput{
		RequestID: c.Param("id"),
		IssuerID:  principal.Subject,
	}
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		input.Decision = c.PostForm("status")
		input.Remarks = c.PostForm("remarks")
		doc, err := s.readDocument(c)
		if err != nil {
			writeError(c, err, nil)
			return
		}
		input.Document = doc
	} else {
		var body decideBody
		if err := c.ShouldBindJSON(&body); err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
			return
		}
		input.Decision = body.Status
		input.Remarks = body.Remarks
	}

	view, err := s.requests.DecideRequest(c.Request.Context(), input)
	if err != nil {
		writeError(c, err, &view)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) readDocument(c *gin.Context) (*usecase.DocumentInput, error) {
	header, err := c.FormFile("document")
	if err != nil {
		if err == http.ErrMissingFile {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read document: %v", domain.ErrValidation, err)
	}
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer f.Close()
	limit := s.cfg.MaxDocumentBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return &usecase.DocumentInput{Filename: header.Filename, Data: data}, nil
}

func (s *Server) handleRetry(c *gin.Context) {
	principal, ok := s.requirePrincipal(c, domain.RoleIssuer)
	if !ok {
		return
	}
	view, err := s.requests.RetryIssuance(c.Request.Context(), c.Param("id"), principal.Subject)
	if err != nil {
		writeError(c, err, &view)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleReconcile(c *gin.Context) {
	principal, ok := s.requirePrincipal(c, domain.RoleIssuer)
	if !ok {
		return
	}
	view, err := s.requests.Reconcile(c.Request.Context(), c.Param("id"), principal.Subject)
	if err != nil {
		writeError(c, err, &view)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleVerify(c *gin.Context) {
	view, err := s.requests.Verify(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleVerifyDocument(c *gin.Context) {
	data, mediaType, err := s.requests.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", "certificate-"+c.Param("id")+".pdf"))
	c.Data(http.StatusOK, mediaType, data)
}

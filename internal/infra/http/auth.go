package http

import (
	"net/http"
	"strings"

	"decertify/internal/domain"

	"github.com/gin-gonic/gin"
)

const (
	principalContextKey = "principal"

	headerSubject = "X-Principal-Subject"
	headerRole    = "X-Principal-Role"
)

// requirePrincipal reads the identity forwarded by the gateway. An empty
// roles list admits any authenticated caller.
func (s *Server) requirePrincipal(c *gin.Context, roles ...domain.Role) (domain.Principal, bool) {
	subject := strings.TrimSpace(c.GetHeader(headerSubject))
	if subject == "" {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing principal")
		return domain.Principal{}, false
	}
	role := domain.Role(strings.ToLower(strings.TrimSpace(c.GetHeader(headerRole))))
	if role != domain.RoleIssuer && role != domain.RoleRequester {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "unknown principal role")
		return domain.Principal{}, false
	}
	principal := domain.Principal{Subject: subject, Role: role}
	if len(roles) > 0 && !hasRole(principal, roles) {
		writeErrorCode(c, http.StatusForbidden, "FORBIDDEN", "role "+string(role)+" may not call this route")
		return domain.Principal{}, false
	}
	c.Set(principalContextKey, principal)
	return principal, true
}

func hasRole(principal domain.Principal, roles []domain.Role) bool {
	for _, role := range roles {
		if principal.Role == role {
			return true
		}
	}
	return false
}

// canView reports whether principal is a party to the request.
func canView(principal domain.Principal, requesterID, issuerID string) bool {
	switch principal.Role {
	case domain.RoleIssuer:
		return issuerID == principal.Subject
	case domain.RoleRequester:
		return requesterID == principal.Subject
	default:
		return false
	}
}

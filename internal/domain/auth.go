package domain

type Role string

const (
	RoleRequester Role = "requester"
	RoleIssuer    Role = "issuer"
)

// Principal is the already-verified caller identity supplied by the
// identity collaborator.
type Principal struct {
	Subject string
	Role    Role
}

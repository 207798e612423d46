package common

// Request headers understood by the HTTP surface.
const (
	AuthorizationHeaderName    = "Authorization"
	APIKeyHeaderName           = "X-API-Key"
	AnonymousIDHeaderName      = "X-Anonymous-Id"
	TransferPasswordHeaderName = "X-Transfer-Password"
	RequestIDHeaderName        = "X-Request-Id"
)

// AnonymousIDPrefix marks owner ids that are anonymous capabilities rather
// than account ids.
const AnonymousIDPrefix = "anon_"

// MaxBulkDelete is the largest id list a single bulk delete accepts.
const MaxBulkDelete = 50

package errors

import "net/http"

// Code is the stable, client-facing identifier of a failure class.
type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
	CodeTimeout       Code = "TIMEOUT"

	// escrow domain
	CodeInvalidAmount     Code = "INVALID_AMOUNT"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeVersionConflict   Code = "VERSION_CONFLICT"
	CodeAlreadyDisputed   Code = "ALREADY_DISPUTED"
	CodeInvalidResolution Code = "INVALID_RESOLUTION"
	CodeFundingMismatch   Code = "FUNDING_MISMATCH"
	CodeDuplicateID       Code = "DUPLICATE_ID"
)

// Metadata drives how a code is rendered over HTTP and whether callers and
// workers may retry it.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

const (
	retryable = true
	terminal  = false
	public    = true
	opaque    = false
)

var metadataByCode = map[Code]Metadata{
	CodeValidation:    {http.StatusBadRequest, terminal, "validation failed", public},
	CodeUnauthorized:  {http.StatusUnauthorized, terminal, "not authorized", opaque},
	CodeForbidden:     {http.StatusForbidden, terminal, "access denied", opaque},
	CodeNotFound:      {http.StatusNotFound, terminal, "resource not found", opaque},
	CodeConflict:      {http.StatusConflict, retryable, "conflict detected, retry the request", opaque},
	CodeStateConflict: {http.StatusUnprocessableEntity, terminal, "state transition disallowed", public},
	CodeIdempotency:   {http.StatusConflict, terminal, "idempotency key reused", public},
	CodeRateLimit:     {http.StatusTooManyRequests, terminal, "rate limit exceeded", opaque},
	CodeInternal:      {http.StatusInternalServerError, retryable, "internal server error", opaque},
	CodeDependency:    {http.StatusServiceUnavailable, retryable, "dependency unavailable", public},
	CodeTimeout:       {http.StatusGatewayTimeout, retryable, "upstream timed out", opaque},

	CodeInvalidAmount:     {http.StatusBadRequest, terminal, "amount must be positive", public},
	CodeInvalidTransition: {http.StatusUnprocessableEntity, terminal, "operation not allowed in current status", public},
	CodeVersionConflict:   {http.StatusConflict, retryable, "record was modified concurrently", opaque},
	CodeAlreadyDisputed:   {http.StatusConflict, terminal, "deposit already has an active dispute", public},
	CodeInvalidResolution: {http.StatusBadRequest, terminal, "resolution shares do not match deposit amount", public},
	CodeFundingMismatch:   {http.StatusUnprocessableEntity, terminal, "funding proof does not match deposit", public},
	CodeDuplicateID:       {http.StatusConflict, terminal, "record already exists", opaque},
}

// MetadataFor falls back to the internal-error entry for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

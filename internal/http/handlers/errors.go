// Package handlers defines the machine-readable error codes of the API.
//
// Clients branch on these codes rather than on messages. Generic codes mirror
// HTTP semantics; the deletion policy has one code per refusal reason so a
// client can explain why a receipt could not be removed.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "already_validated",
//	  "message": "validated receipts cannot be deleted"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeValidation       = "validation_failed"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodePayloadTooLarge  = "payload_too_large"

	// Deletion policy:
	ErrCodeAlreadyValidated = "already_validated"
	ErrCodeRoleForbidden    = "role_forbidden"
	ErrCodeNotOwner         = "not_owner"
	ErrCodeUnauthorizedRole = "unauthorized_role"

	// Operation failures:
	ErrCodeCreateFailed = "create_failed"
	ErrCodeUpdateFailed = "update_failed"
	ErrCodeListFailed   = "list_failed"
	ErrCodeSendFailed   = "send_failed"
	ErrCodeUploadFailed = "upload_failed"
)

// Package services defines the business logic of the recovery workflow:
// reconciliation of declarations, the receipt lifecycle, directories and
// notifications. This file centralizes service-level error values so that
// they can be consistently returned by service methods and checked by callers
// with errors.Is.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

// Reconciliation errors.
var (
	// ErrChauffeurRequired is returned when a draft is saved without a driver.
	ErrChauffeurRequired = errors.New("chauffeur is required")

	// ErrChauffeurNotFound indicates that the selected driver does not exist.
	ErrChauffeurNotFound = errors.New("chauffeur not found")

	// ErrChauffeurLocked is returned when a request tries to change the driver
	// of a declaration that already has one.
	ErrChauffeurLocked = errors.New("chauffeur cannot be changed once a declaration is associated")

	// ErrDeclarationExists is returned when a declaration already exists for
	// the program reference of a new draft.
	ErrDeclarationExists = errors.New("a declaration already exists for this program reference")

	// ErrDeclarationNotFound indicates that the requested declaration does not exist.
	ErrDeclarationNotFound = errors.New("declaration not found")

	// ErrNotRecovered is returned by Revoke when the declaration is not in a
	// recovered state.
	ErrNotRecovered = errors.New("declaration is not recovered")

	// ErrPendingReceipts is returned by Send when all receipts must be
	// validated and at least one is still a draft.
	ErrPendingReceipts = errors.New("all receipts must be validated before sending")
)

// Receipt errors.
var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrPhotoRequired   = errors.New("a receipt photo is required")
	ErrPhotoNotImage   = errors.New("the receipt photo must be an image")
	ErrInvalidAmount   = errors.New("amount must be greater than zero")
	ErrCompanyRequired = errors.New("company is required")
	ErrCompanyNotFound = errors.New("company not found")
)

// Deletion authorization errors, checked in this order.
var (
	// ErrAlreadyValidated: validated receipts can never be deleted.
	ErrAlreadyValidated = errors.New("validated receipts cannot be deleted")

	// ErrRoleForbidden: the caller's role may never delete receipts.
	ErrRoleForbidden = errors.New("role is not allowed to delete receipts")

	// ErrNotOwner: a driver may only delete receipts they created or that are
	// attributed to them.
	ErrNotOwner = errors.New("receipt does not belong to the caller")

	// ErrUnauthorizedRole: missing or unknown roles are denied by default.
	ErrUnauthorizedRole = errors.New("unauthorized role")
)

// Directory and notification errors.
var (
	ErrInvalidName          = errors.New("name is required")
	ErrCompanyExists        = errors.New("company already exists")
	ErrInvalidEmployeeType  = errors.New("employee type must be interne or externe")
	ErrDeclarationRequired  = errors.New("declaration id is required")
	ErrNotificationNotFound = errors.New("notification not found")
)

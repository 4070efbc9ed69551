package handler

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/josh-kwaku/wallet-ledger/internal/auth"
)

// ownerFromPath returns the {id} path owner if the caller may act on it.
// Other users' resources answer 404 so ids cannot be probed.
func ownerFromPath(r *http.Request) (uuid.UUID, *AppError) {
	ownerID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, ErrResourceNotFound
	}
	switch appErr := authorizeOwner(r, ownerID); appErr {
	case nil:
	case ErrForbidden:
		return uuid.Nil, ErrResourceNotFound
	default:
		return uuid.Nil, appErr
	}
	return ownerID, nil
}

// authorizeOwner allows the owner themself and admins.
func authorizeOwner(r *http.Request, ownerID uuid.UUID) *AppError {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return ErrMissingToken
	}
	if p.UserID != ownerID && !p.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

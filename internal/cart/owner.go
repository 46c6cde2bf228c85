package cart

import (
	"strings"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// Owner identifies whose cart an operation targets. Exactly one of UserID and
// SessionID is set; callers pass it explicitly instead of relying on request state.
type Owner struct {
	UserID    *uuid.UUID
	SessionID string
}

func GuestOwner(sessionID string) Owner {
	return Owner{SessionID: strings.TrimSpace(sessionID)}
}

func CustomerOwner(userID uuid.UUID) Owner {
	return Owner{UserID: &userID}
}

// OwnerOf rebuilds the owner recorded on an order or cart row.
func OwnerOf(userID *uuid.UUID, sessionID *string) Owner {
	if userID != nil && *userID != uuid.Nil {
		return CustomerOwner(*userID)
	}
	if sessionID != nil {
		return GuestOwner(*sessionID)
	}
	return Owner{}
}

func (o Owner) IsGuest() bool {
	return o.UserID == nil && o.SessionID != ""
}

func (o Owner) Validate() error {
	hasUser := o.UserID != nil && *o.UserID != uuid.Nil
	hasSession := o.SessionID != ""
	if hasUser == hasSession {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart owner must be exactly one of user or session")
	}
	if hasSession && len(o.SessionID) > 128 {
		return pkgerrors.New(pkgerrors.CodeValidation, "session id too long")
	}
	return nil
}

// Fields returns the owner columns as stored on carts and orders.
func (o Owner) Fields() (*uuid.UUID, *string) {
	if o.UserID != nil {
		id := *o.UserID
		return &id, nil
	}
	if o.SessionID == "" {
		return nil, nil
	}
	sid := o.SessionID
	return nil, &sid
}

func (o Owner) String() string {
	if o.UserID != nil {
		return "user:" + o.UserID.String()
	}
	return "session:" + o.SessionID
}

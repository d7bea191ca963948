package auction

import (
	"context"
	"errors"
	"strings"

	"connectrpc.com/connect"
	"github.com/google/uuid"
)

// Caller identity headers. Authentication happens upstream; these headers are
// trusted as set by the fronting proxy.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

type Role string

const (
	RoleMember    Role = "MEMBER"
	RoleOrganizer Role = "ORGANIZER"
	RoleAdmin     Role = "ADMIN"
)

// Caller is the authenticated user behind a request.
type Caller struct {
	UserID uuid.UUID
	Role   Role
}

// CanOrganize reports whether the caller may run auctions.
func (c Caller) CanOrganize() bool {
	return c.Role == RoleOrganizer || c.Role == RoleAdmin
}

type callerKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

var organizerProcedures = map[string]bool{
	CreateAuctionProcedure:      true,
	StartAuctionProcedure:       true,
	FinalizeItemProcedure:       true,
	CancelAuctionProcedure:      true,
	ResetAuctionedFlagProcedure: true,
	GetUserWonItemsProcedure:    true,
}

// NewAuthInterceptor resolves the caller from request headers and enforces
// the organizer role on administrative procedures.
func NewAuthInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if req.Spec().IsClient {
				return next(ctx, req)
			}

			caller, err := parseCaller(req.Header().Get(HeaderUserID), req.Header().Get(HeaderUserRole))
			if err != nil {
				return nil, connect.NewError(connect.CodeUnauthenticated, err)
			}
			if organizerProcedures[req.Spec().Procedure] && !caller.CanOrganize() {
				return nil, connect.NewError(connect.CodePermissionDenied,
					errors.New("organizer role required"))
			}
			return next(WithCaller(ctx, caller), req)
		}
	}
}

// NewCallerInterceptor stamps outgoing client requests with the given identity.
func NewCallerInterceptor(c Caller) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if req.Spec().IsClient {
				req.Header().Set(HeaderUserID, c.UserID.String())
				if c.Role != "" {
					req.Header().Set(HeaderUserRole, string(c.Role))
				}
			}
			return next(ctx, req)
		}
	}
}

func parseCaller(userID, role string) (Caller, error) {
	if userID == "" {
		return Caller{}, errors.New("missing " + HeaderUserID + " header")
	}
	id, err := uuid.Parse(userID)
	if err != nil || id == uuid.Nil {
		return Caller{}, errors.New("invalid " + HeaderUserID + " header")
	}

	r := Role(strings.ToUpper(strings.TrimSpace(role)))
	switch r {
	case "":
		r = RoleMember
	case RoleMember, RoleOrganizer, RoleAdmin:
	default:
		return Caller{}, errors.New("unknown role " + string(r))
	}
	return Caller{UserID: id, Role: r}, nil
}

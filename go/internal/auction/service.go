package auction

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/guildloot/go/internal/auction/clock"
	"github.com/mcdev12/guildloot/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ServiceName is the fully-qualified name of the AuctionService.
const ServiceName = "guildloot.auction.v1.AuctionService"

const (
	CreateAuctionProcedure      = "/" + ServiceName + "/CreateAuction"
	StartAuctionProcedure       = "/" + ServiceName + "/StartAuction"
	GetActiveAuctionProcedure   = "/" + ServiceName + "/GetActiveAuction"
	GetAuctionProcedure         = "/" + ServiceName + "/GetAuction"
	PlaceBidProcedure           = "/" + ServiceName + "/PlaceBid"
	FinalizeItemProcedure       = "/" + ServiceName + "/FinalizeItem"
	CancelAuctionProcedure      = "/" + ServiceName + "/CancelAuction"
	ListAuctionsProcedure       = "/" + ServiceName + "/ListAuctions"
	GetMyWonItemsProcedure      = "/" + ServiceName + "/GetMyWonItems"
	GetUserWonItemsProcedure    = "/" + ServiceName + "/GetUserWonItems"
	ResetAuctionedFlagProcedure = "/" + ServiceName + "/ResetAuctionedFlag"
)

// AuctionApp defines what the service layer needs from the auction application
type AuctionApp interface {
	CreateAuction(ctx context.Context, req CreateAuctionRequest) (*models.Auction, error)
	StartAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	GetActiveAuction(ctx context.Context) (*models.Auction, error)
	GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	PlaceBid(ctx context.Context, req PlaceBidRequest) (*BidOutcome, error)
	FinalizeItem(ctx context.Context, itemID uuid.UUID) (*models.Auction, error)
	CancelAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	ListAuctions(ctx context.Context, filter ListAuctionsFilter) ([]models.Auction, Pagination, error)
	GetUserWonItems(ctx context.Context, filter WonItemsFilter) ([]models.WonItem, Pagination, error)
	ResetAuctionedFlag(ctx context.Context, lootItemID, resetBy uuid.UUID, reason string) (*models.LootItem, error)
}

// Service implements the AuctionService connect procedures
type Service struct {
	app   AuctionApp
	clock clockwork.Clock
}

// NewService creates a new auction service
func NewService(app AuctionApp, c clockwork.Clock) *Service {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	return &Service{app: app, clock: c}
}

// NewAuctionServiceHandler builds an http.Handler serving every AuctionService
// procedure, returning the path prefix to mount it on.
func NewAuctionServiceHandler(svc *Service, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{
		connect.WithCodec(JSONCodec{}),
		connect.WithInterceptors(NewAuthInterceptor()),
	}, opts...)

	mux := http.NewServeMux()
	mux.Handle(CreateAuctionProcedure, connect.NewUnaryHandler(CreateAuctionProcedure, svc.CreateAuction, opts...))
	mux.Handle(StartAuctionProcedure, connect.NewUnaryHandler(StartAuctionProcedure, svc.StartAuction, opts...))
	mux.Handle(GetActiveAuctionProcedure, connect.NewUnaryHandler(GetActiveAuctionProcedure, svc.GetActiveAuction, opts...))
	mux.Handle(GetAuctionProcedure, connect.NewUnaryHandler(GetAuctionProcedure, svc.GetAuction, opts...))
	mux.Handle(PlaceBidProcedure, connect.NewUnaryHandler(PlaceBidProcedure, svc.PlaceBid, opts...))
	mux.Handle(FinalizeItemProcedure, connect.NewUnaryHandler(FinalizeItemProcedure, svc.FinalizeItem, opts...))
	mux.Handle(CancelAuctionProcedure, connect.NewUnaryHandler(CancelAuctionProcedure, svc.CancelAuction, opts...))
	mux.Handle(ListAuctionsProcedure, connect.NewUnaryHandler(ListAuctionsProcedure, svc.ListAuctions, opts...))
	mux.Handle(GetMyWonItemsProcedure, connect.NewUnaryHandler(GetMyWonItemsProcedure, svc.GetMyWonItems, opts...))
	mux.Handle(GetUserWonItemsProcedure, connect.NewUnaryHandler(GetUserWonItemsProcedure, svc.GetUserWonItems, opts...))
	mux.Handle(ResetAuctionedFlagProcedure, connect.NewUnaryHandler(ResetAuctionedFlagProcedure, svc.ResetAuctionedFlag, opts...))
	return "/" + ServiceName + "/", mux
}

// CreateAuction queues loot items into a new PENDING auction
func (s *Service) CreateAuction(ctx context.Context, req *connect.Request[CreateAuctionMessage]) (*connect.Response[AuctionMessage], error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(req.Msg.LootItemIDs))
	for _, raw := range req.Msg.LootItemIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid loot item id %q", raw))
		}
		ids = append(ids, id)
	}

	auc, err := s.app.CreateAuction(ctx, CreateAuctionRequest{
		LootItemIDs:         ids,
		DefaultTimerSeconds: req.Msg.DefaultTimerSeconds,
		MinBidIncrement:     req.Msg.MinBidIncrement,
		Notes:               req.Msg.Notes,
		CreatedBy:           caller.UserID,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&AuctionMessage{Auction: auc}), nil
}

func (s *Service) StartAuction(ctx context.Context, req *connect.Request[AuctionIDMessage]) (*connect.Response[AuctionMessage], error) {
	id, err := parseID("auction_id", req.Msg.AuctionID)
	if err != nil {
		return nil, err
	}
	auc, err := s.app.StartAuction(ctx, id)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&AuctionMessage{Auction: auc}), nil
}

// GetActiveAuction returns the running auction with the server clock and the
// in-progress item's remaining seconds.
func (s *Service) GetActiveAuction(ctx context.Context, _ *connect.Request[GetActiveAuctionMessage]) (*connect.Response[ActiveAuctionMessage], error) {
	auc, err := s.app.GetActiveAuction(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(NewActiveAuctionMessage(auc, s.clock.Now())), nil
}

func (s *Service) GetAuction(ctx context.Context, req *connect.Request[AuctionIDMessage]) (*connect.Response[AuctionMessage], error) {
	id, err := parseID("auction_id", req.Msg.AuctionID)
	if err != nil {
		return nil, err
	}
	auc, err := s.app.GetAuction(ctx, id)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&AuctionMessage{Auction: auc}), nil
}

// PlaceBid submits a bid as the caller. A refused bid is a normal response
// carrying a rejection, not an RPC error.
func (s *Service) PlaceBid(ctx context.Context, req *connect.Request[PlaceBidMessage]) (*connect.Response[PlaceBidResultMessage], error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	itemID, err := parseID("auction_item_id", req.Msg.AuctionItemID)
	if err != nil {
		return nil, err
	}

	out, err := s.app.PlaceBid(ctx, PlaceBidRequest{
		AuctionItemID: itemID,
		UserID:        caller.UserID,
		Amount:        req.Msg.Amount,
		RequestID:     req.Msg.RequestID,
		SubmittedAt:   req.Msg.SubmittedAt,
	})
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&PlaceBidResultMessage{
		Accepted:  out.Accepted,
		Duplicate: out.Duplicate,
		Bid:       out.Bid,
		Rejection: rejectionMessage(out.Rejection),
		Auction:   out.Auction,
	}), nil
}

func (s *Service) FinalizeItem(ctx context.Context, req *connect.Request[AuctionItemIDMessage]) (*connect.Response[AuctionMessage], error) {
	id, err := parseID("auction_item_id", req.Msg.AuctionItemID)
	if err != nil {
		return nil, err
	}
	auc, err := s.app.FinalizeItem(ctx, id)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&AuctionMessage{Auction: auc}), nil
}

func (s *Service) CancelAuction(ctx context.Context, req *connect.Request[AuctionIDMessage]) (*connect.Response[AuctionMessage], error) {
	id, err := parseID("auction_id", req.Msg.AuctionID)
	if err != nil {
		return nil, err
	}
	auc, err := s.app.CancelAuction(ctx, id)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&AuctionMessage{Auction: auc}), nil
}

func (s *Service) ListAuctions(ctx context.Context, req *connect.Request[ListAuctionsMessage]) (*connect.Response[AuctionListMessage], error) {
	filter := ListAuctionsFilter{Page: req.Msg.Page, PageSize: req.Msg.PageSize}
	if req.Msg.Status != "" {
		status := models.AuctionStatus(req.Msg.Status)
		switch status {
		case models.AuctionStatusPending, models.AuctionStatusActive,
			models.AuctionStatusFinished, models.AuctionStatusCancelled:
			filter.Status = &status
		default:
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("unknown auction status %q", req.Msg.Status))
		}
	}
	if req.Msg.CreatedBy != "" {
		id, err := parseID("created_by", req.Msg.CreatedBy)
		if err != nil {
			return nil, err
		}
		filter.CreatedBy = &id
	}

	list, page, err := s.app.ListAuctions(ctx, filter)
	if err != nil {
		return nil, toConnectError(err)
	}
	if list == nil {
		list = []models.Auction{}
	}
	return connect.NewResponse(&AuctionListMessage{Auctions: list, Pagination: page}), nil
}

// GetMyWonItems lists the caller's own winnings; any user_id in the request is ignored.
func (s *Service) GetMyWonItems(ctx context.Context, req *connect.Request[WonItemsQueryMessage]) (*connect.Response[WonItemsMessage], error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.wonItems(ctx, caller.UserID, req.Msg)
}

func (s *Service) GetUserWonItems(ctx context.Context, req *connect.Request[WonItemsQueryMessage]) (*connect.Response[WonItemsMessage], error) {
	userID, err := parseID("user_id", req.Msg.UserID)
	if err != nil {
		return nil, err
	}
	return s.wonItems(ctx, userID, req.Msg)
}

func (s *Service) wonItems(ctx context.Context, userID uuid.UUID, msg *WonItemsQueryMessage) (*connect.Response[WonItemsMessage], error) {
	items, page, err := s.app.GetUserWonItems(ctx, WonItemsFilter{
		UserID:   userID,
		From:     msg.From,
		To:       msg.To,
		Page:     msg.Page,
		PageSize: msg.PageSize,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	if items == nil {
		items = []models.WonItem{}
	}
	return connect.NewResponse(&WonItemsMessage{Items: items, Pagination: page}), nil
}

func (s *Service) ResetAuctionedFlag(ctx context.Context, req *connect.Request[ResetAuctionedFlagMessage]) (*connect.Response[LootItemMessage], error) {
	id, err := parseID("loot_item_id", req.Msg.LootItemID)
	if err != nil {
		return nil, err
	}
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	loot, err := s.app.ResetAuctionedFlag(ctx, id, caller.UserID, req.Msg.Reason)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&LootItemMessage{LootItem: loot}), nil
}

// NewActiveAuctionMessage stamps a snapshot with the server time and the
// seconds left on the item in auction.
func NewActiveAuctionMessage(auc *models.Auction, now time.Time) *ActiveAuctionMessage {
	msg := &ActiveAuctionMessage{Auction: auc, ServerTime: now}
	if remaining, ok := clock.ItemRemaining(auc, now); ok {
		msg.TimeRemainingSec = &remaining
	}
	return msg
}

func rejectionMessage(err error) *RejectionMessage {
	if err == nil {
		return nil
	}

	msg := &RejectionMessage{Message: err.Error()}
	var (
		tooLow *BidTooLowError
		self   *SelfOutbidError
		notIn  *ItemNotInAuctionError
	)
	switch {
	case errors.As(err, &tooLow):
		msg.Code = RejectionBidTooLow
		min := tooLow.Minimum
		msg.Minimum = &min
	case errors.As(err, &self):
		msg.Code = RejectionSelfOutbid
	case errors.As(err, &notIn):
		msg.Code = RejectionItemNotInAuction
	default:
		msg.Code = RejectionItemNotInAuction
	}
	return msg
}

// toConnectError maps domain errors onto connect codes.
func toConnectError(err error) error {
	var (
		vErr     *ValidationError
		stateErr *InvalidStateError
		notIn    *ItemNotInAuctionError
	)
	switch {
	case errors.As(err, &vErr):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.As(err, &stateErr), errors.As(err, &notIn):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		log.Error().Err(err).Msg("auction service internal error")
		return connect.NewError(connect.CodeInternal, errors.New("internal error"))
	}
}

func parseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid %s %q", field, raw))
	}
	return id, nil
}

// callerFrom returns the identity installed by the auth interceptor.
func callerFrom(ctx context.Context) (Caller, error) {
	c, ok := CallerFromContext(ctx)
	if !ok {
		return Caller{}, connect.NewError(connect.CodeUnauthenticated, errors.New("no caller identity"))
	}
	return c, nil
}

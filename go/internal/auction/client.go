package auction

import (
	"context"
	"fmt"
	"strings"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/mcdev12/guildloot/go/internal/models"
)

// Client is a typed AuctionService client. Identity is attached with
// NewCallerInterceptor.
type Client struct {
	createAuction      *connect.Client[CreateAuctionMessage, AuctionMessage]
	startAuction       *connect.Client[AuctionIDMessage, AuctionMessage]
	getActiveAuction   *connect.Client[GetActiveAuctionMessage, ActiveAuctionMessage]
	getAuction         *connect.Client[AuctionIDMessage, AuctionMessage]
	placeBid           *connect.Client[PlaceBidMessage, PlaceBidResultMessage]
	finalizeItem       *connect.Client[AuctionItemIDMessage, AuctionMessage]
	cancelAuction      *connect.Client[AuctionIDMessage, AuctionMessage]
	listAuctions       *connect.Client[ListAuctionsMessage, AuctionListMessage]
	getMyWonItems      *connect.Client[WonItemsQueryMessage, WonItemsMessage]
	getUserWonItems    *connect.Client[WonItemsQueryMessage, WonItemsMessage]
	resetAuctionedFlag *connect.Client[ResetAuctionedFlagMessage, LootItemMessage]
}

// NewClient constructs a client for the AuctionService at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(JSONCodec{})}, opts...)
	return &Client{
		createAuction:      connect.NewClient[CreateAuctionMessage, AuctionMessage](httpClient, baseURL+CreateAuctionProcedure, opts...),
		startAuction:       connect.NewClient[AuctionIDMessage, AuctionMessage](httpClient, baseURL+StartAuctionProcedure, opts...),
		getActiveAuction:   connect.NewClient[GetActiveAuctionMessage, ActiveAuctionMessage](httpClient, baseURL+GetActiveAuctionProcedure, opts...),
		getAuction:         connect.NewClient[AuctionIDMessage, AuctionMessage](httpClient, baseURL+GetAuctionProcedure, opts...),
		placeBid:           connect.NewClient[PlaceBidMessage, PlaceBidResultMessage](httpClient, baseURL+PlaceBidProcedure, opts...),
		finalizeItem:       connect.NewClient[AuctionItemIDMessage, AuctionMessage](httpClient, baseURL+FinalizeItemProcedure, opts...),
		cancelAuction:      connect.NewClient[AuctionIDMessage, AuctionMessage](httpClient, baseURL+CancelAuctionProcedure, opts...),
		listAuctions:       connect.NewClient[ListAuctionsMessage, AuctionListMessage](httpClient, baseURL+ListAuctionsProcedure, opts...),
		getMyWonItems:      connect.NewClient[WonItemsQueryMessage, WonItemsMessage](httpClient, baseURL+GetMyWonItemsProcedure, opts...),
		getUserWonItems:    connect.NewClient[WonItemsQueryMessage, WonItemsMessage](httpClient, baseURL+GetUserWonItemsProcedure, opts...),
		resetAuctionedFlag: connect.NewClient[ResetAuctionedFlagMessage, LootItemMessage](httpClient, baseURL+ResetAuctionedFlagProcedure, opts...),
	}
}

func (c *Client) CreateAuction(ctx context.Context, msg *CreateAuctionMessage) (*models.Auction, error) {
	res, err := c.createAuction.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, fromConnectError(err)
	}
	return res.Msg.Auction, nil
}

func (c *Client) StartAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	res, err := c.startAuction.CallUnary(ctx, connect.NewRequest(&AuctionIDMessage{AuctionID: id.String()}))
	if err != nil {
		return nil, fromConnectError(err)
	}
	return res.Msg.Auction, nil
}

// ActiveAuction returns the running auction along with the server's clock reading.
func (c *Client) ActiveAuction(ctx context.Context) (*ActiveAuctionMessage, error) {
	res, err := c.getActiveAuction.CallUnary(ctx, connect.NewRequest(&GetActiveAuctionMessage{}))
	if err != nil {
		return nil, fromConnectError(err)
	}
	return res.Msg, nil
}

func (c *Client) GetActiveAuction(ctx context.Context) (*models.Auction, error) {
	msg, err := c.ActiveAuction(ctx)
	if err != nil {
		return nil, err
	}
	return msg.Auction, nil
}

func (c *Client) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	res, err := c.getAuction.CallUnary(ctx, connect.NewRequest(&AuctionIDMessage{AuctionID: id.String()}))
	if err != nil {
		return nil, fromConnectError(err)
	}
	return res.Msg.Auction, nil
}

func (c *Client) PlaceBid(ctx context.Context, msg *PlaceBidMessage) (*PlaceBidResultMessage, error) {
	res, err := c.placeBid.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, fromConnectError(err)
	}
	return res.Msg, nil
}

func (c *Client) FinalizeItem(ctx context.Context, itemID uuid.UUID) (*models.Auction, error) {
	res, err := c.finalizeItem.CallUnary(ctx, connect.NewRequest(&AuctionItemIDMessage{AuctionItemID: itemID.String()}))
	if err != nil {
		return nil, fromConnectError(err)
	}
	return res.Msg.Auction, nil
}

func (c *Client) CancelAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	res, err := c.cancelAuction.CallUnary(ctx, connect.NewRequest(&AuctionIDMessage{AuctionID: id.String()}))
	if err != nil {
		return nil, fromConnectError(err)
	}
	return res.Msg.Auction, nil
}

func (c *Client) ListAuctions(ctx context.Context, msg *ListAuctionsMessage) (*AuctionListMessage, error) {
	res, err := c.listAuctions.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, fromConnectError(err)
	}
	return res.Msg, nil
}

func (c *Client) GetMyWonItems(ctx context.Context, msg *WonItemsQueryMessage) (*WonItemsMessage, error) {
	res, err := c.getMyWonItems.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, fromConnectError(err)
	}
	return res.Msg, nil
}

func (c *Client) GetUserWonItems(ctx context.Context, msg *WonItemsQueryMessage) (*WonItemsMessage, error) {
	res, err := c.getUserWonItems.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, fromConnectError(err)
	}
	return res.Msg, nil
}

func (c *Client) ResetAuctionedFlag(ctx context.Context, lootItemID uuid.UUID, reason string) (*models.LootItem, error) {
	res, err := c.resetAuctionedFlag.CallUnary(ctx, connect.NewRequest(&ResetAuctionedFlagMessage{
		LootItemID: lootItemID.String(),
		Reason:     reason,
	}))
	if err != nil {
		return nil, fromConnectError(err)
	}
	return res.Msg.LootItem, nil
}

// fromConnectError restores ErrNotFound so callers can match it with errors.Is.
func fromConnectError(err error) error {
	if connect.CodeOf(err) == connect.CodeNotFound {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

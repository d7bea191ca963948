package auction

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/guildloot/go/internal/models"
)

// SelfOutbidPolicy decides whether the user already holding the high bid on
// an item may raise it again.
type SelfOutbidPolicy func(item *models.AuctionItem, userID uuid.UUID) bool

// PermitSelfOutbid lets the leader raise their own bid.
func PermitSelfOutbid(*models.AuctionItem, uuid.UUID) bool { return true }

// ForbidSelfOutbid rejects a bid from the current leader.
func ForbidSelfOutbid(item *models.AuctionItem, userID uuid.UUID) bool {
	return item.CurrentWinnerID == nil || *item.CurrentWinnerID != userID
}

// MinimumBid returns the smallest amount the item accepts right now. It
// saturates at math.MaxInt64.
func MinimumBid(item *models.AuctionItem, increment int64) int64 {
	min := item.MinBid
	if item.CurrentBid != nil {
		min = addCapped(*item.CurrentBid, increment)
	}
	if min < 1 {
		min = 1
	}
	return min
}

// addCapped returns a+b for b >= 0, clamped to math.MaxInt64.
func addCapped(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

// Expired reports whether the item's countdown has run out at now.
func Expired(item *models.AuctionItem, timerSeconds int, now time.Time) bool {
	if item.Status != models.AuctionItemStatusInAuction {
		return false
	}
	deadline := item.Deadline(timerSeconds)
	return deadline != nil && !now.Before(*deadline)
}

// ValidateBid is the single source of truth for whether a bid is legal at now.
// Rules apply in order: the item must be biddable, the amount must reach the
// minimum, and the self-outbid policy must allow the bidder.
func ValidateBid(a *models.Auction, item *models.AuctionItem, userID uuid.UUID, amount int64, now time.Time, selfOutbid SelfOutbidPolicy) error {
	if item == nil {
		return &ItemNotInAuctionError{}
	}
	if item.Status != models.AuctionItemStatusInAuction || a.Status != models.AuctionStatusActive {
		return &ItemNotInAuctionError{ItemID: item.ID, Status: item.Status}
	}
	if Expired(item, a.DefaultTimerSeconds, now) {
		return &ItemNotInAuctionError{ItemID: item.ID, Status: item.Status}
	}

	// A saturated item has no amount above its current bid.
	if min := MinimumBid(item, a.MinBidIncrement); amount < min || (item.CurrentBid != nil && amount <= *item.CurrentBid) {
		return &BidTooLowError{ItemID: item.ID, Amount: amount, Minimum: min}
	}

	if selfOutbid != nil && !selfOutbid(item, userID) {
		return &SelfOutbidError{ItemID: item.ID, UserID: userID}
	}
	return nil
}

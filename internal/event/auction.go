package event

import (
	"github.com/holiman/uint256"
)

// Auction commands. Triggers carry no payload beyond Meta — eligibility and
// settlement are entirely a function of controller state and the versioned
// timestamp.

type TriggerHop struct {
	Meta
}

func (c *TriggerHop) CommandType() CommandType { return CommandTypeTriggerHop }

type BidExpand struct {
	Meta
	SharesAmount *uint256.Int `json:"shares_amount"`
}

func (c *BidExpand) CommandType() CommandType { return CommandTypeBidExpand }

type TriggerBackstep struct {
	Meta
}

func (c *TriggerBackstep) CommandType() CommandType { return CommandTypeTriggerBackstep }

type BidContract struct {
	Meta
	TokensAmount *uint256.Int `json:"tokens_amount"`
}

func (c *BidContract) CommandType() CommandType { return CommandTypeBidContract }

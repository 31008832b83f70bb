package model

import "errors"

// 错误类型：每个操作失败时只中止当前操作，不改变任何状态
var (
	ErrValidation            = errors.New("validation error")
	ErrNotAuthorized         = errors.New("not authorized")
	ErrNotFound              = errors.New("not found")
	ErrCampaignNotInvestable = errors.New("campaign not investable")
	ErrSelfInvestment        = errors.New("owner cannot invest in own campaign")
	ErrBelowMinimum          = errors.New("amount below minimum investment")
	ErrLimitExceeded         = errors.New("investment limit exceeded")
	ErrVotingClosed          = errors.New("voting closed")
	ErrVotingNotEnded        = errors.New("voting not ended")
	ErrAlreadyExecuted       = errors.New("milestone already executed")
	ErrInsufficientEscrow    = errors.New("insufficient escrow balance")
	ErrInvalidRate           = errors.New("invalid fee rate")
)

// 组件级错误，归类到上面的错误类型
var (
	ErrInvalidAmount      = &kindError{msg: "invalid amount", kind: ErrValidation}
	ErrInvalidDuration    = &kindError{msg: "invalid voting duration", kind: ErrValidation}
	ErrNotInvestor        = &kindError{msg: "caller has no active investment", kind: ErrNotAuthorized}
	ErrInvestmentRefunded = &kindError{msg: "investment already refunded", kind: ErrValidation}
	ErrInvalidStatus      = &kindError{msg: "invalid status transition", kind: ErrValidation}
)

type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// Kind 返回错误对应的类型名称，未知错误（例如存储故障）返回 "Internal"
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRate):
		return "InvalidRate"
	case errors.Is(err, ErrBelowMinimum):
		return "BelowMinimum"
	case errors.Is(err, ErrLimitExceeded):
		return "LimitExceeded"
	case errors.Is(err, ErrSelfInvestment):
		return "SelfInvestment"
	case errors.Is(err, ErrCampaignNotInvestable):
		return "CampaignNotInvestable"
	case errors.Is(err, ErrVotingClosed):
		return "VotingClosed"
	case errors.Is(err, ErrVotingNotEnded):
		return "VotingNotEnded"
	case errors.Is(err, ErrAlreadyExecuted):
		return "AlreadyExecuted"
	case errors.Is(err, ErrInsufficientEscrow):
		return "InsufficientEscrow"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrNotAuthorized):
		return "NotAuthorized"
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	default:
		return "Internal"
	}
}

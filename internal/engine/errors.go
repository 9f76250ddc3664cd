package engine

import "errors"

// 下单被拒的原因集合。它们是业务结果而非异常：调用方拿到 rejected
// 状态的订单和对应的 sentinel error，可用 errors.Is 分类。
var (
	ErrInvalidOrder         = errors.New("invalid order")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientPosition = errors.New("insufficient position")
	ErrMaxPositionsReached  = errors.New("max positions reached")
	ErrRiskLimitExceeded    = errors.New("risk limit exceeded")
	ErrEmergencyStopActive  = errors.New("emergency stop active")
	ErrConfirmationRequired = errors.New("live trading confirmation required")
	ErrNotRunning           = errors.New("live trading not running")
	ErrOrderNotFound        = errors.New("order not found")
	ErrExchangeRejected     = errors.New("exchange rejected order")
)

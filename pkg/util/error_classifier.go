package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	amqp "github.com/rabbitmq/amqp091-go"

	"milestonefund/pkg/circuitbreaker"
)

// ErrorType 错误分类，用作日志字段和指标标签
const (
	ErrorTypeDecode     = "decode_error"
	ErrorTypeNotFound   = "not_found"
	ErrorTypeDuplicate  = "duplicate_key"
	ErrorTypeDB         = "db_error"
	ErrorTypeMQ         = "mq_error"
	ErrorTypeNetwork    = "network_error"
	ErrorTypeTimeout    = "timeout"
	ErrorTypeCanceled   = "context_canceled"
	ErrorTypeCircuit    = "circuit_open"
	ErrorTypeUnknown    = "unknown_error"
	pgUniqueViolation   = "23505"
	pgConnectionFailure = "08"
)

// IsRetryableError 判断错误是否值得重试，返回 (是否可重试, 错误类型)
func IsRetryableError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false, ErrorTypeDecode
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrorTypeNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgUniqueViolation {
			return false, ErrorTypeDuplicate
		}
		if strings.HasPrefix(pgErr.Code, pgConnectionFailure) {
			return true, ErrorTypeDB
		}
		return false, ErrorTypeDB
	}

	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		return amqpErr.Recover || amqpErr.Code == amqp.ChannelError || amqpErr.Code == amqp.ConnectionForced, ErrorTypeMQ
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true, ErrorTypeTimeout
	}
	if errors.Is(err, context.Canceled) {
		return false, ErrorTypeCanceled
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, ErrorTypeTimeout
		}
		return true, ErrorTypeNetwork
	}

	if errors.Is(err, circuitbreaker.ErrOpen) {
		return true, ErrorTypeCircuit
	}
	return false, ErrorTypeUnknown
}

// ShouldRetry 可重试且未超过最大次数
func ShouldRetry(retryCount, maxRetries int64, isRetryable bool) bool {
	if !isRetryable {
		return false
	}
	return retryCount <= maxRetries
}

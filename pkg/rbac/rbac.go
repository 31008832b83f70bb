package rbac

import (
	"errors"
	"slices"
	"strings"
)

// 权限常量
const (
	// 平台所有者权限
	PermissionSetFee       = "platform:set_fee"
	PermissionSetLimits    = "platform:set_limits"
	PermissionWithdrawFees = "platform:withdraw_fees"

	// 管理员权限
	PermissionPauseCampaign    = "campaign:pause"
	PermissionCancelCampaign   = "campaign:cancel"
	PermissionDeleteMilestone  = "milestone:delete"
	PermissionRefundInvestment = "investment:refund"
	PermissionReplayOutbox     = "admin:outbox_replay"
	PermissionReadAudit        = "audit:read"
)

// 角色常量
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
	RoleOwner = "owner"
)

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleUser: {},
	RoleAdmin: {
		PermissionPauseCampaign,
		PermissionCancelCampaign,
		PermissionDeleteMilestone,
		PermissionRefundInvestment,
		PermissionReplayOutbox,
		PermissionReadAudit,
	},
	RoleOwner: {
		PermissionSetFee,
		PermissionSetLimits,
		PermissionWithdrawFees,
		PermissionPauseCampaign,
		PermissionCancelCampaign,
		PermissionDeleteMilestone,
		PermissionRefundInvestment,
		PermissionReplayOutbox,
		PermissionReadAudit,
	},
}

var ErrPermissionDenied = errors.New("insufficient permissions")

// ResolveRole 根据身份和 token 中声明的角色确定最终角色
// 平台所有者只有一个账户：只有 ownerID 本人能拿到 owner 角色
func ResolveRole(subject, claimed, ownerID string) string {
	if ownerID != "" && subject == ownerID {
		return RoleOwner
	}
	switch strings.ToLower(strings.TrimSpace(claimed)) {
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleUser
	}
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role, permission string) bool {
	permissions, ok := rolePermissions[role]
	if !ok {
		return false
	}
	return slices.Contains(permissions, permission)
}

// CheckPermission 检查调用者是否有指定权限（返回错误而不是布尔值，便于处理）
func CheckPermission(subject, role, permission string) error {
	if strings.TrimSpace(subject) == "" || !HasPermission(role, permission) {
		return &PermissionDeniedError{
			Subject:    subject,
			Role:       role,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	Subject    string
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions: " + e.Permission
}

func (e *PermissionDeniedError) Unwrap() error {
	return ErrPermissionDenied
}

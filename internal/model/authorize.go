package model

import (
	"fmt"

	"milestonefund/pkg/rbac"
)

// Authorize 管理类操作的角色检查，失败时同时可以被 errors.Is(err, ErrNotAuthorized) 识别
func Authorize(actor Actor, permission string) error {
	if err := rbac.CheckPermission(actor.ID, actor.Role, permission); err != nil {
		return fmt.Errorf("%w: %w", ErrNotAuthorized, err)
	}
	return nil
}

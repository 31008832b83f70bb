package rbac

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveRole(t *testing.T) {
	tests := []struct {
		subject, claimed, owner, want string
	}{
		{"platform-owner", "", "platform-owner", RoleOwner},
		{"mallory", "owner", "platform-owner", RoleUser},
		{"ops", "ADMIN", "platform-owner", RoleAdmin},
		{"alice", "", "platform-owner", RoleUser},
		{"alice", "admin", "", RoleAdmin},
	}
	for _, tt := range tests {
		t.Run(tt.subject+"/"+tt.claimed, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveRole(tt.subject, tt.claimed, tt.owner))
		})
	}
}

func TestCheckPermission(t *testing.T) {
	assert.NoError(t, CheckPermission("platform-owner", RoleOwner, PermissionSetFee))
	assert.NoError(t, CheckPermission("ops", RoleAdmin, PermissionPauseCampaign))

	err := CheckPermission("ops", RoleAdmin, PermissionWithdrawFees)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	var denied *PermissionDeniedError
	if assert.True(t, errors.As(err, &denied)) {
		assert.Equal(t, PermissionWithdrawFees, denied.Permission)
	}

	assert.Error(t, CheckPermission("", RoleOwner, PermissionSetFee), "anonymous caller")
	assert.False(t, HasPermission("ghost", PermissionReadAudit))
}

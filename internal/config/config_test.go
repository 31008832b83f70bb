package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBase(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"), []byte(content), 0o600))
	return dir
}

func TestLoadFrom_Defaults(t *testing.T) {
	dir := writeBase(t, `
jwt:
  secret: dev
engine:
  platform:
    owner_id: treasury
    fee_basis_points: 250
`)
	cfg, err := LoadFrom("local", dir)
	require.NoError(t, err)

	assert.Equal(t, "treasury", cfg.Engine.Platform.OwnerID)
	assert.Equal(t, int64(250), cfg.Platform().FeeBasisPoints)
	assert.Equal(t, int64(1), cfg.Platform().MinimumInvestment)
	assert.Equal(t, int64(1000), cfg.Campaign().MinimumTargetAmount)
	assert.Equal(t, 365*24*time.Hour, cfg.Campaign().MaxDuration)

	gov := cfg.Governance()
	assert.Equal(t, int64(5100), gov.ApprovalBps)
	assert.Equal(t, int64(5100), gov.ParticipationBps)
	assert.Equal(t, time.Hour, gov.MinVotingDuration)
	assert.Equal(t, 20, gov.MaxMilestonesPerCampaign)
	assert.Equal(t, "events", cfg.MQ.Exchange)
	assert.Equal(t, 100, cfg.Outbox.BatchSize)
}

func TestLoadFrom_EnvOverride(t *testing.T) {
	dir := writeBase(t, `
jwt:
  secret: dev
engine:
  platform:
    owner_id: treasury
`)
	t.Setenv("PLATFORM_OWNER_ID", "founder-dao")
	t.Setenv("PLATFORM_FEE_BPS", "125")

	cfg, err := LoadFrom("local", dir)
	require.NoError(t, err)
	assert.Equal(t, "founder-dao", cfg.Engine.Platform.OwnerID)
	assert.Equal(t, int64(125), cfg.Engine.Platform.FeeBasisPoints)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"fee above cap", "jwt: {secret: x}\nengine: {platform: {fee_basis_points: 1001}}"},
		{"approval above 100%", "jwt: {secret: x}\nengine: {governance: {approval_threshold_bps: 10001}}"},
		{"negative participation", "jwt: {secret: x}\nengine: {governance: {participation_threshold_bps: -1}}"},
		{"voting bounds inverted", "jwt: {secret: x}\nengine: {governance: {min_voting_duration: 48h, max_voting_duration: 24h}}"},
		{"negative limit", "jwt: {secret: x}\nengine: {platform: {maximum_investment_per_campaign: -5}}"},
		{"missing jwt secret", "engine: {platform: {fee_basis_points: 100}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom("local", writeBase(t, tt.yaml))
			require.Error(t, err)
		})
	}
}

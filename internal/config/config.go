package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"milestonefund/internal/model"
	"milestonefund/internal/service/campaign"
	"milestonefund/internal/service/governor"
	"milestonefund/pkg/config"
	"milestonefund/pkg/otel"
)

type Config struct {
	DB     config.DBConfig     `yaml:"db"`
	MQ     config.MQConfig     `yaml:"mq"`
	Redis  config.RedisConfig  `yaml:"redis"`
	JWT    config.JWTConfig    `yaml:"jwt"`
	Server config.ServerConfig `yaml:"server"`
	Engine EngineConfig        `yaml:"engine"`
	Outbox OutboxConfig        `yaml:"outbox"`
	OTel   otel.Config         `yaml:"otel"`
}

type EngineConfig struct {
	Platform   PlatformConfig   `yaml:"platform"`
	Governance GovernanceConfig `yaml:"governance"`
}

// PlatformConfig 平台参数，限额为 0 表示不限制
type PlatformConfig struct {
	OwnerID                              string        `yaml:"owner_id"`
	FeeBasisPoints                       int64         `yaml:"fee_basis_points"`
	MinimumInvestment                    int64         `yaml:"minimum_investment"`
	MaximumInvestmentPerCampaign         int64         `yaml:"maximum_investment_per_campaign"`
	MaximumTotalInvestmentPerContributor int64         `yaml:"maximum_total_investment_per_contributor"`
	MinimumTargetAmount                  int64         `yaml:"minimum_target_amount"`
	MaxTitleLength                       int           `yaml:"max_title_length"`
	MaxDescriptionLength                 int           `yaml:"max_description_length"`
	MaxCampaignDuration                  time.Duration `yaml:"max_campaign_duration"`
	DefaultUnitPrice                     int64         `yaml:"default_unit_price"`
}

type GovernanceConfig struct {
	ApprovalThresholdBps      int64         `yaml:"approval_threshold_bps"`
	ParticipationThresholdBps int64         `yaml:"participation_threshold_bps"`
	MinVotingDuration         time.Duration `yaml:"min_voting_duration"`
	MaxVotingDuration         time.Duration `yaml:"max_voting_duration"`
	MaxMilestonesPerCampaign  int           `yaml:"max_milestones_per_campaign"`
}

// OutboxConfig outbox 分发器参数
type OutboxConfig struct {
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
}

// Load 按 CONFIG_ENV / CONFIG_DIR 加载配置，补全默认值并校验
func Load() (*Config, error) {
	return LoadFrom(config.GetConfigEnv(), config.GetConfigDir())
}

func LoadFrom(env, dir string) (*Config, error) {
	var cfg Config
	if err := config.Decode(env, dir, &cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	if owner := os.Getenv("PLATFORM_OWNER_ID"); owner != "" {
		cfg.Engine.Platform.OwnerID = owner
	}
	if bps := os.Getenv("PLATFORM_FEE_BPS"); bps != "" {
		if n, err := strconv.ParseInt(bps, 10, 64); err == nil {
			cfg.Engine.Platform.FeeBasisPoints = n
		}
	}

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.OTel.Endpoint = endpoint
		cfg.OTel.Enabled = true
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	p := &c.Engine.Platform
	if p.MinimumInvestment == 0 {
		p.MinimumInvestment = 1
	}
	if p.MinimumTargetAmount == 0 {
		p.MinimumTargetAmount = 1000
	}
	if p.MaxTitleLength == 0 {
		p.MaxTitleLength = 200
	}
	if p.MaxDescriptionLength == 0 {
		p.MaxDescriptionLength = 5000
	}
	if p.MaxCampaignDuration == 0 {
		p.MaxCampaignDuration = 365 * 24 * time.Hour
	}
	if p.DefaultUnitPrice == 0 {
		p.DefaultUnitPrice = 1
	}

	g := &c.Engine.Governance
	if g.ApprovalThresholdBps == 0 {
		g.ApprovalThresholdBps = 5100
	}
	if g.ParticipationThresholdBps == 0 {
		g.ParticipationThresholdBps = 5100
	}
	if g.MinVotingDuration == 0 {
		g.MinVotingDuration = time.Hour
	}
	if g.MaxVotingDuration == 0 {
		g.MaxVotingDuration = 30 * 24 * time.Hour
	}
	if g.MaxMilestonesPerCampaign == 0 {
		g.MaxMilestonesPerCampaign = 20
	}

	if c.Outbox.Interval == 0 {
		c.Outbox.Interval = 2 * time.Second
	}
	if c.Outbox.BatchSize == 0 {
		c.Outbox.BatchSize = 100
	}
	if c.Outbox.MaxRetries == 0 {
		c.Outbox.MaxRetries = 5
	}
	if c.MQ.Exchange == "" {
		c.MQ.Exchange = "events"
	}
	if c.MQ.Queue == "" {
		c.MQ.Queue = "audit.events"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.OTel.ServiceName == "" {
		c.OTel.ServiceName = "milestonefund"
	}
	if c.JWT.TTL == 0 {
		c.JWT.TTL = 24 * time.Hour
	}
}

// Validate 配置错误时拒绝启动
func (c *Config) Validate() error {
	var errs []error
	p := c.Engine.Platform
	g := c.Engine.Governance

	if p.FeeBasisPoints < 0 || p.FeeBasisPoints > model.MaxFeeBasisPoints {
		errs = append(errs, fmt.Errorf("engine.platform.fee_basis_points %d not within [0, %d]", p.FeeBasisPoints, model.MaxFeeBasisPoints))
	}
	if p.MinimumInvestment < 0 || p.MaximumInvestmentPerCampaign < 0 || p.MaximumTotalInvestmentPerContributor < 0 {
		errs = append(errs, errors.New("engine.platform investment limits must not be negative"))
	}
	if p.MinimumTargetAmount <= 0 {
		errs = append(errs, errors.New("engine.platform.minimum_target_amount must be positive"))
	}
	if p.DefaultUnitPrice <= 0 {
		errs = append(errs, errors.New("engine.platform.default_unit_price must be positive"))
	}
	for name, bps := range map[string]int64{
		"approval_threshold_bps":      g.ApprovalThresholdBps,
		"participation_threshold_bps": g.ParticipationThresholdBps,
	} {
		if bps <= 0 || bps > 10000 {
			errs = append(errs, fmt.Errorf("engine.governance.%s %d not within (0, 10000]", name, bps))
		}
	}
	if g.MinVotingDuration <= 0 || g.MinVotingDuration >= g.MaxVotingDuration {
		errs = append(errs, fmt.Errorf("engine.governance voting duration bounds [%s, %s] are invalid", g.MinVotingDuration, g.MaxVotingDuration))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	return errors.Join(errs...)
}

func (c *Config) Platform() model.PlatformConfig {
	p := c.Engine.Platform
	return model.PlatformConfig{
		FeeBasisPoints:                       p.FeeBasisPoints,
		MinimumInvestment:                    p.MinimumInvestment,
		MaximumInvestmentPerCampaign:         p.MaximumInvestmentPerCampaign,
		MaximumTotalInvestmentPerContributor: p.MaximumTotalInvestmentPerContributor,
	}
}

func (c *Config) Campaign() campaign.Config {
	p := c.Engine.Platform
	return campaign.Config{
		MinimumTargetAmount:  p.MinimumTargetAmount,
		MaxTitleLength:       p.MaxTitleLength,
		MaxDescriptionLength: p.MaxDescriptionLength,
		MaxDuration:          p.MaxCampaignDuration,
		DefaultUnitPrice:     p.DefaultUnitPrice,
	}
}

func (c *Config) Governance() governor.Config {
	g := c.Engine.Governance
	return governor.Config{
		Thresholds: governor.Thresholds{
			ApprovalBps:      g.ApprovalThresholdBps,
			ParticipationBps: g.ParticipationThresholdBps,
		},
		MinVotingDuration:        g.MinVotingDuration,
		MaxVotingDuration:        g.MaxVotingDuration,
		MaxMilestonesPerCampaign: g.MaxMilestonesPerCampaign,
	}
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFeatureFlags_Defaults(t *testing.T) {
	ff := LoadFeatureFlags()

	assert.True(t, ff.IsEnabled(FeatureEnforcementVerifiedToast, nil))
	assert.False(t, ff.IsEnabled(FeatureTelegramWebhookOverride, nil))
	assert.True(t, ff.IsEnabled(FeatureCommandWorkerWakeSignal, nil))
}

func TestFeatureFlags_AdminBypassesRollout(t *testing.T) {
	ff := LoadFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureCommandWorkerWakeSignal, 0))

	assert.False(t, ff.IsEnabled(FeatureCommandWorkerWakeSignal, &FeatureContext{BotInstanceID: 1}))
	assert.True(t, ff.IsEnabled(FeatureCommandWorkerWakeSignal, &FeatureContext{BotInstanceID: 1, IsAdmin: true}))
}

func TestFeatureFlags_RolloutIsConsistentPerBot(t *testing.T) {
	ff := LoadFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureStrictLeaveDetection, 50))

	ctx := &FeatureContext{BotInstanceID: 42}
	first := ff.IsEnabled(FeatureStrictLeaveDetection, ctx)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ff.IsEnabled(FeatureStrictLeaveDetection, ctx))
	}
}

func TestFeatureFlags_BotOverrideWins(t *testing.T) {
	ff := LoadFeatureFlags()
	ff.SetBotOverride(7, FeatureEnforcementVerifiedToast, false)

	assert.False(t, ff.IsEnabled(FeatureEnforcementVerifiedToast, &FeatureContext{BotInstanceID: 7}))
	assert.True(t, ff.IsEnabled(FeatureEnforcementVerifiedToast, &FeatureContext{BotInstanceID: 8}))

	ff.ClearBotOverrides(7)
	assert.True(t, ff.IsEnabled(FeatureEnforcementVerifiedToast, &FeatureContext{BotInstanceID: 7}))
}

func TestFeatureFlags_SetRolloutPercent_RejectsUnknownFeature(t *testing.T) {
	ff := LoadFeatureFlags()
	err := ff.SetRolloutPercent("nonexistent.flag", 50)
	assert.ErrorIs(t, err, ErrFeatureNotFound)
}

func TestFeatureFlags_SetRolloutPercent_RejectsOutOfRange(t *testing.T) {
	ff := LoadFeatureFlags()
	err := ff.SetRolloutPercent(FeatureEnforcementVerifiedToast, 150)
	assert.ErrorIs(t, err, ErrInvalidRolloutPercent)
}

func TestFeatureFlags_EnvOverrideAsBoolean(t *testing.T) {
	t.Setenv("FEATURE_ENFORCEMENT_VERIFIED_TOAST", "false")
	ff := LoadFeatureFlags()
	assert.False(t, ff.IsEnabled(FeatureEnforcementVerifiedToast, nil))
}

func TestFeatureFlags_EnvOverrideAsPercent(t *testing.T) {
	t.Setenv("FEATURE_STRICT_LEAVE_DETECTION", "25")
	ff := LoadFeatureFlags()
	all := ff.GetAllFeatures()
	assert.Equal(t, 25, all[FeatureStrictLeaveDetection].RolloutPercent)
}

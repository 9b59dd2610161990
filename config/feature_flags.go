package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags manages feature toggles for ambient, non-core behavior.
// Core enforcement logic (verification, muting, command processing) is
// never gated behind a flag - only cosmetic and operational toggles are.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for testing/debugging), keyed by bot instance id.
	botOverrides map[int64]map[string]bool
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// RolloutPercent is 0-100; bot instances are assigned a bucket based
	// on a consistent hash of their id, so a bot doesn't flap in and out
	// of a rollout as the percentage changes.
	RolloutPercent int

	EnabledFrom  *time.Time
	EnabledUntil *time.Time

	Variants []string
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	BotInstanceID int64
	IsAdmin       bool
}

// Predefined feature flag names. Each comment below describes the
// behaviour a flag is named for; no component outside this package
// evaluates these flags, so switching one does not change that behaviour.
const (
	// FeatureEnforcementVerifiedToast controls whether a verified user
	// gets a brief confirmation message, or the verification happens
	// silently (spec's enforcement flow itself is never optional).
	FeatureEnforcementVerifiedToast = "enforcement.verified_toast"

	// FeatureTelegramWebhookOverride allows a specific bot to run in
	// webhook mode even when the process-wide default is polling, ahead
	// of a full per-bot config surface.
	FeatureTelegramWebhookOverride = "telegram.use_webhook_override"

	// FeatureCommandWorkerWakeSignal toggles the dashboard-sent wake
	// channel (spec §4.7); disabling it falls back to poll-only timing,
	// useful when diagnosing a suspected wake-channel bug.
	FeatureCommandWorkerWakeSignal = "commandworker.wake_signal"

	// FeatureStrictLeaveDetection toggles eager re-verification on
	// channel chat_member updates (spec §4.6's reverse-index sweep).
	// Disabling it falls back to catching a leave on the member's next
	// message in a protected group.
	FeatureStrictLeaveDetection = "enforcement.strict_leave_detection"

	// FeatureVerboseAPICallLogging controls whether successful (not just
	// failed) Telegram API calls are recorded to api_call_log.
	FeatureVerboseAPICallLogging = "observability.verbose_api_call_logging"
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:     make(map[string]*Feature),
		botOverrides: make(map[int64]map[string]bool),
	}

	ff.initializeDefaults()
	ff.loadFromEnvironment()

	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureEnforcementVerifiedToast] = &Feature{
		Name:           FeatureEnforcementVerifiedToast,
		Description:    "Send a brief confirmation message when a user passes verification",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureTelegramWebhookOverride] = &Feature{
		Name:           FeatureTelegramWebhookOverride,
		Description:    "Allow a bot to run in webhook mode regardless of the process default",
		Enabled:        false,
		RolloutPercent: 0,
	}

	ff.features[FeatureCommandWorkerWakeSignal] = &Feature{
		Name:           FeatureCommandWorkerWakeSignal,
		Description:    "Wake the command worker immediately on a dashboard-sent signal",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureStrictLeaveDetection] = &Feature{
		Name:           FeatureStrictLeaveDetection,
		Description:    "Eagerly re-verify members on channel chat_member updates",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureVerboseAPICallLogging] = &Feature{
		Name:           FeatureVerboseAPICallLogging,
		Description:    "Record successful Telegram API calls, not just failures",
		Enabled:        false,
		RolloutPercent: 0,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_ENFORCEMENT_VERIFIED_TOAST=false
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		envKey := featureNameToEnvKey(name)
		val := os.Getenv(envKey)
		if val == "" {
			continue
		}

		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
			continue
		}

		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureNameToEnvKey converts a feature name to its env var key.
// "enforcement.verified_toast" -> "FEATURE_ENFORCEMENT_VERIFIED_TOAST"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if ctx != nil && ctx.BotInstanceID != 0 {
		if overrides, ok := ff.botOverrides[ctx.BotInstanceID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

	if ctx != nil && ctx.IsAdmin {
		return true
	}

	if !feature.Enabled {
		return false
	}

	now := time.Now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}

	if feature.RolloutPercent < 100 && ctx != nil && ctx.BotInstanceID != 0 {
		return ff.isInRollout(ctx.BotInstanceID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout determines if a bot instance is in the rollout percentage,
// using a consistent hash so a given bot stays in its bucket.
func (ff *FeatureFlags) isInRollout(botInstanceID int64, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(strconv.FormatInt(botInstanceID, 10)))
	hash := h.Sum32()

	bucket := int(hash % 100)
	return bucket < percent
}

// GetVariant returns the A/B test variant for a bot instance.
func (ff *FeatureFlags) GetVariant(featureName string, ctx *FeatureContext) string {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	if !ok || !ff.IsEnabled(featureName, ctx) {
		return ""
	}

	if len(feature.Variants) == 0 {
		return ""
	}

	h := fnv.New32a()
	h.Write([]byte(featureName + "_variant"))
	h.Write([]byte(strconv.FormatInt(ctx.BotInstanceID, 10)))
	hash := h.Sum32()

	variantIndex := int(hash % uint32(len(feature.Variants)))
	return feature.Variants[variantIndex]
}

// SetBotOverride sets a feature override for a specific bot instance.
func (ff *FeatureFlags) SetBotOverride(botInstanceID int64, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.botOverrides[botInstanceID]; !ok {
		ff.botOverrides[botInstanceID] = make(map[string]bool)
	}
	ff.botOverrides[botInstanceID][featureName] = enabled
}

// ClearBotOverrides removes all overrides for a bot instance.
func (ff *FeatureFlags) ClearBotOverrides(botInstanceID int64) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.botOverrides, botInstanceID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}

	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0

	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for k, v := range ff.features {
		featureCopy := *v
		result[k] = &featureCopy
	}
	return result
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}

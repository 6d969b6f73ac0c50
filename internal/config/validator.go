package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
)

// ValidationError is one bad config value.
type ValidationError struct {
	Field   string // dotted key, e.g. "alliance.daily_limit"
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is every problem Validate found.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return ""
	case 1:
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err)
	}
	return sb.String()
}

func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// checker accumulates failures so Validate can report all of them at once.
type checker struct {
	errs []ValidationError
}

func (c *checker) require(ok bool, field string, value any, msg string) {
	if !ok {
		c.errs = append(c.errs, ValidationError{Field: field, Value: value, Message: msg})
	}
}

func (c *checker) nonNegative(field string, value int) {
	c.require(value >= 0, field, value, "must be non-negative")
}

func (c *checker) probability(field string, value float64) {
	c.require(value >= 0 && value <= 1, field, value, "must be between 0 and 1")
}

// maxRoundBudget keeps a single debate from running for many minutes.
const maxRoundBudget = 50

// Validate returns every invalid value in c, in section order.
func (c *Config) Validate() []ValidationError {
	var v checker

	b := c.Backend
	u, err := url.Parse(b.BaseURL)
	switch {
	case b.BaseURL == "" || err != nil || u.Scheme == "" || u.Host == "":
		v.require(false, "backend.base_url", b.BaseURL, "must be an absolute URL with scheme and host")
	default:
		v.require(u.Scheme == "http" || u.Scheme == "https", "backend.base_url", b.BaseURL, "scheme must be http or https")
	}
	v.require(strings.HasPrefix(b.ChatPath, "/"), "backend.chat_path", b.ChatPath, "must start with /")
	v.require(strings.HasPrefix(b.PrivatePath, "/"), "backend.private_path", b.PrivatePath, "must start with /")
	v.require(strings.HasPrefix(b.CoordinatorPath, "/"), "backend.coordinator_path", b.CoordinatorPath, "must start with /")
	v.require(b.TimeoutSeconds > 0, "backend.timeout_seconds", b.TimeoutSeconds, "must be positive")
	v.require(b.RequestsPerSecond >= 0, "backend.requests_per_second", b.RequestsPerSecond, "must be non-negative (0 = unlimited)")
	// Burst only matters when throttling is on.
	v.require(b.RequestsPerSecond <= 0 || b.Burst >= 1, "backend.burst", b.Burst, "must be at least 1 when requests_per_second is set")

	v.require(c.Pacing.Scale >= 0, "pacing.scale", c.Pacing.Scale, "must be non-negative (0 = no pacing)")
	v.nonNegative("pacing.reading_pause_ms", c.Pacing.ReadingPauseMs)

	d := c.Debate
	v.require(d.RoundBudget >= 1, "debate.round_budget", d.RoundBudget, "must be at least 1")
	v.require(d.RoundBudget <= maxRoundBudget, "debate.round_budget", d.RoundBudget, fmt.Sprintf("exceeds maximum of %d", maxRoundBudget))
	v.nonNegative("debate.inter_round_pause_ms", d.InterRoundPauseMs)

	a := c.Alliance
	v.nonNegative("alliance.daily_limit", a.DailyLimit)
	v.nonNegative("alliance.same_persona_cooldown_minutes", a.SamePersonaCooldownMinutes)
	v.nonNegative("alliance.global_cooldown_minutes", a.GlobalCooldownMinutes)
	v.nonNegative("alliance.delivery_delay_min_seconds", a.DeliveryDelayMinSeconds)
	v.nonNegative("alliance.delivery_delay_max_seconds", a.DeliveryDelayMaxSeconds)
	v.require(a.DeliveryDelayMinSeconds <= a.DeliveryDelayMaxSeconds, "alliance.delivery_delay_min_seconds", a.DeliveryDelayMinSeconds,
		fmt.Sprintf("must not exceed delivery_delay_max_seconds (%d)", a.DeliveryDelayMaxSeconds))
	v.probability("alliance.post_debate_probability", a.PostDebateProbability)
	v.probability("alliance.harsh_probability", a.HarshProbability)
	v.probability("alliance.random_probability", a.RandomProbability)

	v.require(strings.TrimSpace(c.Server.Addr) != "", "server.addr", c.Server.Addr, "cannot be empty")
	v.nonNegative("server.shutdown_timeout_seconds", c.Server.ShutdownTimeoutSeconds)

	l := c.Logging
	v.require(l.Level == "" || slices.Contains(ValidLogLevels(), strings.ToLower(l.Level)), "logging.level", l.Level,
		"must be one of: "+strings.Join(ValidLogLevels(), ", "))
	if l.Dir != "" {
		info, err := os.Stat(l.Dir)
		v.require(err != nil || info.IsDir(), "logging.dir", l.Dir, "exists but is not a directory")
	}

	return v.errs
}

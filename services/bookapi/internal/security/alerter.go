// Package security counts repeated security events per client and reports
// when a client crosses an alert threshold.
package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultAlertPrefix = "bookshelf:alerts"
	alertTimeout       = 2 * time.Second
)

var alertCounterScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// AlertResult is the outcome of observing one event.
type AlertResult struct {
	Triggered bool
	Count     int64
	Threshold int64
	Window    time.Duration
}

// Rule is a threshold over a window.
type Rule struct {
	Threshold int64
	Window    time.Duration
}

// RuleFor returns the alert rule for an event/outcome pair. Success outcomes never alert.
func RuleFor(event, outcome string) (Rule, bool) {
	switch strings.TrimSpace(outcome) {
	case "rate_limited":
		return Rule{Threshold: 20, Window: time.Minute}, true
	case "fail", "deny":
	default:
		return Rule{}, false
	}
	switch strings.TrimSpace(event) {
	case "auth.login":
		return Rule{Threshold: 10, Window: 5 * time.Minute}, true
	case "auth.logout":
		return Rule{Threshold: 15, Window: 5 * time.Minute}, true
	case "auth.authenticate", "book.authorize":
		return Rule{Threshold: 25, Window: 5 * time.Minute}, true
	default:
		return Rule{}, false
	}
}

// AuditAlerter keeps per-client event counters in Redis fixed windows.
type AuditAlerter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewAuditAlerter builds a Redis-backed alerter.
func NewAuditAlerter(addr, password, prefix string) (*AuditAlerter, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis address required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultAlertPrefix
	}
	return &AuditAlerter{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		prefix: prefix,
		now:    time.Now,
	}, nil
}

// Observe records the event for ip and reports whether its rule fired.
// Events without a rule are not counted.
func (a *AuditAlerter) Observe(ctx context.Context, event, outcome, ip string) (AlertResult, error) {
	rule, ok := RuleFor(event, outcome)
	if !ok {
		return AlertResult{}, nil
	}
	windowMs := rule.Window.Milliseconds()
	slot := a.now().UTC().UnixMilli() / windowMs
	key := fmt.Sprintf("%s:%s:%s:%s:%d", a.prefix, sanitizeSegment(event), sanitizeSegment(outcome), sanitizeSegment(ip), slot)

	ctx, cancel := context.WithTimeout(ctx, alertTimeout)
	defer cancel()
	count, err := alertCounterScript.Run(ctx, a.client, []string{key}, windowMs).Int64()
	if err != nil {
		return AlertResult{}, fmt.Errorf("observe %s: %w", event, err)
	}
	return AlertResult{
		Triggered: count >= rule.Threshold,
		Count:     count,
		Threshold: rule.Threshold,
		Window:    rule.Window,
	}, nil
}

// Close releases the Redis connection pool.
func (a *AuditAlerter) Close() error {
	return a.client.Close()
}

var segmentReplacer = strings.NewReplacer(":", "_", "|", "_", " ", "_")

func sanitizeSegment(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	return segmentReplacer.Replace(in)
}

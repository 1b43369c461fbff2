package interact

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/studioforge/genrunner/internal/clock"
)

// Menu is a secondary selection container on the remote surface, such as
// the variant picker that appears once a result is ready.
type Menu interface {
	Open(ctx context.Context) error
	Options(ctx context.Context) ([]string, error)
	Choose(ctx context.Context, option string) error
}

// MenuConfig bounds the short population poll after a menu is opened. This
// is a fixed, small wait, not the completion detector.
type MenuConfig struct {
	PollInterval time.Duration
	Timeout      time.Duration
	Clock        clock.Clock
}

func (c MenuConfig) withDefaults() MenuConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
	return c
}

// SelectPreferred opens the menu, waits briefly for its options to
// populate, and chooses the first option matching the ranked preference
// list. Preferences are matched case-insensitively as substrings; when the
// top preference is absent the next one is tried.
func (r *Resolver) SelectPreferred(ctx context.Context, menu Menu, preferences []string, cfg MenuConfig) (string, error) {
	cfg = cfg.withDefaults()

	if err := menu.Open(ctx); err != nil {
		return "", fmt.Errorf("failed to open menu: %w", err)
	}

	options, err := r.waitForOptions(ctx, menu, cfg)
	if err != nil {
		return "", err
	}

	r.logger.Debug("Menu populated",
		slog.Int("option_count", len(options)),
	)

	for _, pref := range preferences {
		for _, opt := range options {
			if !strings.Contains(strings.ToLower(opt), strings.ToLower(pref)) {
				continue
			}
			if err := menu.Choose(ctx, opt); err != nil {
				r.logger.Warn("Failed to choose menu option, trying next preference",
					slog.String("option", opt),
					slog.String("error", err.Error()),
				)
				continue
			}
			return opt, nil
		}
	}

	return "", fmt.Errorf("no menu option matched preferences %v (options: %v)", preferences, options)
}

// waitForOptions polls until the menu reports at least one option or the
// bounded wait expires.
func (r *Resolver) waitForOptions(ctx context.Context, menu Menu, cfg MenuConfig) ([]string, error) {
	deadline := cfg.Clock.Now().Add(cfg.Timeout)

	for {
		options, err := menu.Options(ctx)
		if err != nil {
			r.logger.Warn("Failed to read menu options",
				slog.String("error", err.Error()),
			)
		} else if len(options) > 0 {
			return options, nil
		}

		if !cfg.Clock.Now().Before(deadline) {
			return nil, fmt.Errorf("menu did not populate within %s", cfg.Timeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-cfg.Clock.After(cfg.PollInterval):
		}
	}
}

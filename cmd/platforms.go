package cmd

import (
	"fmt"
	"log/slog"

	"github.com/jacklau/reposcout/internal/bitbucket"
	"github.com/jacklau/reposcout/internal/config"
	"github.com/jacklau/reposcout/internal/github"
	"github.com/jacklau/reposcout/internal/gitlab"
	"github.com/jacklau/reposcout/internal/governor"
	"github.com/jacklau/reposcout/internal/metrics"
	"github.com/jacklau/reposcout/internal/model"
	"github.com/jacklau/reposcout/internal/platform"
	"github.com/jacklau/reposcout/internal/pubsub"
	"github.com/jacklau/reposcout/internal/retry"
)

// platformFactory builds the raw client for one platform. A nil client with
// a nil error means the platform is disabled.
type platformFactory func(cfg *config.Config) (platform.Client, error)

// registry is the static set of supported platforms.
var registry = map[model.Platform]platformFactory{
	model.GitHub: func(cfg *config.Config) (platform.Client, error) {
		gh := cfg.Platforms.GitHub
		if !gh.GitHubEnabled() {
			return nil, nil
		}
		ghCfg := github.Config{BaseURL: gh.BaseURL}
		if gh.Auth == "app" {
			ghCfg.AppID = gh.AppID
			ghCfg.InstallationID = gh.InstallationID
			ghCfg.PrivateKey = gh.PrivateKey
			ghCfg.PrivateKeyPath = gh.PrivateKeyPath
		} else {
			ghCfg.Token = gh.Token
		}
		client, err := github.New(ghCfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	},
	model.GitLab: func(cfg *config.Config) (platform.Client, error) {
		gl := cfg.Platforms.GitLab
		if !gl.Enabled {
			return nil, nil
		}
		client, err := gitlab.New(gitlab.Config{Token: gl.Token, BaseURL: gl.BaseURL}, nil)
		if err != nil {
			return nil, err
		}
		return client, nil
	},
	model.Bitbucket: func(cfg *config.Config) (platform.Client, error) {
		bb := cfg.Platforms.Bitbucket
		if !bb.Enabled {
			return nil, nil
		}
		return bitbucket.New(bitbucket.Config{
			Username:    bb.Username,
			AppPassword: bb.AppPassword,
			BaseURL:     bb.BaseURL,
		}, nil), nil
	},
}

// buildPlatforms creates every enabled platform client and wraps each in
// its own governor.
func buildPlatforms(cfg *config.Config, m *metrics.Metrics, b *pubsub.Broker[governor.CircuitEvent], logger *slog.Logger) ([]platform.Client, []*governor.Governor, error) {
	gcfg, err := governorConfig(cfg.Governor)
	if err != nil {
		return nil, nil, err
	}

	var clients []platform.Client
	var governors []*governor.Governor
	for _, p := range model.AllPlatforms {
		client, err := registry[p](cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("creating %s client: %w", p, err)
		}
		if client == nil {
			logger.Debug("platform disabled", "platform", string(p))
			continue
		}
		g := governor.New(client, gcfg,
			governor.WithLogger(logger),
			governor.WithMetrics(m),
			governor.WithBroker(b))
		clients = append(clients, g)
		governors = append(governors, g)
	}
	if len(clients) == 0 {
		return nil, nil, fmt.Errorf("no platforms enabled")
	}
	return clients, governors, nil
}

func governorConfig(g config.GovernorConfig) (governor.Config, error) {
	base, err := g.BaseDelay()
	if err != nil {
		return governor.Config{}, fmt.Errorf("parsing base_delay: %w", err)
	}
	maxDelay, err := g.MaxDelay()
	if err != nil {
		return governor.Config{}, fmt.Errorf("parsing max_delay: %w", err)
	}
	coolDown, err := g.CoolDown()
	if err != nil {
		return governor.Config{}, fmt.Errorf("parsing cool_down: %w", err)
	}
	return governor.Config{
		RequestsPerSecond: g.RequestsPerSecond,
		Burst:             g.Burst,
		Retry: retry.Policy{
			MaxAttempts: g.MaxAttempts,
			BaseDelay:   base,
			MaxDelay:    maxDelay,
		},
		FailureThreshold: g.FailureThreshold,
		CoolDown:         coolDown,
	}, nil
}

func parsePlatforms(names []string) ([]model.Platform, error) {
	out := make([]model.Platform, 0, len(names))
	for _, n := range names {
		p, err := model.ParsePlatform(n)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

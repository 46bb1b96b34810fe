// Package pokerctl is the terminal client: it creates and joins sessions and runs a
// live session view against the planning poker API.
package pokerctl

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mcdev12/planningpoker/go/clients"
	"github.com/mcdev12/planningpoker/go/internal/changefeed"
	"github.com/mcdev12/planningpoker/go/internal/estimation"
	"github.com/mcdev12/planningpoker/go/internal/identitycache"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Identity cache backends selectable with --cache.
const (
	cacheFile  = "file"
	cacheRedis = "redis"
)

// Change feeds selectable with --feed.
const (
	feedWebSocket = "websocket"
	feedNATS      = "nats"
)

type options struct {
	server      string
	feed        string
	feedURL     string
	natsURL     string
	cache       string
	cachePath   string
	redisURL    string
	redisPrefix string
	logLevel    string
	timeout     time.Duration
}

// NewRootCmd builds the pokerctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "pokerctl",
		Short:         "Planning poker from the terminal",
		Long:          `Create and join planning poker sessions, vote and reveal estimates together in real time.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := zerolog.ParseLevel(opts.logLevel)
			if err != nil {
				return fmt.Errorf("invalid log level: %w", err)
			}
			zerolog.SetGlobalLevel(level)
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr("POKER_SERVER", "http://localhost:8080"), "API base URL")
	flags.StringVar(&opts.feed, "feed", envOr("POKER_FEED", feedWebSocket), "live update source: websocket (via the gateway) or nats (JetStream directly)")
	flags.StringVar(&opts.feedURL, "feed-url", os.Getenv("POKER_FEED_URL"), "gateway base URL for live updates (defaults to --server)")
	flags.StringVar(&opts.natsURL, "nats-url", envOr("NATS_URL", nats.DefaultURL), "NATS URL for --feed=nats")
	flags.StringVar(&opts.cache, "cache", envOr("POKER_IDENTITY_CACHE", cacheFile), "identity cache backend: file or redis")
	flags.StringVar(&opts.cachePath, "cache-path", "", "identity cache file (defaults to the user config dir)")
	flags.StringVar(&opts.redisURL, "redis-url", envOr("REDIS_URL", "redis://localhost:6379/0"), "Redis URL for --cache=redis")
	flags.StringVar(&opts.redisPrefix, "redis-prefix", envOr("USER", "pokerctl")+":", "key prefix for --cache=redis")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	flags.DurationVar(&opts.timeout, "timeout", 15*time.Second, "API request timeout")

	root.AddCommand(
		newCreateCmd(opts),
		newJoinCmd(opts),
		newLeaveCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

// Execute runs the CLI with the process arguments.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (o *options) client() *clients.PokerClient {
	c := clients.NewPokerClient(o.server)
	c.SetTimeout(o.timeout)
	c.SetHeader("User-Agent", "pokerctl")
	return c
}

func (o *options) feedBaseURL() string {
	if o.feedURL != "" {
		return o.feedURL
	}
	return o.server
}

// subscriber opens the configured change feed. The returned close func is never nil.
func (o *options) subscriber(userName string) (estimation.Subscriber, func(), error) {
	switch o.feed {
	case feedWebSocket:
		return changefeed.NewWebSocketSubscriber(o.feedBaseURL(), userName), func() {}, nil
	case feedNATS:
		cfg := changefeed.DefaultJetStreamConfig()
		cfg.URL = o.natsURL
		nc, js, err := changefeed.Connect(cfg)
		if err != nil {
			return nil, nil, err
		}
		return changefeed.NewJetStreamSubscriber(js, cfg), func() { nc.Drain() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown feed %q, want %s or %s", o.feed, feedWebSocket, feedNATS)
	}
}

// identityCache opens the configured backend. The returned close func is never nil.
func (o *options) identityCache() (estimation.IdentityCache, func(), error) {
	switch o.cache {
	case cacheFile:
		path := o.cachePath
		if path == "" {
			p, err := identitycache.DefaultPath()
			if err != nil {
				return nil, nil, err
			}
			path = p
		}
		return identitycache.NewFileCache(path, nil), func() {}, nil
	case cacheRedis:
		c, err := identitycache.NewRedisCache(o.redisURL, o.redisPrefix, nil)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown identity cache %q, want %s or %s", o.cache, cacheFile, cacheRedis)
	}
}

// displayName returns name, or the last name used on this machine when name is empty.
func displayName(ctx context.Context, cache estimation.IdentityCache, name string) (string, error) {
	if name == "" {
		last, err := cache.LastUsedName(ctx)
		if err != nil {
			return "", err
		}
		name = last
	}
	if name == "" {
		return "", fmt.Errorf("%w: pass --as", estimation.ErrInvalidName)
	}
	return estimation.NormalizeName(name)
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/openclob/polymirror/internal/blob/s3"
	"github.com/openclob/polymirror/internal/bus"
	"github.com/openclob/polymirror/internal/cache"
	"github.com/openclob/polymirror/internal/config"
	"github.com/openclob/polymirror/internal/copytrading"
	"github.com/openclob/polymirror/internal/crypto"
	"github.com/openclob/polymirror/internal/domain"
	"github.com/openclob/polymirror/internal/notify"
	"github.com/openclob/polymirror/internal/platform/polymarket"
	"github.com/openclob/polymirror/internal/ratelimit"
	"github.com/openclob/polymirror/internal/store/sqlite"
	"github.com/openclob/polymirror/internal/strategy"
)

// Dependencies bundles everything the application needs to run. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	DB *sqlite.Client

	// Stores
	Credentials  domain.CredentialsStore
	TrackedUsers domain.TrackedUserStore
	CopySettings domain.CopySettingsStore
	CopyTrades   domain.CopyTradeStore
	Strategies   domain.StrategyStore
	Events       domain.StrategyEventStore
	Positions    domain.PositionStore
	Trades       domain.TradeStore

	// Shared infrastructure
	Bus         *bus.Bus
	Limiter     *ratelimit.Limiter
	MarketCache *cache.MarketCache

	// Venue clients
	Clob   *polymarket.ClobClient
	Data   *polymarket.DataClient
	Gamma  *polymarket.GammaClient
	Search *polymarket.SearchClient
	Feed   *polymarket.Feed

	// Domain services
	Watcher  *copytrading.Watcher
	Executor *copytrading.Executor
	Engine   *strategy.Engine

	// Optional extras
	Archiver      *s3blob.Archiver
	ArchiveReader *s3blob.Reader
	Notify        *notify.Bridge
}

// Wire constructs all concrete dependencies from the configuration. The
// returned cleanup releases resources in reverse construction order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// Embedded store.
	db, err := sqlite.Open(ctx, cfg.Database.Path)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: sqlite: %w", err)
	}
	closers = append(closers, func() { _ = db.Close() })

	deps.DB = db
	deps.Credentials = sqlite.NewCredentialsStore(db)
	deps.TrackedUsers = sqlite.NewTrackedUserStore(db)
	deps.CopySettings = sqlite.NewCopySettingsStore(db)
	deps.CopyTrades = sqlite.NewCopyTradeStore(db)
	deps.Strategies = sqlite.NewStrategyStore(db)
	deps.Events = sqlite.NewStrategyEventStore(db)
	deps.Positions = sqlite.NewPositionStore(db)
	deps.Trades = sqlite.NewTradeStore(db)

	// Shared infrastructure.
	deps.Bus = bus.New(logger)
	deps.Limiter = ratelimit.New(logger)
	deps.MarketCache = cache.NewMarketCache(logger)

	// Optional boot-time key material. When an encrypted key file is
	// configured it overrides whatever private key is stored.
	bootKey := ""
	if cfg.Wallet.EncryptedKeyPath != "" {
		bootKey, err = crypto.LoadKey(crypto.KeyConfig{
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet key: %w", err)
		}
	}

	credsProvider := func() domain.Credentials {
		creds, err := deps.Credentials.Get(context.Background())
		if err != nil {
			logger.Error("credentials lookup failed", slog.String("error", err.Error()))
			return domain.Credentials{}
		}
		if bootKey != "" {
			creds.PrivateKey = bootKey
		}
		return creds
	}

	// Venue clients.
	deps.Clob = polymarket.NewClobClient(cfg.Polymarket.ClobHost, deps.Limiter, credsProvider, logger)
	deps.Data = polymarket.NewDataClient(cfg.Polymarket.DataHost, deps.Limiter, logger)
	deps.Gamma = polymarket.NewGammaClient(cfg.Polymarket.GammaHost, deps.Limiter, deps.MarketCache, logger)
	deps.Search = polymarket.NewSearchClient(cfg.Polymarket.SearchHost, deps.Limiter, logger)
	deps.Feed = polymarket.NewFeed(cfg.Polymarket.WsURL, deps.Bus, logger)

	// Domain services.
	deps.Watcher = copytrading.NewWatcher(deps.TrackedUsers, deps.Data, deps.Bus, logger)
	deps.Executor = copytrading.NewExecutor(
		deps.CopySettings, deps.CopyTrades, deps.Credentials,
		deps.Clob, deps.Gamma, deps.Bus, cfg.Polymarket.ChainID, logger,
	)
	deps.Engine = strategy.NewEngine(
		deps.Strategies, deps.Events, deps.Positions, deps.Trades, deps.Credentials,
		deps.Gamma, deps.Clob, deps.Feed, deps.Bus, cfg.Polymarket.ChainID, logger,
	)

	// Optional S3 archiver.
	if cfg.Archive.Enabled() {
		s3Client, err := s3blob.New(ctx, s3blob.Config{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(
			s3Client,
			deps.CopyTrades,
			deps.Events,
			time.Duration(cfg.Archive.RetentionDays)*24*time.Hour,
			time.Duration(cfg.Archive.IntervalHours)*time.Hour,
			logger,
		)
		deps.ArchiveReader = s3blob.NewReader(s3Client)
	}

	// Optional notifications.
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhook))
	}
	if len(senders) > 0 {
		notifier := notify.NewNotifier(senders, cfg.Notify.Events, logger)
		deps.Notify = notify.NewBridge(notifier, deps.Bus, logger)
	}

	return deps, cleanup, nil
}

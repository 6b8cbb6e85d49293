// main package for the tts-service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-proxy/internal/config"
	"github.com/book-expert/tts-proxy/internal/core"
	"github.com/book-expert/tts-proxy/internal/inference"
	"github.com/book-expert/tts-proxy/internal/mediaurl"
	"github.com/book-expert/tts-proxy/internal/models"
	"github.com/book-expert/tts-proxy/internal/objectstore"
	"github.com/book-expert/tts-proxy/internal/provider"
	"github.com/book-expert/tts-proxy/internal/retry"
	"github.com/book-expert/tts-proxy/internal/service"
	"github.com/book-expert/tts-proxy/internal/session"
	"github.com/book-expert/tts-proxy/internal/worker"
	"github.com/nats-io/nats.go"
)

const (
	bootstrapLogFile = "tts-service-bootstrap.log"
	serviceLogFile   = "tts-service.log"
	clientName       = "tts-service"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

// authenticator picks the credential strategy. The token strategy never
// talks to the login endpoint.
func authenticator(cfg *config.Config, client *provider.Client) core.Authenticator {
	if cfg.Auth.Strategy == config.AuthStrategyToken {
		return session.StaticToken{Token: cfg.Auth.Token}
	}

	return client
}

// handleTimeout covers the longest operation: a status poll that waits for
// the job to finish, plus one provider round trip.
func handleTimeout(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Polling.MaxAttempts)*cfg.Polling.Interval() + cfg.Provider.Timeout()
}

func buildService(
	cfg *config.Config,
	natsConnection *nats.Conn,
	jetstreamContext nats.JetStreamContext,
	log *logger.Logger,
) (*service.Service, *session.Store, error) {
	credentialStore, err := objectstore.NewKeyValue(jetstreamContext, cfg.NATS.CredentialBucket)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open credential bucket: %w", err)
	}

	audioStore, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open audio bucket: %w", err)
	}

	client := provider.NewClient(
		cfg.Provider.BaseURL,
		cfg.Provider.Timeout(),
		cfg.Provider.RequestsPerSecond,
		cfg.Provider.Burst,
	)

	sessions := session.New(authenticator(cfg, client), credentialStore, log)
	policy := retry.Policy{Attempts: cfg.Retry.Attempts, Delay: cfg.Retry.Delay()}

	svc := service.New(service.Dependencies{
		Sessions: sessions,
		Resolver: models.NewResolver(client, models.Options{
			DefaultTerm: cfg.Models.DefaultSearchTerm,
			TTL:         cfg.Models.CacheTTL(),
			MaxEntries:  cfg.Models.CacheMaxEntries,
		}, log),
		Submitter: inference.NewSubmitter(client, sessions, policy, log),
		Poller: inference.NewPoller(
			client,
			sessions,
			mediaurl.New(cfg.Provider.CDNOrigin, cfg.Provider.LegacyStorageOrigin),
			cfg.Polling.EscalateAfter,
			log,
		),
		Fetcher:           client,
		Archive:           audioStore,
		Publisher:         natsConnection,
		AudioReadySubject: cfg.NATS.AudioReadySubject,
		PollInterval:      cfg.Polling.Interval(),
		PollMaxAttempts:   cfg.Polling.MaxAttempts,
		Log:               log,
	})

	return svc, sessions, nil
}

// preauthenticate establishes the session at startup for the token strategy
// and for password logins configured in the file.
func preauthenticate(ctx context.Context, cfg *config.Config, sessions *session.Store, log *logger.Logger) {
	if cfg.Auth.Strategy == config.AuthStrategyPassword && (cfg.Auth.Username == "" || cfg.Auth.Password == "") {
		log.Info("No login configured; waiting for an authenticate request.")

		return
	}

	cred, err := sessions.Credential(ctx)
	if err == nil && storedCredentialMatches(cfg, cred) {
		log.Info("Reusing stored session.")

		return
	}

	_, err = sessions.Authenticate(ctx, cfg.Auth.Username, cfg.Auth.Password)
	if err != nil {
		log.Warn("Startup authentication failed: %v", err)
	}
}

// storedCredentialMatches reports whether a credential left in the store can
// serve the configured strategy. A token deployment only reuses its own token.
func storedCredentialMatches(cfg *config.Config, cred core.Credential) bool {
	if cfg.Auth.Strategy != config.AuthStrategyToken {
		return true
	}

	return cred.Kind == core.CredentialBearer && cred.Value == cfg.Auth.Token
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	// 4. Connect to NATS and JetStream
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name(clientName))
	if err != nil {
		finalLog.Error("Failed to connect to NATS at %s: %v", cfg.NATS.URL, err)

		return fmt.Errorf("failed to connect to nats: %w", err)
	}

	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create jetstream context: %w", err)
	}

	// 5. Wire the service
	svc, sessions, err := buildService(cfg, natsConnection, jetstreamContext, finalLog)
	if err != nil {
		finalLog.Error("Failed to build service: %v", err)

		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	preauthenticate(ctx, cfg, sessions, finalLog)

	// 6. Serve until a shutdown signal arrives
	natsWorker := worker.NewNatsWorker(natsConnection, cfg.NATS.RPCSubjectPrefix, svc, handleTimeout(cfg), finalLog)

	finalLog.System("TTS proxy initialized. Serving requests under %s.*", cfg.NATS.RPCSubjectPrefix)

	err = natsWorker.Run(ctx)
	if err != nil {
		finalLog.Error("Worker stopped with error: %v", err)

		return fmt.Errorf("worker failed: %w", err)
	}

	finalLog.System("TTS proxy shut down cleanly.")

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"mariadb-cdc/internal/catalog"
	"mariadb-cdc/internal/config"
	natspub "mariadb-cdc/internal/nats"
	"mariadb-cdc/internal/processor"
	redispub "mariadb-cdc/internal/redis"
	"mariadb-cdc/internal/replication"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetLevel(logrus.InfoLevel)

	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid config: %v", err)
	}
	if err := processor.ValidateRules(&cfg.Processor); err != nil {
		logger.Fatalf("Invalid processor config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}

	logger.Info("Starting MariaDB CDC service...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cancel, cfg, logger); err != nil {
		logger.Errorf("CDC service failed: %v", err)
		cancel()
		os.Exit(1)
	}
	logger.Info("MariaDB CDC service stopped")
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, logger *logrus.Logger) error {
	checker := NewMySQLChecker(cfg.MySQL.Host, cfg.MySQL.Port, cfg.MySQL.User, cfg.MySQL.Password, logger)
	if err := checker.CheckConnectionAndPermissions(ctx); err != nil {
		return fmt.Errorf("preflight check failed: %w", err)
	}

	cat, err := catalog.Open(ctx, cfg.MySQL.Host, cfg.MySQL.Port, cfg.MySQL.User, cfg.MySQL.Password, cfg.MySQL.Database)
	if err != nil {
		return err
	}
	defer cat.Close()

	publisher, transformer, closePublishers, err := buildSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePublishers()

	transport, err := replication.Dial(cfg.MySQL.Host, cfg.MySQL.Port, cfg.MySQL.User, cfg.MySQL.Password)
	if err != nil {
		return err
	}
	defer transport.Close()

	var positions replication.PositionStore
	if cfg.Binlog.PositionFile != "" {
		positions = replication.NewFilePositionStore(cfg.Binlog.PositionFile, logger)
	}

	hostname := cfg.Replica.Hostname
	if hostname == "" {
		hostname, _ = os.Hostname()
	}
	session, err := replication.NewSession(replication.Config{
		ServerID:         cfg.Replica.ServerID,
		Hostname:         hostname,
		User:             cfg.Replica.User,
		Password:         cfg.Replica.Password,
		Port:             cfg.Replica.Port,
		Position:         mysql.Position{Name: cfg.Binlog.Filename, Pos: cfg.Binlog.Position},
		SkipUntil:        cfg.Binlog.SkipUntil,
		LogPackets:       cfg.Binlog.LogPackets,
		HeartbeatPeriod:  cfg.Binlog.HeartbeatPeriod,
		AnnounceChecksum: cfg.Binlog.AnnounceChecksum,
		BufferSize:       cfg.Binlog.BufferSize,
	}, transport, cat, positions, logger)
	if err != nil {
		return err
	}

	proc := processor.NewProcessor(session, publisher, transformer, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sessionErr := make(chan error, 1)
	go func() {
		sessionErr <- session.Run(ctx)
	}()
	procErr := make(chan error, 1)
	go func() {
		procErr <- proc.Start(ctx)
	}()

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Infof("Received signal: %v, shutting down...", sig)
	case runErr = <-procErr:
	}
	cancel()
	if err := <-sessionErr; err != nil && runErr == nil {
		runErr = err
	}
	logger.Infof("Last binlog position: %s:%d", session.Position().Name, session.Position().Pos)
	return runErr
}

// buildSink connects the configured publishers and the transformer
func buildSink(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (processor.Publisher, *processor.Transformer, func(), error) {
	var (
		publishers processor.MultiPublisher
		closers    []func()
		natsPub    *natspub.Publisher
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	for _, name := range cfg.Sink.Publishers {
		switch name {
		case "nats":
			p, err := natspub.NewPublisher(cfg.NATS.URL, cfg.NATS.Subject, cfg.NATS.MaxReconnect, cfg.NATS.ReconnectWait, logger)
			if err != nil {
				closeAll()
				return nil, nil, nil, err
			}
			natsPub = p
			publishers = append(publishers, p)
			closers = append(closers, p.Close)
		case "redis":
			p, err := redispub.NewPublisher(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Stream, cfg.Redis.MaxLen, logger)
			if err != nil {
				closeAll()
				return nil, nil, nil, err
			}
			publishers = append(publishers, p)
			closers = append(closers, func() { p.Close() })
		case "stdout":
			publishers = append(publishers, processor.NewWriterPublisher(os.Stdout))
		}
	}

	var transformer *processor.Transformer
	if cfg.Processor.Enabled {
		var (
			conn *nats.Conn
			err  error
		)
		if natsPub != nil {
			conn = natsPub.Conn()
		}
		if transformer, err = processor.NewTransformer(&cfg.Processor, logger, conn); err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("failed to create transformer: %w", err)
		}
	}

	if len(publishers) == 1 {
		return publishers[0], transformer, closeAll, nil
	}
	return publishers, transformer, closeAll, nil
}

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bsm/cstore"
	"github.com/bsm/cstore/s3file"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp()
	defer func() { _ = a.logger.Sync() }()

	if err := a.root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	root    *cobra.Command
	v       *viper.Viper
	logger  *zap.Logger
	reg     *prometheus.Registry
	metrics *cstore.Metrics

	// newS3 creates the S3 client for remote tables.
	newS3 func(ctx context.Context, region string) (s3file.API, error)
}

func newApp() *app {
	a := &app{
		v:       viper.New(),
		logger:  zap.NewNop(),
		reg:     prometheus.NewRegistry(),
		metrics: cstore.NewMetrics("cli"),
		newS3: func(ctx context.Context, region string) (s3file.API, error) {
			return s3file.NewClient(ctx, region)
		},
	}
	_ = a.metrics.Register(a.reg)

	a.v.SetEnvPrefix("CSTORE")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	a.root = &cobra.Command{
		Use:   "cstore",
		Short: "Inspect and maintain columnar table files",
		Long: `cstore loads, scans and inspects tables stored as a data file and a
footer file. Options may also be set in a config file or as CSTORE_*
environment variables, e.g. CSTORE_COMPRESSION=lz4.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	pf := a.root.PersistentFlags()
	pf.String("config", "", "Path to a config file (yaml, toml or json)")
	pf.String("log-level", "warn", "Log level (debug, info, warn, error)")
	pf.String("encryption-key", "", "Hex encoded 32-byte key for enc_lz4 tables")
	pf.String("region", "", "AWS region for s3:// tables")

	a.root.AddCommand(
		a.createCmd(),
		a.loadCmd(),
		a.scanCmd(),
		a.footerCmd(),
		a.sizeCmd(),
		a.dropCmd(),
		a.uploadCmd(),
	)
	return a
}

// setup binds the flags of the executed command, reads the config file and
// builds the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := a.v.BindPFlags(cmd.InheritedFlags()); err != nil {
		return err
	}

	if path := a.v.GetString("config"); path != "" {
		a.v.SetConfigFile(path)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	logger, err := newLogger(a.v.GetString("log-level"))
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func (a *app) encryptionKey() ([]byte, error) {
	s := a.v.GetString("encryption-key")
	if s == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}
	return key, nil
}

func (a *app) readerOptions() (*cstore.ReaderOptions, error) {
	key, err := a.encryptionKey()
	if err != nil {
		return nil, err
	}
	return &cstore.ReaderOptions{
		EncryptionKey: key,
		Logger:        a.logger,
		Metrics:       a.metrics,
	}, nil
}

func (a *app) schema() (cstore.Schema, error) {
	return parseSchema(a.v.GetString("schema"))
}

// logMetrics logs the value of every collected counter.
func (a *app) logMetrics() {
	families, err := a.reg.Gather()
	if err != nil {
		a.logger.Warn("could not gather metrics", zap.Error(err))
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil && c.GetValue() != 0 {
				a.logger.Info("metric", zap.String("name", mf.GetName()), zap.Float64("value", c.GetValue()))
			}
		}
	}
}

package flags

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cloq-dev/cloq/api"
	"github.com/cloq-dev/cloq/common"
	"github.com/cloq-dev/cloq/cryptoutils"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *api.HTTPServerConfig {
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	maxArtifactSize := cCtx.Int64(MaxArtifactSizeFlag.Name)
	if maxArtifactSize <= 0 {
		maxArtifactSize = api.DefaultMaxArtifactSize
	}

	return &api.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              10 * time.Minute,
		WriteTimeout:             10 * time.Minute,
		MaxArtifactSize:          maxArtifactSize,
	}
}

// Passphrase reads the key file passphrase from the environment variable
// named by --passphrase-env. It returns nil when the flag is unset.
func Passphrase(cCtx *cli.Context) ([]byte, error) {
	envName := cCtx.String(PassphraseEnvFlag.Name)
	if envName == "" {
		return nil, nil
	}
	value, ok := os.LookupEnv(envName)
	if !ok || value == "" {
		return nil, fmt.Errorf("passphrase environment variable %s is not set", envName)
	}
	return []byte(value), nil
}

// LoadPrivkey reads a recipient private key file, decrypting it with the
// passphrase from --passphrase-env when it is protected.
func LoadPrivkey(cCtx *cli.Context, path string) (cryptoutils.RecipientPrivkey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	passphrase, err := Passphrase(cCtx)
	if err != nil {
		return nil, err
	}
	key, err := cryptoutils.LoadPrivkey(data, passphrase)
	if errors.Is(err, cryptoutils.ErrPassphraseRequired) {
		return nil, fmt.Errorf("%w: set --%s", err, PassphraseEnvFlag.Name)
	}
	return key, err
}

var ControlPlaneURLFlag = &cli.StringFlag{
	Name:    "control-plane",
	Value:   "http://127.0.0.1:8080",
	Usage:   "control plane base URL",
	EnvVars: []string{"CLOQ_CONTROL_PLANE"},
}

var PassphraseEnvFlag = &cli.StringFlag{
	Name:  "passphrase-env",
	Usage: "name of the environment variable holding the private key passphrase",
}

var MaxArtifactSizeFlag = &cli.Int64Flag{
	Name:  "max-artifact-size",
	Value: api.DefaultMaxArtifactSize,
	Usage: "largest envelope in bytes accepted on upload",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var LogFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}

// Package flags holds the flag definitions and helpers shared by the cmd
// entrypoints.
package flags

import (
	"log/slog"

	utilcli "github.com/flashbots/go-utils/cli"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/sidestore/anisette/common"
	"github.com/sidestore/anisette/discovery"
)

// SetupLogger builds the process logger from the common logging flags.
func SetupLogger(cCtx *cli.Context) *slog.Logger {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool(LogDebugFlag.Name),
		JSON:    cCtx.Bool(LogJsonFlag.Name),
		Service: cCtx.String(LogServiceFlag.Name),
		Version: common.Version,
	})

	if cCtx.Bool(LogUidFlag.Name) {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

var ServersFlag = &cli.StringSliceFlag{
	Name:    "server",
	Usage:   "anisette server address, highest priority first (repeatable)",
	EnvVars: []string{"ANISETTE_SERVERS"},
}

var CatalogFlag = &cli.StringFlag{
	Name:  "catalog",
	Value: discovery.DefaultCatalogURL,
	Usage: "server catalog URL; 'off' disables the catalog",
}

var SrvDomainFlag = &cli.StringFlag{
	Name:  "srv-domain",
	Usage: "expand candidates from DNS SRV records of this domain",
}

var SrvResolverFlag = &cli.StringFlag{
	Name:  "srv-resolver",
	Usage: "DNS resolver address for SRV expansion (default: local stub resolver)",
}

var StoreFlag = &cli.StringFlag{
	Name:    "store",
	Usage:   "identity store URI: file://, vault://, s3:// or mem:// (default: file under the user config dir)",
	EnvVars: []string{"ANISETTE_STORE"},
}

var StorePassphraseFlag = &cli.StringFlag{
	Name:    "store-passphrase",
	Usage:   "seal the file-backed identity store at rest with this passphrase",
	EnvVars: []string{"ANISETTE_STORE_PASSPHRASE"},
}

var TrustFlag = &cli.BoolFlag{
	Name:  "trust",
	Value: false,
	Usage: "trust outdated (V1) servers without prompting",
}

var TimeoutSecondsFlag = &cli.Int64Flag{
	Name:  "timeout-seconds",
	Value: int64(utilcli.GetEnvInt("ANISETTE_TIMEOUT_SEC", 90)),
	Usage: "overall deadline for one acquisition",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages, including protocol traces",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: "anisette",
	Usage: "add 'service' tag to logs",
}

var CommonFlags = []cli.Flag{
	ServersFlag,
	CatalogFlag,
	SrvDomainFlag,
	SrvResolverFlag,
	StoreFlag,
	StorePassphraseFlag,
	TimeoutSecondsFlag,
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
}

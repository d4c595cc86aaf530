// Command anisette acquires anisette data from community anisette servers.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/sidestore/anisette"
	"github.com/sidestore/anisette/cmd/flags"
	"github.com/sidestore/anisette/common"
	"github.com/sidestore/anisette/discovery"
	"github.com/sidestore/anisette/provision"
	"github.com/sidestore/anisette/store"
)

func main() {
	app := &cli.App{
		Name:    "anisette",
		Usage:   "Acquire anisette data from community anisette servers",
		Version: common.Version,
		Flags:   flags.CommonFlags,
		Commands: []*cli.Command{
			{
				Name:   "acquire",
				Usage:  "Fetch a fresh anisette bundle and print it as JSON",
				Flags:  []cli.Flag{flags.TrustFlag},
				Action: runAcquire,
			},
			{
				Name:   "provision",
				Usage:  "Discard the stored adi_pb blob and run a fresh provisioning handshake",
				Flags:  []cli.Flag{flags.TrustFlag},
				Action: runProvision,
			},
			{
				Name:   "servers",
				Usage:  "List and probe the candidate servers",
				Action: runServers,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		title, detail := anisette.Describe(err)
		fmt.Fprintf(os.Stderr, "%s: %s\n", title, detail)
		os.Exit(1)
	}
}

func runAcquire(cCtx *cli.Context) error {
	ctx, cancel := signalContext(cCtx)
	defer cancel()

	logger := flags.SetupLogger(cCtx)
	engine, err := buildEngine(ctx, cCtx, logger)
	if err != nil {
		return err
	}

	rec, err := engine.Acquire(ctx)
	if err != nil {
		return err
	}
	return printJSON(rec)
}

func runProvision(cCtx *cli.Context) error {
	ctx, cancel := signalContext(cCtx)
	defer cancel()

	logger := flags.SetupLogger(cCtx)
	st, err := buildStore(cCtx, logger)
	if err != nil {
		return err
	}
	if err := st.ClearADIBlob(ctx); err != nil {
		return err
	}

	engine, err := buildEngineWithStore(ctx, cCtx, st, logger)
	if err != nil {
		return err
	}

	// Acquire provisions on the way because the blob is gone.
	rec, err := engine.Acquire(ctx)
	if err != nil {
		return err
	}
	logger.Info("Provisioning complete")
	return printJSON(rec)
}

func runServers(cCtx *cli.Context) error {
	ctx, cancel := signalContext(cCtx)
	defer cancel()

	logger := flags.SetupLogger(cCtx)
	st, err := buildStore(cCtx, logger)
	if err != nil {
		return err
	}

	candidates := buildCandidates(ctx, cCtx, logger)
	if len(candidates) == 0 {
		return anisette.ErrNoServerAvailable
	}

	selector := discovery.NewSelector(st, logger)
	for _, candidate := range candidates {
		status := "ok"
		if _, err := selector.Select(ctx, []string{candidate}); err != nil {
			status = "unreachable"
		}
		fmt.Printf("%-12s %s\n", status, candidate)
	}
	return nil
}

func buildEngine(ctx context.Context, cCtx *cli.Context, logger *slog.Logger) (*anisette.Engine, error) {
	st, err := buildStore(cCtx, logger)
	if err != nil {
		return nil, err
	}
	return buildEngineWithStore(ctx, cCtx, st, logger)
}

func buildEngineWithStore(ctx context.Context, cCtx *cli.Context, st store.IdentityStore, logger *slog.Logger) (*anisette.Engine, error) {
	var consent anisette.ConsentFunc
	if cCtx.Bool(flags.TrustFlag.Name) {
		consent = func(ctx context.Context, server string) (bool, error) { return true, nil }
	} else {
		consent = promptConsent
	}

	return anisette.NewEngine(&anisette.Config{
		Candidates:  buildCandidates(ctx, cCtx, logger),
		Store:       st,
		Selector:    discovery.NewSelector(st, logger),
		Provisioner: provision.NewService(st, logger),
		Consent:     consent,
		Log:         logger,
	})
}

func buildStore(cCtx *cli.Context, logger *slog.Logger) (store.IdentityStore, error) {
	uri := cCtx.String(flags.StoreFlag.Name)
	if uri == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("could not determine config dir, pass --store: %w", err)
		}
		uri = "file://" + filepath.Join(configDir, "anisette", "identity.json")
	}

	factory := store.NewFactory(logger)
	factory.FilePassphrase = cCtx.String(flags.StorePassphraseFlag.Name)
	return factory.StoreFor(uri)
}

func buildCandidates(ctx context.Context, cCtx *cli.Context, logger *slog.Logger) []string {
	candidates := cCtx.StringSlice(flags.ServersFlag.Name)

	if domain := cCtx.String(flags.SrvDomainFlag.Name); domain != "" {
		srvAddrs, err := discovery.ResolveSRV(domain, cCtx.String(flags.SrvResolverFlag.Name), logger)
		if err != nil {
			logger.Warn("SRV expansion failed", "err", err)
		} else {
			candidates = append(candidates, srvAddrs...)
		}
	}

	if catalogURL := cCtx.String(flags.CatalogFlag.Name); catalogURL != "off" {
		catalog := discovery.NewCatalog(catalogURL, logger)
		candidates = catalog.Addresses(ctx, candidates)
	}
	return candidates
}

// promptConsent implements the outdated-server warning on the terminal.
func promptConsent(ctx context.Context, server string) (bool, error) {
	host := server
	if u, err := url.Parse(server); err == nil && u.Host != "" {
		host = u.Host
	}
	fmt.Fprintf(os.Stderr,
		"WARNING: %s is an outdated anisette server. Using it has a higher likelihood of locking your account. Continue? [y/N] ", host)

	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

func signalContext(cCtx *cli.Context) (context.Context, context.CancelFunc) {
	timeout := time.Duration(cCtx.Int64(flags.TimeoutSecondsFlag.Name)) * time.Second
	ctx, cancel := context.WithTimeout(cCtx.Context, timeout)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	return ctx, func() {
		stop()
		cancel()
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

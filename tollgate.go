package tollgate

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lightninglabs/tollgate/auth"
	"github.com/lightninglabs/tollgate/challenger"
	"github.com/lightninglabs/tollgate/mint"
	"github.com/lightninglabs/tollgate/proxy"
	"github.com/lightninglabs/tollgate/secrets"
	"github.com/lightningnetwork/lnd/build"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Main is the true entrypoint of tollgate.
func Main() {
	err := start(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// start sets up the paywall server and runs it. This function blocks until a
// shutdown signal is received.
func start(args []string) error {
	// First, parse configuration file and set up logging.
	cfg, err := loadConfig(configPath(args))
	if err != nil {
		return fmt.Errorf("unable to parse config file: %v", err)
	}
	err = setupLogging(cfg)
	if err != nil {
		return fmt.Errorf("unable to set up logging: %v", err)
	}

	// Open the ledger that tracks the balance of every minted credential.
	store, err := secrets.NewStore(cfg.DBFile)
	if err != nil {
		return fmt.Errorf("unable to open ledger %s: %v", cfg.DBFile,
			err)
	}

	// Connect to lnd and build the challenger on top of the connection.
	client, err := connectLnd(cfg.Lnd)
	if err != nil {
		return fmt.Errorf("unable to connect to lnd: %v", err)
	}
	netParams, err := chainParams(cfg.Lnd.Network)
	if err != nil {
		return err
	}
	chal, err := challenger.NewLndChallenger(
		client, challenger.DefaultInvoiceRequest, context.Background,
		nil,
	)
	if err != nil {
		return err
	}

	// Query the node once up front, this verifies the connection actually
	// works before we start serving.
	info, err := chal.GetInfo(context.Background())
	if err != nil {
		return fmt.Errorf("unable to query lnd: %v", err)
	}
	log.Infof("Connected to lnd node %v on %s", info.IdentityPubkey,
		cfg.Lnd.Network)

	// From here on the challenger keeps its invoice cache warm through
	// the subscription stream.
	chal.Start()

	minter := mint.New(&mint.Config{
		Challenger: chal,
		Ledger:     store,
		Location:   cfg.MintLocation,
		Now:        time.Now,
	})
	authenticator := auth.NewLsatAuthenticator(minter, chal)
	servicesProxy, err := proxy.New(
		authenticator, chal, cfg.Backends, netParams,
		cfg.UpstreamTimeout,
	)
	if err != nil {
		return err
	}

	if err := StartPrometheusExporter(cfg.Prometheus); err != nil {
		return fmt.Errorf("unable to start prometheus exporter: %v",
			err)
	}

	// Normally, HTTP/2 only works with TLS. But there is a special version
	// called HTTP/2 Cleartext (h2c) that some clients support and that
	// gRPC uses when the grpc.WithInsecure() option is used. The default
	// HTTP handler doesn't support it though so we need to add a special
	// h2c handler here.
	handler := http.HandlerFunc(servicesProxy.ServeHTTP)
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}

	// The serve call below blocks until shut down or an error occurs. So
	// we can just defer a cleanup function here that will close everything
	// on shutdown.
	defer cleanup(server, chal, store)

	log.Infof("Starting the server, listening on %s.", cfg.ListenAddr)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.ListenAndServe()
	}()

	interruptChan := make(chan os.Signal, 1)
	signal.Notify(interruptChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err

	case sig := <-interruptChan:
		log.Infof("Received %v, shutting down", sig)
		return nil
	}
}

// setupLogging parses the debug level and initializes the log file rotator.
func setupLogging(cfg *Config) error {
	if cfg.DebugLevel == "" {
		cfg.DebugLevel = defaultLogLevel
	}

	// Now initialize the logger and set the log level.
	logFile := filepath.Join(tollgateDataDir, defaultLogFilename)
	err := logWriter.InitLogRotator(
		logFile, defaultMaxLogFileSize, defaultMaxLogFiles,
	)
	if err != nil {
		return err
	}
	return build.ParseAndSetDebugLevels(cfg.DebugLevel, logWriter)
}

// cleanup closes the server, the challenger and the ledger and shuts down the
// log rotator.
func cleanup(server *http.Server, chal *challenger.LndChallenger,
	store *secrets.Store) {

	if err := server.Close(); err != nil {
		log.Errorf("Error closing server: %v", err)
	}
	chal.Stop()
	if err := store.Close(); err != nil {
		log.Errorf("Error closing ledger: %v", err)
	}
	log.Info("Shutdown complete")
	err := logWriter.Close()
	if err != nil {
		log.Errorf("Could not close log rotator: %v", err)
	}
}

package tollgate

import (
	"github.com/btcsuite/btclog"
	"github.com/lightninglabs/lndclient"
	"github.com/lightninglabs/tollgate/auth"
	"github.com/lightninglabs/tollgate/challenger"
	"github.com/lightninglabs/tollgate/lsat"
	"github.com/lightninglabs/tollgate/mint"
	"github.com/lightninglabs/tollgate/proxy"
	"github.com/lightninglabs/tollgate/secrets"
	"github.com/lightningnetwork/lnd/build"
)

const Subsystem = "TOLL"

var (
	logWriter = build.NewRotatingLogWriter()

	log = build.NewSubLogger(Subsystem, genSubLogger(logWriter))
)

// genSubLogger creates a sub logger with an empty shutdown function.
func genSubLogger(logWriter *build.RotatingLogWriter) func(string) btclog.Logger {
	return func(s string) btclog.Logger {
		return logWriter.GenSubLogger(s, func() {})
	}
}

func init() {
	setSubLogger(Subsystem, log, nil)
	addSubLogger(auth.Subsystem, auth.UseLogger)
	addSubLogger(challenger.Subsystem, challenger.UseLogger)
	addSubLogger(lsat.Subsystem, lsat.UseLogger)
	addSubLogger(mint.Subsystem, mint.UseLogger)
	addSubLogger(proxy.Subsystem, proxy.UseLogger)
	addSubLogger(secrets.Subsystem, secrets.UseLogger)
	addSubLogger("LNDC", lndclient.UseLogger)
}

// addSubLogger is a helper method to conveniently create and register the
// logger of a sub system.
func addSubLogger(subsystem string, useLogger func(btclog.Logger)) {
	logger := build.NewSubLogger(subsystem, genSubLogger(logWriter))
	setSubLogger(subsystem, logger, useLogger)
}

// setSubLogger is a helper method to conveniently register the logger of a sub
// system.
func setSubLogger(subsystem string, logger btclog.Logger,
	useLogger func(btclog.Logger)) {

	logWriter.RegisterSubLogger(subsystem, logger)
	if useLogger != nil {
		useLogger(logger)
	}
}

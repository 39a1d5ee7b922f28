package tollgate

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/lnrpc"
)

const (
	// invoiceMacaroonName is the name of the read-only macaroon belonging
	// to the target lnd node.
	invoiceMacaroonName = "invoice.macaroon"
)

// connectLnd dials the configured lnd node and returns the raw RPC client the
// challenger is built on.
func connectLnd(cfg *LndConfig) (lnrpc.LightningClient, error) {
	client, err := lndclient.NewBasicClient(
		cfg.Host, cfg.TLSPath, cfg.MacDir, cfg.Network,
		lndclient.MacFilename(invoiceMacaroonName),
	)
	if err != nil {
		return nil, err
	}

	return client, nil
}

// chainParams parses the network name to get the correct parameters.
func chainParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, fmt.Errorf("unsupported network: %s", network)
	}
}

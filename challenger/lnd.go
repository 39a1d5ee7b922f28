package challenger

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lntypes"
)

const (
	// InvoiceMemo is the memo every challenge invoice carries.
	InvoiceMemo = "LSAT payment"

	// InvoiceExpiry is the expiry of a challenge invoice in seconds.
	InvoiceExpiry = 600

	// subscribeRetryWait is how long the subscription loop pauses after a
	// failed subscribe or a broken stream before trying again.
	subscribeRetryWait = time.Second
)

// DefaultInvoiceRequest generates the request for a challenge invoice over
// the given price in millisatoshis.
func DefaultInvoiceRequest(price int64) (*lnrpc.Invoice, error) {
	return &lnrpc.Invoice{
		Memo:      InvoiceMemo,
		ValueMsat: price,
		Expiry:    InvoiceExpiry,
	}, nil
}

// LndChallenger is a challenger that uses an lnd backend to create new LSAT
// payment challenges and track the settlement of their invoices.
type LndChallenger struct {
	client        InvoiceClient
	clientCtx     func() context.Context
	genInvoiceReq InvoiceRequestGenerator

	cache *InvoiceCache

	// rpcMtx serializes all calls to the backing node, the connection is
	// a shared resource.
	rpcMtx sync.Mutex

	invoicesCancel func()
	retryWait      time.Duration

	quit chan struct{}
	wg   sync.WaitGroup
}

// A compile time flag to ensure the LndChallenger satisfies the Challenger
// interface.
var _ Challenger = (*LndChallenger)(nil)

// NewLndChallenger creates a new challenger that uses the given connection to
// an lnd backend to create payment challenges. The given clock only drives
// the invoice cache TTL and may be nil.
func NewLndChallenger(client InvoiceClient,
	genInvoiceReq InvoiceRequestGenerator, ctxFunc func() context.Context,
	cacheClock clock.Clock) (*LndChallenger, error) {

	// Make sure we have a valid context function. This will be called to
	// create a new context for each call to the lnd client.
	if ctxFunc == nil {
		ctxFunc = context.Background
	}

	if genInvoiceReq == nil {
		return nil, fmt.Errorf("genInvoiceReq cannot be nil")
	}

	return &LndChallenger{
		client:        client,
		clientCtx:     ctxFunc,
		genInvoiceReq: genInvoiceReq,
		cache: NewInvoiceCache(
			DefaultCacheSize, DefaultCacheTTL, cacheClock,
		),
		retryWait: subscribeRetryWait,
		quit:      make(chan struct{}),
	}, nil
}

// Start launches the invoice subscription loop that keeps the invoice cache
// fresh. The loop only exits on Stop, a failed subscribe or a broken stream
// is retried after a pause.
func (l *LndChallenger) Start() {
	ctxc, cancel := context.WithCancel(l.clientCtx())
	l.invoicesCancel = cancel

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer cancel()

		l.subscribeLoop(ctxc)
	}()
}

// subscribeLoop subscribes to invoice updates and consumes the stream until
// it breaks, then backs off and subscribes again.
func (l *LndChallenger) subscribeLoop(ctx context.Context) {
	for {
		// In case we receive the shutdown signal right after a failed
		// attempt, we can exit early.
		select {
		case <-l.quit:
			return
		default:
		}

		l.rpcMtx.Lock()
		stream, err := l.client.SubscribeInvoices(
			ctx, &lnrpc.InvoiceSubscription{},
		)
		l.rpcMtx.Unlock()
		if err != nil {
			if isCanceled(err) {
				return
			}

			log.Errorf("Unable to subscribe to invoice updates, "+
				"retrying in %v: %v", l.retryWait, err)

			if !l.waitRetry() {
				return
			}
			continue
		}

		log.Debugf("Invoice subscription established")

		if !l.readInvoiceStream(stream) {
			return
		}

		if !l.waitRetry() {
			return
		}
	}
}

// waitRetry pauses the subscription loop for the retry interval. It returns
// false if the challenger is shutting down.
func (l *LndChallenger) waitRetry() bool {
	select {
	case <-time.After(l.retryWait):
		return true

	case <-l.quit:
		return false
	}
}

// readInvoiceStream reads the invoice update messages sent on the stream
// until the stream is aborted or the challenger is shutting down. It returns
// true if the stream broke and a fresh subscription is needed, false on
// shutdown.
func (l *LndChallenger) readInvoiceStream(
	stream lnrpc.Lightning_SubscribeInvoicesClient) bool {

	for {
		// In case we receive the shutdown signal right after receiving
		// an update, we can exit early.
		select {
		case <-l.quit:
			return false
		default:
		}

		// Wait for an update to arrive. This will block until either a
		// message receives, an error occurs or the underlying context
		// is canceled (which will also result in an error).
		invoice, err := stream.Recv()
		switch {
		case err == io.EOF:
			log.Errorf("Invoice subscription stream closed, " +
				"subscribing again")
			return true

		case isCanceled(err):
			// The context has been canceled, we are shutting down.
			return false

		case err != nil:
			log.Errorf("Received error from invoice subscription, "+
				"subscribing again: %v", err)
			return true

		default:
		}

		// Some invoices like AMP invoices may not have a payment hash
		// populated.
		if invoice.RHash == nil {
			continue
		}

		hash, err := lntypes.MakeHash(invoice.RHash)
		if err != nil {
			log.Errorf("Error parsing invoice hash: %v", err)
			continue
		}

		log.Debugf("Received invoice update, hash=%v, state=%v", hash,
			invoice.State)
		l.cache.Put(hash, invoice)
	}
}

// Stop shuts down the challenger.
func (l *LndChallenger) Stop() {
	if l.invoicesCancel != nil {
		l.invoicesCancel()
	}
	close(l.quit)
	l.wg.Wait()
}

// NewChallenge creates a new LSAT payment challenge, returning a payment
// request (invoice) and the corresponding payment hash.
//
// NOTE: This is part of the mint.Challenger interface.
func (l *LndChallenger) NewChallenge(price int64) (string, lntypes.Hash,
	error) {

	// Obtain a new invoice from lnd first. We need to know the payment
	// hash so we can add it as a caveat to the macaroon.
	invoice, err := l.genInvoiceReq(price)
	if err != nil {
		log.Errorf("Error generating invoice request: %v", err)
		return "", lntypes.ZeroHash, err
	}

	ctx := l.clientCtx()
	l.rpcMtx.Lock()
	response, err := l.client.AddInvoice(ctx, invoice)
	l.rpcMtx.Unlock()
	if err != nil {
		log.Errorf("Error adding invoice: %v", err)
		return "", lntypes.ZeroHash, err
	}

	paymentHash, err := lntypes.MakeHash(response.RHash)
	if err != nil {
		log.Errorf("Error parsing payment hash: %v", err)
		return "", lntypes.ZeroHash, err
	}

	return response.PaymentRequest, paymentHash, nil
}

// LookupInvoice returns the latest known state of the invoice with the given
// payment hash. A cached settled invoice is returned directly, anything else
// is resolved against the node and cached on the way out.
func (l *LndChallenger) LookupInvoice(ctx context.Context,
	hash lntypes.Hash) (*lnrpc.Invoice, error) {

	cached, ok := l.cache.Get(hash)
	if ok && cached.State == lnrpc.Invoice_SETTLED {
		return cached, nil
	}

	l.rpcMtx.Lock()
	invoice, err := l.client.LookupInvoice(ctx, &lnrpc.PaymentHash{
		RHash: hash[:],
	})
	l.rpcMtx.Unlock()
	if err != nil {
		return nil, err
	}

	l.cache.Put(hash, invoice)
	return invoice, nil
}

// VerifyInvoiceStatus checks that an invoice identified by a payment hash
// has the desired status, resolved through the cache where possible and
// against the node otherwise, bounded by the given timeout.
//
// NOTE: This is part of the auth.InvoiceChecker interface.
func (l *LndChallenger) VerifyInvoiceStatus(hash lntypes.Hash,
	state lnrpc.Invoice_InvoiceState, timeout time.Duration) error {

	// Prevent the challenger from being shut down while we're still
	// resolving an invoice state.
	l.wg.Add(1)
	defer l.wg.Done()

	ctx, cancel := context.WithTimeout(l.clientCtx(), timeout)
	defer cancel()

	invoice, err := l.LookupInvoice(ctx, hash)
	if err != nil {
		return fmt.Errorf("no active or settled invoice found for "+
			"hash=%v: %v", hash, err)
	}

	if invoice.State != state {
		return fmt.Errorf("invoice status not correct, hash=%v, "+
			"status=%v", hash, invoice.State)
	}

	return nil
}

// GetInfo returns general information about the backing lnd node.
func (l *LndChallenger) GetInfo(
	ctx context.Context) (*lnrpc.GetInfoResponse, error) {

	l.rpcMtx.Lock()
	defer l.rpcMtx.Unlock()

	return l.client.GetInfo(ctx, &lnrpc.GetInfoRequest{})
}

// isCanceled returns true if the given error is the result of a context
// cancelation.
func isCanceled(err error) bool {
	return err != nil && strings.Contains(
		err.Error(), context.Canceled.Error(),
	)
}

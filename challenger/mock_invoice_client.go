package challenger

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type invoiceStreamMock struct {
	lnrpc.Lightning_SubscribeInvoicesClient

	ctx        context.Context
	updateChan chan *lnrpc.Invoice
	errChan    chan error
	quit       chan struct{}
}

func (i *invoiceStreamMock) Recv() (*lnrpc.Invoice, error) {
	select {
	case msg := <-i.updateChan:
		return msg, nil

	case err := <-i.errChan:
		return nil, err

	case <-i.ctx.Done():
		return nil, i.ctx.Err()

	case <-i.quit:
		return nil, context.Canceled
	}
}

// MockInvoiceClient is an in-memory invoice backend that hands out real
// preimages, allowing settlement to be simulated end to end in tests.
type MockInvoiceClient struct {
	mtx       sync.Mutex
	invoices  map[lntypes.Hash]*lnrpc.Invoice
	preimages map[lntypes.Hash]lntypes.Preimage

	updateChan chan *lnrpc.Invoice
	errChan    chan error
	quit       chan struct{}

	// subscribeErrs is drained one error per SubscribeInvoices call to
	// simulate a node that is temporarily unreachable.
	subscribeErrs []error
	numSubscribes int

	addIndex uint64
}

// NewMockInvoiceClient creates an empty in-memory invoice backend.
func NewMockInvoiceClient() *MockInvoiceClient {
	return &MockInvoiceClient{
		invoices:   make(map[lntypes.Hash]*lnrpc.Invoice),
		preimages:  make(map[lntypes.Hash]lntypes.Preimage),
		updateChan: make(chan *lnrpc.Invoice),
		errChan:    make(chan error, 1),
		quit:       make(chan struct{}),
	}
}

// AddInvoice adds a new invoice to the in-memory node, generating a fresh
// preimage if the request doesn't carry a payment hash already.
func (m *MockInvoiceClient) AddInvoice(_ context.Context, in *lnrpc.Invoice,
	_ ...grpc.CallOption) (*lnrpc.AddInvoiceResponse, error) {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	if in.RHash == nil {
		var preimage lntypes.Preimage
		if _, err := rand.Read(preimage[:]); err != nil {
			return nil, err
		}

		hash := preimage.Hash()
		m.preimages[hash] = preimage
		in.RHash = hash[:]
		in.RPreimage = preimage[:]
	}

	hash, err := lntypes.MakeHash(in.RHash)
	if err != nil {
		return nil, err
	}

	if in.PaymentRequest == "" {
		in.PaymentRequest = fmt.Sprintf("lnsb1%x", in.RHash[:8])
	}
	if in.CreationDate == 0 {
		in.CreationDate = time.Now().Unix()
	}

	m.addIndex++
	in.AddIndex = m.addIndex
	m.invoices[hash] = in

	return &lnrpc.AddInvoiceResponse{
		RHash:          in.RHash,
		PaymentRequest: in.PaymentRequest,
		AddIndex:       in.AddIndex,
	}, nil
}

// LookupInvoice returns the invoice with the given payment hash.
func (m *MockInvoiceClient) LookupInvoice(_ context.Context,
	in *lnrpc.PaymentHash, _ ...grpc.CallOption) (*lnrpc.Invoice, error) {

	hash, err := lntypes.MakeHash(in.RHash)
	if err != nil {
		return nil, err
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	invoice, ok := m.invoices[hash]
	if !ok {
		return nil, status.Error(
			codes.NotFound, "unable to locate invoice",
		)
	}

	// Hand out a copy, a later settle must not mutate an invoice a caller
	// already holds.
	return copyInvoice(invoice), nil
}

// copyInvoice clones the fields of an invoice the mock tracks.
func copyInvoice(in *lnrpc.Invoice) *lnrpc.Invoice {
	return &lnrpc.Invoice{
		Memo:           in.Memo,
		RPreimage:      append([]byte(nil), in.RPreimage...),
		RHash:          append([]byte(nil), in.RHash...),
		ValueMsat:      in.ValueMsat,
		State:          in.State,
		CreationDate:   in.CreationDate,
		SettleDate:     in.SettleDate,
		PaymentRequest: in.PaymentRequest,
		Expiry:         in.Expiry,
		AmtPaidMsat:    in.AmtPaidMsat,
		AddIndex:       in.AddIndex,
	}
}

// SubscribeInvoices subscribes to updates on invoices.
func (m *MockInvoiceClient) SubscribeInvoices(ctx context.Context,
	_ *lnrpc.InvoiceSubscription, _ ...grpc.CallOption) (
	lnrpc.Lightning_SubscribeInvoicesClient, error) {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.numSubscribes++
	if len(m.subscribeErrs) > 0 {
		err := m.subscribeErrs[0]
		m.subscribeErrs = m.subscribeErrs[1:]
		return nil, err
	}

	return &invoiceStreamMock{
		ctx:        ctx,
		updateChan: m.updateChan,
		errChan:    m.errChan,
		quit:       m.quit,
	}, nil
}

// GetInfo returns static information about the mocked node.
func (m *MockInvoiceClient) GetInfo(_ context.Context, _ *lnrpc.GetInfoRequest,
	_ ...grpc.CallOption) (*lnrpc.GetInfoResponse, error) {

	return &lnrpc.GetInfoResponse{
		IdentityPubkey: "02" + hex.EncodeToString(
			bytes.Repeat([]byte{0xab}, 32),
		),
		Alias:   "mock-node",
		Version: "mock",
	}, nil
}

// Preimage returns the preimage of an invoice without settling it.
func (m *MockInvoiceClient) Preimage(hash lntypes.Hash) (lntypes.Preimage,
	error) {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	preimage, ok := m.preimages[hash]
	if !ok {
		return lntypes.Preimage{}, fmt.Errorf("no preimage for "+
			"hash %v", hash)
	}

	return preimage, nil
}

// SettleInvoice marks the invoice with the given hash as settled and returns
// the preimage that proves the payment.
func (m *MockInvoiceClient) SettleInvoice(
	hash lntypes.Hash) (lntypes.Preimage, error) {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	invoice, ok := m.invoices[hash]
	if !ok {
		return lntypes.Preimage{}, fmt.Errorf("no invoice for hash %v",
			hash)
	}

	invoice.State = lnrpc.Invoice_SETTLED
	invoice.SettleDate = time.Now().Unix()
	invoice.AmtPaidMsat = invoice.ValueMsat

	preimage, ok := m.preimages[hash]
	if !ok {
		return lntypes.Preimage{}, fmt.Errorf("no preimage for "+
			"hash %v", hash)
	}

	return preimage, nil
}

// SendUpdate pushes an invoice update to the active subscription stream.
func (m *MockInvoiceClient) SendUpdate(invoice *lnrpc.Invoice) {
	m.updateChan <- invoice
}

// FailStream terminates the active subscription stream with the given error.
func (m *MockInvoiceClient) FailStream(err error) {
	m.errChan <- err
}

// FailNextSubscribe queues an error to be returned by the next call to
// SubscribeInvoices.
func (m *MockInvoiceClient) FailNextSubscribe(err error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.subscribeErrs = append(m.subscribeErrs, err)
}

// NumSubscribes returns how many times SubscribeInvoices has been called.
func (m *MockInvoiceClient) NumSubscribes() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.numSubscribes
}

// Stop terminates all subscription streams handed out by the mock.
func (m *MockInvoiceClient) Stop() {
	close(m.quit)
}

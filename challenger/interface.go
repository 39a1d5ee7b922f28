package challenger

import (
	"context"

	"github.com/lightninglabs/tollgate/auth"
	"github.com/lightninglabs/tollgate/mint"
	"github.com/lightningnetwork/lnd/lnrpc"
	"google.golang.org/grpc"
)

// InvoiceRequestGenerator is a function type that returns a new request for the
// lnrpc.AddInvoice call.
type InvoiceRequestGenerator func(price int64) (*lnrpc.Invoice, error)

// InvoiceClient is an interface that only implements part of a full lnd client,
// namely the four RPCs the challenger needs to work.
type InvoiceClient interface {
	// AddInvoice adds a new invoice to lnd.
	AddInvoice(ctx context.Context, in *lnrpc.Invoice,
		opts ...grpc.CallOption) (*lnrpc.AddInvoiceResponse, error)

	// LookupInvoice returns the invoice identified by the given payment
	// hash.
	LookupInvoice(ctx context.Context, in *lnrpc.PaymentHash,
		opts ...grpc.CallOption) (*lnrpc.Invoice, error)

	// SubscribeInvoices subscribes to updates on invoices.
	SubscribeInvoices(ctx context.Context, in *lnrpc.InvoiceSubscription,
		opts ...grpc.CallOption) (
		lnrpc.Lightning_SubscribeInvoicesClient, error)

	// GetInfo returns general information about the lnd node.
	GetInfo(ctx context.Context, in *lnrpc.GetInfoRequest,
		opts ...grpc.CallOption) (*lnrpc.GetInfoResponse, error)
}

// Challenger is an interface that combines the mint.Challenger and the
// auth.InvoiceChecker interfaces.
type Challenger interface {
	mint.Challenger
	auth.InvoiceChecker
}

package proxy

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightninglabs/tollgate/auth"
	"github.com/lightninglabs/tollgate/lsat"
	"github.com/lightninglabs/tollgate/mint"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
)

const (
	// invoiceStatusPath is the unprotected endpoint clients poll while
	// they wait for their payment to settle.
	invoiceStatusPath = "/invoice/status"

	// quotaHeader is the response header that reports the quota left on
	// the credential after the current request, in millisatoshi.
	quotaHeader = "x-msats-quota"

	// DefaultUpstreamTimeout bounds a single call to a backend's
	// upstream service.
	DefaultUpstreamTimeout = 30 * time.Second
)

// InvoiceLookup resolves the current state of an invoice by its payment
// hash. It is implemented by the node gateway.
type InvoiceLookup interface {
	LookupInvoice(ctx context.Context, hash lntypes.Hash) (*lnrpc.Invoice,
		error)
}

// Proxy is the HTTP handler that takes an incoming request, uses its
// authenticator to validate the request's credential, and either returns a
// payment challenge to the client or forwards the request to the backend's
// upstream service and returns the extracted response.
type Proxy struct {
	authenticator auth.Authenticator

	invoices InvoiceLookup

	backends []*Backend

	client *http.Client

	netParams *chaincfg.Params
}

// New returns a new Proxy instance that fronts the given backends, using the
// authenticator to validate each request and the invoice lookup to serve
// payment status polls.
func New(authenticator auth.Authenticator, invoices InvoiceLookup,
	backends []*Backend, netParams *chaincfg.Params,
	upstreamTimeout time.Duration) (*Proxy, error) {

	paths := make(map[string]struct{}, len(backends))
	for _, backend := range backends {
		if backend.Path == "" || backend.Upstream == "" {
			return nil, fmt.Errorf("backend %s needs both a "+
				"path and an upstream", backend.Name)
		}
		if _, ok := paths[backend.Path]; ok {
			return nil, fmt.Errorf("duplicate backend path %s",
				backend.Path)
		}
		paths[backend.Path] = struct{}{}
	}

	if upstreamTimeout == 0 {
		upstreamTimeout = DefaultUpstreamTimeout
	}

	return &Proxy{
		authenticator: authenticator,
		invoices:      invoices,
		backends:      backends,
		client:        &http.Client{Timeout: upstreamTimeout},
		netParams:     netParams,
	}, nil
}

// apiError is the JSON shape of every non-2xx response.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// backendResponse is the JSON document returned for a successful paid
// request, the extracted upstream text split into paragraphs.
type backendResponse struct {
	Data []string `json:"data"`
}

// invoiceStatusRequest is the client payload of the invoice status endpoint.
type invoiceStatusRequest struct {
	Invoice string `json:"invoice"`
}

// invoiceStatusResponse reports the preimage and current state of an
// invoice a client is polling for.
type invoiceStatusResponse struct {
	Preimage string `json:"preimage"`
	State    int32  `json:"state"`
}

// addCorsHeaders adds the CORS headers sent with every response.
func addCorsHeaders(header http.Header) {
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Methods", "GET, POST, DELETE")
	header.Set(
		"Access-Control-Allow-Headers",
		"accept-authenticate, content-type, authorization",
	)
	header.Set("Access-Control-Expose-Headers", "*")
}

// writeError renders an error response in the fixed JSON error shape.
func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	err := json.NewEncoder(w).Encode(&apiError{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Errorf("Unable to write error response: %v", err)
	}
}

// sendJSONResponse writes a 200 response with a JSON body.
func sendJSONResponse(w http.ResponseWriter, response interface{}) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Errorf("Unable to write response: %v", err)
	}
}

// parseRequestFields decodes the flat string map every request to a
// protected path must carry as its body.
func parseRequestFields(body io.Reader) (map[string]string, error) {
	var fields map[string]string
	if err := json.NewDecoder(body).Decode(&fields); err != nil {
		return nil, err
	}

	return fields, nil
}

// matchBackend finds the backend registered for the exact request path.
func (p *Proxy) matchBackend(path string) (*Backend, bool) {
	for _, backend := range p.backends {
		if backend.Path == path {
			return backend, true
		}
	}

	return nil, false
}

// ServeHTTP answers CORS preflight requests directly and dispatches
// everything else to the invoice status endpoint or the backend registered
// for the request path.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	addCorsHeaders(w.Header())

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.URL.Path == invoiceStatusPath && r.Method == http.MethodPost {
		p.handleInvoiceStatus(w, r)
		return
	}

	backend, ok := p.matchBackend(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND")
		return
	}

	p.handleBackend(w, r, backend)
}

// handleInvoiceStatus decodes the payment request a client polls for,
// resolves its payment hash and reports the invoice's preimage and state.
func (p *Proxy) handleInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	var request invoiceStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		log.Debugf("Invalid invoice status request: %v", err)
		writeError(w, http.StatusBadRequest, "Invoice field not found")
		return
	}
	if request.Invoice == "" {
		writeError(w, http.StatusBadRequest, "Invoice field not found")
		return
	}

	payReq, err := zpay32.Decode(request.Invoice, p.netParams)
	if err != nil {
		log.Debugf("Unable to parse invoice %s: %v", request.Invoice,
			err)
		writeError(w, http.StatusBadRequest, "Unable to parse invoice")
		return
	}
	hash := lntypes.Hash(*payReq.PaymentHash)

	invoice, err := p.invoices.LookupInvoice(r.Context(), hash)
	if err != nil {
		log.Debugf("Invoice %v not found: %v", hash, err)
		writeError(w, http.StatusBadRequest, "Unable to find invoice")
		return
	}

	log.Debugf("Retrieved state %v for invoice %v", invoice.State, hash)

	sendJSONResponse(w, &invoiceStatusResponse{
		Preimage: hex.EncodeToString(invoice.RPreimage),
		State:    int32(invoice.State),
	})
}

// handleBackend runs a request to a protected path end to end: read and
// digest the client fields, check the credential, debit it, forward the
// request upstream and return the extracted response.
func (p *Proxy) handleBackend(w http.ResponseWriter, r *http.Request,
	backend *Backend) {

	fields, err := parseRequestFields(r.Body)
	if err != nil {
		log.Debugf("Invalid request body for %s: %v", backend.Path,
			err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	bodyHash := lsat.DigestFields(fields)

	remaining, err := p.authenticator.Accept(
		r.Context(), &r.Header, backend.Path, backend.Price(),
		bodyHash,
	)
	switch {
	// No credential at all. Mint a fresh one and challenge the client to
	// pay for it.
	case errors.Is(err, lsat.ErrNoAuthHeader):
		p.writeChallenge(w, r, backend, bodyHash)
		return

	// A credential whose ledger entry is gone is either fully spent or
	// was never minted by us.
	case errors.Is(err, mint.ErrSecretNotFound):
		requestsRejected.WithLabelValues(backend.Name).Inc()
		writeError(w, http.StatusBadRequest, "LSAT expired")
		return

	case errors.Is(err, auth.ErrInvoiceNotSettled):
		requestsRejected.WithLabelValues(backend.Name).Inc()
		writeError(w, http.StatusBadRequest, "Invoice not settled")
		return

	case err != nil:
		requestsRejected.WithLabelValues(backend.Name).Inc()
		writeError(w, http.StatusBadRequest, "LSAT incorrect")
		return
	}

	paymentsAccepted.WithLabelValues(backend.Name).Inc()

	// The debit is committed at this point, upstream failures are not
	// refunded.
	p.forwardRequest(w, r, backend, fields, remaining)
}

// writeChallenge mints a fresh credential for the backend and answers the
// request with a 402 carrying the challenge header.
func (p *Proxy) writeChallenge(w http.ResponseWriter, r *http.Request,
	backend *Backend, bodyHash lntypes.Hash) {

	header, err := p.authenticator.FreshChallengeHeader(
		r.Context(), backend.Path, backend.AmountTotal(), bodyHash,
	)
	if err != nil {
		log.Errorf("Unable to mint challenge for %s: %v",
			backend.Path, err)
		writeError(w, http.StatusInternalServerError,
			"UNHANDLED_REJECTION")
		return
	}

	for name, value := range header {
		w.Header().Set(name, value[0])
		for i := 1; i < len(value); i++ {
			w.Header().Add(name, value[i])
		}
	}

	challengesMinted.WithLabelValues(backend.Name).Inc()

	w.WriteHeader(http.StatusPaymentRequired)
}

// forwardRequest performs the upstream call for an accepted request and
// shapes the response. The quota header reports what is left on the
// credential after this request.
func (p *Proxy) forwardRequest(w http.ResponseWriter, r *http.Request,
	backend *Backend, fields map[string]string,
	remaining lnwire.MilliSatoshi) {

	req, err := buildUpstreamRequest(r.Context(), backend, fields)
	switch {
	case errors.Is(err, ErrFieldMissing), errors.Is(err, ErrFieldInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
		return

	case err != nil:
		log.Errorf("Unable to build upstream request for %s: %v",
			backend.Path, err)
		writeError(w, http.StatusInternalServerError,
			"UNHANDLED_REJECTION")
		return
	}

	start := time.Now()
	body, err := sendUpstreamRequest(p.client, req)
	upstreamLatency.WithLabelValues(backend.Name).Observe(
		time.Since(start).Seconds(),
	)
	if err != nil {
		log.Errorf("Upstream call for %s failed: %v", backend.Path,
			err)
		writeError(w, http.StatusBadGateway, "upstream error")
		return
	}

	text, err := extractResponseField(body, backend.ResponseFields)
	if err != nil {
		log.Errorf("Unable to extract response field for %s: %v",
			backend.Path, err)
		writeError(w, http.StatusBadGateway, "upstream error")
		return
	}

	paragraphs := strings.Split(strings.TrimSpace(text), "\n\n")

	w.Header().Set(quotaHeader, strconv.FormatUint(uint64(remaining), 10))
	sendJSONResponse(w, &backendResponse{Data: paragraphs})
}

package proxy

import (
	"github.com/lightningnetwork/lnd/lnwire"
)

// Backend describes one paid endpoint the proxy fronts. A backend is matched
// by exact request path and fully determines how a client request is
// translated into the upstream call and what part of the upstream response
// is handed back.
type Backend struct {
	// Name is a human readable identifier for the backend, used in logs
	// and metrics.
	Name string `yaml:"name"`

	// Path is the exact request path clients call, for example "/echo".
	Path string `yaml:"path"`

	// Upstream is the full URL the proxied POST request is sent to.
	Upstream string `yaml:"upstream"`

	// Headers is a list of static "Name: Value" entries attached to every
	// upstream request, typically the upstream's own credentials.
	Headers []string `yaml:"headers"`

	// Body is a JSON document used as the template for the upstream
	// request body. Client supplied fields are overlaid on its top level.
	Body string `yaml:"body"`

	// PassFields maps the client field names that are forwarded upstream
	// to their declared types. Valid types are "string", "int" and
	// "float". Fields not listed here are dropped.
	PassFields map[string]string `yaml:"passfields"`

	// PriceMsat is the price of a single request in millisatoshi.
	PriceMsat lnwire.MilliSatoshi `yaml:"pricemsat"`

	// BudgetMultiple is the number of requests a single credential is
	// sold for. Zero is treated as one.
	BudgetMultiple uint64 `yaml:"budgetmultiple"`

	// ResponseFields is a dotted path into the upstream JSON response
	// selecting the string value returned to the client. Numeric path
	// segments index into arrays.
	ResponseFields string `yaml:"responsefields"`
}

// Price returns the amount debited from a credential for a single request.
func (b *Backend) Price() lnwire.MilliSatoshi {
	return b.PriceMsat
}

// AmountTotal returns the amount a fresh credential is invoiced and
// provisioned for, the price times the budget multiple.
func (b *Backend) AmountTotal() lnwire.MilliSatoshi {
	multiple := b.BudgetMultiple
	if multiple < 1 {
		multiple = 1
	}

	return b.PriceMsat * lnwire.MilliSatoshi(multiple)
}

package marketplace

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bid is a provider's transient offer to host a deployment. Bids are never
// persisted; they live only for the duration of one bid-iteration run.
type Bid struct {
	OwnerAddress            string          `json:"owner"`
	MarketplaceDeploymentID string          `json:"dseq"`
	GroupSeq                uint32          `json:"gseq"`
	OrderSeq                uint32          `json:"oseq"`
	ProviderAddress         string          `json:"provider"`
	BidSeq                  uint32          `json:"bseq"`
	PriceAmount             decimal.Decimal `json:"price_amount"`
	PriceDenom              string          `json:"price_denom"`
	State                   string          `json:"state"`
	CreatedAt               time.Time       `json:"created_at"`
	CertificateRequired     bool            `json:"certificate_required"`
}

// cheaper reports whether b is strictly less expensive than other in the same
// denom. Per spec this is numeric comparison on priceAmount; denom mismatches
// never occur within a single bid batch so no cross-denom conversion is done.
func (b Bid) cheaper(other Bid) bool {
	return b.PriceAmount.LessThan(other.PriceAmount)
}

// Lease is the acceptance of a Bid.
type Lease struct {
	OwnerAddress            string
	MarketplaceDeploymentID string
	GroupSeq                uint32
	OrderSeq                uint32
	ProviderAddress         string
	BidSeq                  uint32
	Services                map[string][]string // service name -> exposed URIs
}

// ServiceURL is the first URI of the first service with a non-empty URI
// list, or "" if none. Map iteration order in Go is randomized, so callers
// that need a *stable* choice among several eligible services should not
// rely on which one wins when more than one service has URIs; the marketplace
// manifest this orchestrator renders always declares exactly one service, so
// that ambiguity never arises in practice.
func (l Lease) ServiceURL() string {
	for _, uris := range l.Services {
		if len(uris) > 0 {
			return uris[0]
		}
	}
	return ""
}

// Manifest is the rendered deployment descriptor plus marketplace identifiers
// returned by CreateDeployment.
type Manifest struct {
	Text                    string
	MarketplaceDeploymentID string
}

package welcome

import (
	"strconv"
	"strings"

	"github.com/go-faster/errors"
)

// ErrBadCustomerID is returned when a customer identifier is neither a raw
// numeric id nor a namespaced customer URI.
var ErrBadCustomerID = errors.New("malformed customer id")

// gidPrefix is the namespaced-URI form customer ids arrive in from
// storefront webhooks. The numeric tail is the canonical id.
const gidPrefix = "gid://shopify/Customer/"

// CustomerID is the canonical form of a customer identifier. The zero value
// is not valid; construct with ParseCustomerID.
type CustomerID struct {
	n int64
}

// ParseCustomerID normalizes a raw identifier. Both accepted input forms,
// "123" and "gid://shopify/Customer/123", canonicalize to the same value.
func ParseCustomerID(raw string) (CustomerID, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, gidPrefix)
	if s == "" {
		return CustomerID{}, ErrBadCustomerID
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return CustomerID{}, errors.Wrapf(ErrBadCustomerID, "%q", raw)
	}
	return CustomerID{n: n}, nil
}

// Int64 returns the canonical numeric id.
func (id CustomerID) Int64() int64 { return id.n }

// String renders the canonical numeric form.
func (id CustomerID) String() string { return strconv.FormatInt(id.n, 10) }

// GID renders the canonical namespaced-URI form.
func (id CustomerID) GID() string { return gidPrefix + id.String() }

package proxy

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/redhat-et/card-broker/pkg/fault"
)

// Resource is one upstream resource family exposed by the proxy.
type Resource struct {
	// Name labels logs, spans and metrics.
	Name string
	// Path is appended to the upstream API base URL.
	Path string
	// FailureMessage is the generic message returned on any upstream failure.
	FailureMessage string
	// query maps inbound query parameters to the upstream query.
	query func(in url.Values) (url.Values, error)
}

// Query validates the inbound request and returns the upstream query string
// parameters. A nil map means no query.
func (res Resource) Query(r *http.Request) (url.Values, error) {
	return res.UpstreamQuery(r.URL.Query())
}

// UpstreamQuery is Query for callers that hold the parameters directly.
func (res Resource) UpstreamQuery(in url.Values) (url.Values, error) {
	if res.query == nil {
		return nil, nil
	}
	return res.query(in)
}

var (
	// Cards lists cards.
	Cards = Resource{
		Name:           "cards",
		Path:           "/api/v3/cards",
		FailureMessage: "failed to fetch cards",
	}

	// Users lists users.
	Users = Resource{
		Name:           "users",
		Path:           "/api/v3/users",
		FailureMessage: "failed to fetch users",
	}

	// User looks up one user by the identifier query parameter.
	User = Resource{
		Name:           "user",
		Path:           "/api/v3/users",
		FailureMessage: "failed to fetch user data",
		query:          identifierFilter,
	}

	// Balance fetches the account balance.
	Balance = Resource{
		Name:           "balance",
		Path:           "/api/v3/balances",
		FailureMessage: "failed to fetch balance",
	}
)

// ResourceByName returns the resource with the given name.
func ResourceByName(name string) (Resource, bool) {
	for _, res := range []Resource{Cards, Users, User, Balance} {
		if res.Name == name {
			return res, true
		}
	}
	return Resource{}, false
}

func identifierFilter(in url.Values) (url.Values, error) {
	identifier := strings.TrimSpace(in.Get("identifier"))
	if identifier == "" {
		return nil, fault.New(fault.KindBadRequest, "user lookup", "identifier is required")
	}
	return url.Values{"filter": []string{identifier}}, nil
}

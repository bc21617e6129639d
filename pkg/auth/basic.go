package auth

import (
	"encoding/base64"

	"github.com/redhat-et/card-broker/pkg/fault"
)

// BasicAuthHeader returns the Authorization header value carrying the client
// credentials: "Basic " + base64(clientId:clientSecret).
func BasicAuthHeader(identity ClientIdentity) (string, error) {
	if identity.ClientID == "" || identity.ClientSecret == "" {
		return "", fault.New(fault.KindConfiguration, "basic auth", "client_id and client_secret are required")
	}
	creds := identity.ClientID + ":" + identity.ClientSecret
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(creds)), nil
}

package auth

import "golang.org/x/oauth2/clientcredentials"

// Conf holds the OAuth2 client credentials of the RTE data portal.
type Conf struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	TokenURL     string `json:"token_url"`
}

// DefaultTokenURL is the RTE data portal token endpoint.
const DefaultTokenURL = "https://digital.iservices.rte-france.com/token/oauth/"

func (c *Conf) toOauth2Config() clientcredentials.Config {
	url := c.TokenURL
	if url == "" {
		url = DefaultTokenURL
	}
	return clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     url,
	}
}

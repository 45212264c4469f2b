package authkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultProviderTimeout = 10 * time.Second
	maxProviderBodyBytes   = 1 << 20

	grantTypeAuthorizationCode = "authorization_code"

	messageInvalidProviderResponse = "Invalid response from provider"
)

// CodeExchange is the provider's answer to an authorization code exchange.
type CodeExchange struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
	UserID      int64  `json:"user_id"`
}

// StoreProfile is the subset of the provider's store resource the install flow needs.
type StoreProfile struct {
	Email string `json:"email"`
}

// IdentityProvider exchanges authorization codes and reads store profiles.
type IdentityProvider interface {
	ExchangeCode(ctx context.Context, code string) (CodeExchange, error)
	FetchProfile(ctx context.Context, userID int64, accessToken string, tokenType string) (StoreProfile, error)
}

type codeExchangeRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
}

type codeExchangeResponse struct {
	CodeExchange
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// TiendanubeClient talks to the Tiendanube authorization server and REST API.
type TiendanubeClient struct {
	configuration ProviderConfig
	httpClient    *http.Client
}

// NewTiendanubeClient builds a client. A nil httpClient gets one bounded by configuration.Timeout.
func NewTiendanubeClient(configuration ProviderConfig, httpClient *http.Client) *TiendanubeClient {
	if httpClient == nil {
		timeout := configuration.Timeout
		if timeout <= 0 {
			timeout = defaultProviderTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &TiendanubeClient{configuration: configuration, httpClient: httpClient}
}

// ExchangeCode trades an authorization code for an access token.
func (client *TiendanubeClient) ExchangeCode(ctx context.Context, code string) (CodeExchange, error) {
	body, encodeErr := json.Marshal(codeExchangeRequest{
		ClientID:     client.configuration.ClientID,
		ClientSecret: client.configuration.ClientSecret,
		GrantType:    grantTypeAuthorizationCode,
		Code:         code,
	})
	if encodeErr != nil {
		return CodeExchange{}, newError(ErrInvalidRequest, encodeErr.Error(), encodeErr)
	}
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, client.configuration.AuthURL, bytes.NewReader(body))
	if requestErr != nil {
		return CodeExchange{}, newError(ErrInvalidRequest, requestErr.Error(), requestErr)
	}
	client.decorate(request)

	var exchange codeExchangeResponse
	if err := client.do(request, &exchange); err != nil {
		return CodeExchange{}, err
	}
	if exchange.Error != "" {
		description := exchange.ErrorDescription
		if description == "" {
			description = exchange.Error
		}
		return CodeExchange{}, newError(ErrInvalidRequest, description, nil)
	}
	if err := exchange.CodeExchange.validate(); err != nil {
		return CodeExchange{}, err
	}
	return exchange.CodeExchange, nil
}

// validate rejects exchanges that cannot identify a store.
func (exchange CodeExchange) validate() error {
	if exchange.UserID <= 0 || strings.TrimSpace(exchange.AccessToken) == "" {
		return newError(ErrInvalidRequest, messageInvalidProviderResponse,
			fmt.Errorf("tiendanube.exchange: user_id=%d access_token_present=%t", exchange.UserID, exchange.AccessToken != ""))
	}
	return nil
}

// FetchProfile reads the store email for userID using the freshly issued access token.
func (client *TiendanubeClient) FetchProfile(ctx context.Context, userID int64, accessToken string, tokenType string) (StoreProfile, error) {
	profileURL := strings.TrimRight(client.configuration.APIURL, "/") + "/" + strconv.FormatInt(userID, 10) + "/store?fields=email"
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodGet, profileURL, nil)
	if requestErr != nil {
		return StoreProfile{}, newError(ErrInvalidRequest, requestErr.Error(), requestErr)
	}
	client.decorate(request)
	request.Header.Set("Authentication", strings.TrimSpace(tokenType+" "+accessToken))

	var profile StoreProfile
	if err := client.do(request, &profile); err != nil {
		return StoreProfile{}, err
	}
	return profile, nil
}

func (client *TiendanubeClient) decorate(request *http.Request) {
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	if client.configuration.UserAgent != "" {
		request.Header.Set("User-Agent", client.configuration.UserAgent)
	}
}

// do performs the request and decodes a 2xx JSON body into target. Every failure is an InvalidRequest.
func (client *TiendanubeClient) do(request *http.Request, target any) error {
	response, err := client.httpClient.Do(request)
	if err != nil {
		return newError(ErrInvalidRequest, err.Error(), err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, maxProviderBodyBytes))
		message := fmt.Sprintf("Request failed with status code %d", response.StatusCode)
		return newError(ErrInvalidRequest, message, fmt.Errorf("tiendanube.%s: status %d", request.Method, response.StatusCode))
	}
	if decodeErr := json.NewDecoder(io.LimitReader(response.Body, maxProviderBodyBytes)).Decode(target); decodeErr != nil {
		return newError(ErrInvalidRequest, messageInvalidProviderResponse, decodeErr)
	}
	return nil
}

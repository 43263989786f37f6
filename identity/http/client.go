// Package http is the identity provider client over its management REST API.
package http

import (
	"context"
	"fmt"
	nethttp "net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/influxdata/onboarding/identity"
	"github.com/influxdata/onboarding/kit/platform/errors"
	"github.com/influxdata/onboarding/kit/tracing"
	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"
)

const (
	organizationsPath = "/api/v1/organizations"
	usersPath         = "/api/v1/users"
	membersPath       = "/api/v1/organizations/{code}/members"
)

// Config configures a Client.
type Config struct {
	URL string
	// Token is the machine-to-machine bearer token.
	Token      string
	Timeout    time.Duration
	RetryCount int
}

// Client implements identity.Provider.
type Client struct {
	client *resty.Client
	log    *zap.Logger
}

var _ identity.Provider = (*Client)(nil)

// NewClient returns a client for the provider at cfg.URL.
func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = identity.DefaultTimeout
	}
	c := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		c.SetAuthToken(cfg.Token)
	}
	c.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		if span := opentracing.SpanFromContext(r.Context()); span != nil {
			tracing.InjectToHTTPHeader(span, r.Header)
		}
		return nil
	})
	return &Client{
		client: c,
		log:    log,
	}
}

type organizationRequest struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

type organizationResponse struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}

type userRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type userResponse struct {
	ID string `json:"id"`
}

type memberRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// CreateOrganization creates the organization and returns its code.
func (c *Client) CreateOrganization(ctx context.Context, name, displayName string) (string, error) {
	var out organizationResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(organizationRequest{Name: name, DisplayName: displayName}).
		SetResult(&out).
		SetError(&errorResponse{}).
		Post(organizationsPath)
	if err := checkResponse("CreateOrganization", resp, err); err != nil {
		return "", err
	}

	code := out.Code
	if code == "" {
		code = out.ID
	}
	c.log.Debug("Created identity provider organization", zap.String("organization_code", code))
	return code, nil
}

// CreateOrFindUser creates the user, or looks it up by email when it already exists.
func (c *Client) CreateOrFindUser(ctx context.Context, email, name string) (string, error) {
	var out userResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(userRequest{Email: email, Name: name}).
		SetResult(&out).
		SetError(&errorResponse{}).
		Post(usersPath)
	if err == nil && resp.StatusCode() == nethttp.StatusConflict {
		return c.findUser(ctx, email)
	}
	if err := checkResponse("CreateOrFindUser", resp, err); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) findUser(ctx context.Context, email string) (string, error) {
	var out []userResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("email", email).
		SetResult(&out).
		SetError(&errorResponse{}).
		Get(usersPath)
	if err := checkResponse("FindUser", resp, err); err != nil {
		return "", err
	}
	if len(out) == 0 {
		return "", &errors.Error{
			Code: errors.ENotFound,
			Op:   "identity/http.FindUser",
			Msg:  fmt.Sprintf("user %q reported as existing but not found", email),
		}
	}
	return out[0].ID, nil
}

// AddUserToOrganization grants userID role in the organization.
func (c *Client) AddUserToOrganization(ctx context.Context, orgCode, userID, role string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("code", orgCode).
		SetBody(memberRequest{UserID: userID, Role: role}).
		SetError(&errorResponse{}).
		Post(membersPath)
	return checkResponse("AddUserToOrganization", resp, err)
}

// checkResponse maps transport failures and non-2xx responses to EUnavailable.
func checkResponse(op string, resp *resty.Response, err error) error {
	op = "identity/http." + op
	if err != nil {
		return &errors.Error{
			Code: errors.EUnavailable,
			Op:   op,
			Msg:  "identity provider request failed",
			Err:  err,
		}
	}
	if resp.IsSuccess() {
		return nil
	}
	msg := resp.Status()
	if e, ok := resp.Error().(*errorResponse); ok && e.Message != "" {
		msg = e.Message
	}
	return &errors.Error{
		Code: errors.EUnavailable,
		Op:   op,
		Msg:  fmt.Sprintf("identity provider returned %d: %s", resp.StatusCode(), msg),
	}
}

// Package directory talks to an organisation's external user directory.
// The only provider is Microsoft Graph, authenticated per integration with
// the OAuth2 client-credentials grant.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"idsimplify/pkg/apperr"
	"idsimplify/pkg/metrics"
	"idsimplify/pkg/models"
	"idsimplify/pkg/resilience"
)

const (
	DefaultAuthority = "https://login.microsoftonline.com"
	DefaultBaseURL   = "https://graph.microsoft.com/v1.0"

	graphScope = "https://graph.microsoft.com/.default"
	// well-known id of the password authentication method
	passwordMethodID = "28c10230-6103-485e-b985-444c60001490"
	userSelect       = "aboutMe,accountEnabled,displayName,givenName,id,jobTitle,mail,preferredName,surname,userPrincipalName"
	groupSelect      = "id,displayName,description,mailNickname,mail"
	maxPages         = 10
	maxBody          = 4 << 20
)

// ErrAuthentication is returned when the token endpoint rejects the
// integration's credentials.
var ErrAuthentication = &apperr.Error{Kind: apperr.ErrProviderUnavailable, Msg: "unable to authenticate with directory"}

// ErrRefused is returned when Graph rejects a valid token, usually because
// the app registration lacks the required API permissions.
var ErrRefused = &apperr.Error{Kind: apperr.ErrProviderUnavailable, Msg: "directory refused the integration's credentials"}

// Object is a directory object as returned by the provider.
type Object = map[string]any

type Options struct {
	Authority string
	BaseURL   string
	Timeout   time.Duration
	Breaker   *resilience.Breaker
	Client    *http.Client
	Log       *zap.SugaredLogger
}

// Graph is a Microsoft Graph client. One access token is cached per app
// registration and reused until it expires.
type Graph struct {
	authority string
	baseURL   string
	timeout   time.Duration
	breaker   *resilience.Breaker
	http      *http.Client
	log       *zap.SugaredLogger

	mu     sync.Mutex
	tokens map[string]*appToken
}

// appToken is the grant config and last token for one tenant/client pair.
// A changed secret replaces the entry.
type appToken struct {
	secret string
	cfg    *clientcredentials.Config
	tok    *oauth2.Token
}

func NewGraph(o Options) *Graph {
	g := &Graph{
		authority: strings.TrimRight(o.Authority, "/"),
		baseURL:   strings.TrimRight(o.BaseURL, "/"),
		timeout:   o.Timeout,
		breaker:   o.Breaker,
		http:      o.Client,
		log:       o.Log,
		tokens:    map[string]*appToken{},
	}
	if g.authority == "" {
		g.authority = DefaultAuthority
	}
	if g.baseURL == "" {
		g.baseURL = DefaultBaseURL
	}
	if g.breaker == nil {
		g.breaker = resilience.NewBreaker(5, 30*time.Second)
	}
	if g.http == nil {
		g.http = &http.Client{Timeout: 15 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if g.log == nil {
		g.log = zap.NewNop().Sugar()
	}
	return g
}

// token returns a valid access token for creds, fetching one under ctx when
// the cached token is missing or expired. The lock is not held while the
// token endpoint is called.
func (g *Graph) token(ctx context.Context, creds models.Credentials) (*oauth2.Token, error) {
	key := creds.TenantID + "/" + creds.ClientID

	g.mu.Lock()
	e, ok := g.tokens[key]
	if !ok || e.secret != creds.ClientSecret {
		e = &appToken{
			secret: creds.ClientSecret,
			cfg: &clientcredentials.Config{
				ClientID:     creds.ClientID,
				ClientSecret: creds.ClientSecret,
				TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", g.authority, url.PathEscape(creds.TenantID)),
				Scopes:       []string{graphScope},
				AuthStyle:    oauth2.AuthStyleInParams,
			},
		}
		g.tokens[key] = e
	}
	tok, cfg := e.tok, e.cfg
	g.mu.Unlock()

	if tok.Valid() {
		return tok, nil
	}
	tok, err := cfg.Token(context.WithValue(ctx, oauth2.HTTPClient, g.http))
	if err != nil {
		g.log.Warnw("directory token request failed", "tenant_id", creds.TenantID, "client_id", creds.ClientID, "err", err)
		return nil, tokenError(err)
	}

	g.mu.Lock()
	if g.tokens[key] == e {
		e.tok = tok
	}
	g.mu.Unlock()
	return tok, nil
}

// tokenError marks a 4xx answer from the token endpoint as rejected
// credentials. Anything else is an endpoint failure.
func tokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode >= 400 && re.Response.StatusCode < 500 {
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return fmt.Errorf("directory token endpoint: %w", err)
}

type request struct {
	method string
	path   string
	query  url.Values
	body   any
}

type graphError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// benign errors are answers about the caller's data or credentials, not
// signs that Graph is unhealthy.
func benign(err error) bool {
	return errors.Is(err, apperr.ErrNotFound) ||
		errors.Is(err, apperr.ErrInputInvalid) ||
		errors.Is(err, apperr.ErrConflict) ||
		errors.Is(err, ErrAuthentication) ||
		errors.Is(err, ErrRefused)
}

// call performs one request under the breaker and timeout. The decoded body
// is written to out when it is non-nil; the response headers are returned.
func (g *Graph) call(ctx context.Context, creds models.Credentials, op string, req request, out any) (http.Header, error) {
	var hdr http.Header
	err := g.breaker.Do(func() error {
		var err error
		hdr, err = resilience.Call(ctx, g.timeout, func(ctx context.Context) (http.Header, error) {
			return g.roundTrip(ctx, creds, req, out)
		})
		return err
	}, benign)
	metrics.SetBreaker("directory", g.breaker.Open())
	switch {
	case err == nil:
		metrics.ProviderCalls.WithLabelValues("directory", metrics.OutcomeOK).Inc()
		return hdr, nil
	case errors.Is(err, apperr.ErrNotFound):
		metrics.ProviderCalls.WithLabelValues("directory", metrics.OutcomeNotFound).Inc()
		return nil, err
	case benign(err):
		metrics.ProviderCalls.WithLabelValues("directory", metrics.OutcomeRejected).Inc()
		return nil, err
	case errors.Is(err, resilience.ErrCircuitOpen):
		metrics.ProviderCalls.WithLabelValues("directory", metrics.OutcomeRejected).Inc()
	default:
		metrics.ProviderCalls.WithLabelValues("directory", metrics.OutcomeError).Inc()
	}
	g.log.Warnw("directory call failed", "op", op, "err", err)
	if errors.Is(err, apperr.ErrProviderUnavailable) {
		return nil, err
	}
	return nil, apperr.Provider("directory "+op, err)
}

func (g *Graph) roundTrip(ctx context.Context, creds models.Credentials, r request, out any) (http.Header, error) {
	tok, err := g.token(ctx, creds)
	if err != nil {
		return nil, err
	}

	target := r.path
	if !strings.HasPrefix(target, "https://") && !strings.HasPrefix(target, "http://") {
		target = g.baseURL + "/" + strings.TrimLeft(r.path, "/")
		if len(r.query) > 0 {
			target += "?" + r.query.Encode()
		}
	}
	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return nil, err
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, raw)
	}
	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("decode directory response: %w", err)
		}
	}
	return resp.Header, nil
}

func statusError(status int, raw []byte) error {
	var ge graphError
	_ = json.Unmarshal(raw, &ge)
	msg := ge.Error.Message
	switch {
	case status == http.StatusNotFound:
		return apperr.New(apperr.ErrNotFound, "directory object does not exist")
	case status == http.StatusBadRequest:
		if msg == "" {
			msg = "directory rejected the request"
		}
		return apperr.New(apperr.ErrInputInvalid, "%s", msg)
	case status == http.StatusConflict:
		return apperr.New(apperr.ErrConflict, "directory object already exists")
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("graph status %d: %w", status, ErrRefused)
	}
	if ge.Error.Code != "" {
		return fmt.Errorf("graph status %d: %s: %s", status, ge.Error.Code, msg)
	}
	return fmt.Errorf("graph status %d", status)
}

// list follows @odata.nextLink up to maxPages and projects the combined
// value array.
func (g *Graph) list(ctx context.Context, creds models.Credentials, op, path string, query url.Values, p projection) ([]any, error) {
	var all []any
	next := path
	for page := 0; next != "" && page < maxPages; page++ {
		var body struct {
			Value    []any  `json:"value"`
			NextLink string `json:"@odata.nextLink"`
		}
		q := query
		if page > 0 {
			// never send the bearer token outside the Graph endpoint
			if !strings.HasPrefix(next, g.baseURL+"/") {
				return nil, apperr.Provider("directory "+op, fmt.Errorf("unexpected next link host in %q", next))
			}
			q = nil
		}
		if _, err := g.call(ctx, creds, op, request{method: http.MethodGet, path: next, query: q}, &body); err != nil {
			return nil, err
		}
		all = append(all, body.Value...)
		next = body.NextLink
	}
	return p.apply(all)
}

func (g *Graph) object(ctx context.Context, creds models.Credentials, op string, req request) (Object, error) {
	out := Object{}
	if _, err := g.call(ctx, creds, op, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *Graph) ListUsers(ctx context.Context, creds models.Credentials) ([]any, error) {
	return g.list(ctx, creds, "list users", "users", nil, userList)
}

func (g *Graph) GetUser(ctx context.Context, creds models.Credentials, id string) (Object, error) {
	return g.object(ctx, creds, "get user", request{
		method: http.MethodGet,
		path:   "users/" + url.PathEscape(id),
		query:  url.Values{"$select": {userSelect}},
	})
}

// UserGroups lists the groups id belongs to, leaving out directory roles
// and other non-group memberships.
func (g *Graph) UserGroups(ctx context.Context, creds models.Credentials, id string) ([]any, error) {
	return g.list(ctx, creds, "user groups", "users/"+url.PathEscape(id)+"/memberOf", nil, memberOfList)
}

func (g *Graph) SetUserEnabled(ctx context.Context, creds models.Credentials, id string, enabled bool) error {
	_, err := g.call(ctx, creds, "set user enabled", request{
		method: http.MethodPatch,
		path:   "users/" + url.PathEscape(id),
		body:   map[string]bool{"accountEnabled": enabled},
	}, nil)
	return err
}

// NewUser is the create payload for a directory account.
type NewUser struct {
	GivenName         string `json:"givenName"`
	Surname           string `json:"surname"`
	DisplayName       string `json:"displayName"`
	MailNickname      string `json:"mailNickname"`
	UserPrincipalName string `json:"userPrincipalName"`
	Password          string `json:"password"`
}

// CreateUser creates an enabled account that must change its password at
// first sign-in.
func (g *Graph) CreateUser(ctx context.Context, creds models.Credentials, u NewUser) (Object, error) {
	body := map[string]any{
		"accountEnabled":    true,
		"givenName":         u.GivenName,
		"surname":           u.Surname,
		"displayName":       u.DisplayName,
		"mailNickname":      u.MailNickname,
		"userPrincipalName": u.UserPrincipalName,
		"passwordProfile": map[string]any{
			"forceChangePasswordNextSignIn": true,
			"password":                      u.Password,
		},
	}
	created, err := g.object(ctx, creds, "create user", request{method: http.MethodPost, path: "users", body: body})
	if err != nil {
		return nil, err
	}
	return userObject.object(created)
}

// ResetPassword asks Graph to generate a new password. The result carries
// newPassword when Graph answers synchronously, otherwise the location of
// the pending operation.
func (g *Graph) ResetPassword(ctx context.Context, creds models.Credentials, id string) (Object, error) {
	out := Object{}
	hdr, err := g.call(ctx, creds, "reset password", request{
		method: http.MethodPost,
		path:   "users/" + url.PathEscape(id) + "/authentication/methods/" + passwordMethodID + "/resetPassword",
		body:   map[string]any{},
	}, &out)
	if err != nil {
		return nil, err
	}
	res := Object{}
	if pw, ok := out["newPassword"]; ok && pw != nil {
		res["newPassword"] = pw
	}
	if loc := hdr.Get("Location"); loc != "" {
		res["location"] = loc
	}
	return res, nil
}

func (g *Graph) ListGroups(ctx context.Context, creds models.Credentials) ([]any, error) {
	return g.list(ctx, creds, "list groups", "groups", nil, groupList)
}

func (g *Graph) GetGroup(ctx context.Context, creds models.Credentials, id string) (Object, error) {
	return g.object(ctx, creds, "get group", request{
		method: http.MethodGet,
		path:   "groups/" + url.PathEscape(id),
		query:  url.Values{"$select": {groupSelect}},
	})
}

func (g *Graph) GroupMembers(ctx context.Context, creds models.Credentials, id string) ([]any, error) {
	return g.list(ctx, creds, "group members", "groups/"+url.PathEscape(id)+"/members", nil, memberList)
}

// NewGroup is the create payload for a Microsoft 365 group.
type NewGroup struct {
	DisplayName  string `json:"displayName"`
	Description  string `json:"description"`
	MailNickname string `json:"mailNickname"`
}

func (g *Graph) CreateGroup(ctx context.Context, creds models.Credentials, ng NewGroup) (Object, error) {
	body := map[string]any{
		"description":     ng.Description,
		"displayName":     ng.DisplayName,
		"groupTypes":      []string{"Unified"},
		"mailEnabled":     true,
		"mailNickname":    ng.MailNickname,
		"securityEnabled": false,
	}
	created, err := g.object(ctx, creds, "create group", request{method: http.MethodPost, path: "groups", body: body})
	if err != nil {
		return nil, err
	}
	return groupObject.object(created)
}

func (g *Graph) DeleteGroup(ctx context.Context, creds models.Credentials, id string) error {
	_, err := g.call(ctx, creds, "delete group", request{method: http.MethodDelete, path: "groups/" + url.PathEscape(id)}, nil)
	return err
}

func (g *Graph) Domains(ctx context.Context, creds models.Credentials) ([]any, error) {
	return g.list(ctx, creds, "domains", "domains", nil, domainList)
}

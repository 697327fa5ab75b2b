package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/webfold/oauth-provider/instrumentation"
	"github.com/webfold/oauth-provider/security"
	"github.com/webfold/oauth-provider/server"
	"github.com/webfold/oauth-provider/storage"
)

const (
	defaultCORSMaxAge = 3600 // 1 hour preflight cache
	tokenTypeBearer   = "Bearer"
)

// Endpoint paths used by RegisterRoutes and the metadata document.
const (
	AuthorizationEndpointPath = "/authorize"
	TokenEndpointPath         = "/token"
	RevocationEndpointPath    = "/revoke"
	IntrospectionEndpointPath = "/introspect"
	RegistrationEndpointPath  = "/register"
	MetadataEndpointPath      = "/.well-known/oauth-authorization-server"
)

// ErrAuthorizationPending signals that a UserAuthorizationHandler has
// already written its own response (typically a redirect to a login page)
// and the authorization endpoint should produce none.
var ErrAuthorizationPending = errors.New("user authorization pending")

// UserAuthorizationHandler resolves the authenticated resource owner for a
// validated authorization request. The host application implements this to
// plug in its own session handling and consent flow.
//
// Return the user's stable identifier to approve the request. Return an
// empty string with a nil error to deny it (the client receives
// access_denied). Return ErrAuthorizationPending after writing a response,
// for example a redirect to a login page that will re-enter the
// authorization endpoint once the user has a session.
type UserAuthorizationHandler func(w http.ResponseWriter, r *http.Request, req *server.AuthorizationRequest) (string, error)

// Handler is a thin HTTP adapter for the OAuth server core. It handles
// wire parsing, client authentication plumbing, CORS, and response
// encoding, delegating all protocol decisions to server.Server.
type Handler struct {
	server    *server.Server
	authorize UserAuthorizationHandler
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewHandler creates a new HTTP handler over the server core.
func NewHandler(srv *server.Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: srv,
		logger: logger,
	}

	if srv.Instrumentation() != nil {
		h.tracer = srv.Instrumentation().Tracer("http")
	}

	return h
}

// SetUserAuthorizationHandler registers the host application's user
// authorization hook. Without one the authorization endpoint refuses all
// requests.
func (h *Handler) SetUserAuthorizationHandler(fn UserAuthorizationHandler) {
	h.authorize = fn
}

// RegisterRoutes mounts all endpoints on the given mux under their
// standard paths.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(AuthorizationEndpointPath, h.ServeAuthorization)
	mux.HandleFunc(TokenEndpointPath, h.ServeToken)
	mux.HandleFunc(RevocationEndpointPath, h.ServeTokenRevocation)
	mux.HandleFunc(IntrospectionEndpointPath, h.ServeTokenIntrospection)
	mux.HandleFunc(RegistrationEndpointPath, h.ServeClientRegistration)
	mux.HandleFunc(MetadataEndpointPath, h.ServeMetadata)
}

// ServeAuthorization handles the OAuth authorization endpoint. It
// validates the request, asks the registered UserAuthorizationHandler for
// the resource owner's verdict, and redirects back to the client with an
// authorization code and the state echoed unchanged.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.authorization")
		defer span.End()
		r = r.WithContext(ctx)
	}

	if r.Method == http.MethodOptions {
		h.serveCORSPreflight(w, r, r.URL.Query().Get("client_id"))
		return
	}
	if r.Method != http.MethodGet {
		h.recordHTTPMetrics(ctx, "authorization", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	req := &server.AuthorizationRequest{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		ResponseType:        q.Get("response_type"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}

	h.setCORSHeaders(w, r, req.ClientID)

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, req.ClientID),
		attribute.String(instrumentation.AttrPKCEMethod, req.CodeChallengeMethod),
	)

	// The client is non-nil exactly when the redirect URI has been
	// validated, which decides whether an error may travel by redirect
	// (RFC 6749 section 4.1.2.1).
	client, verr := h.server.ValidateAuthorizationRequest(ctx, req)
	if verr != nil {
		instrumentation.SetSpanError(span, verr.Code)
		if client != nil {
			h.recordHTTPMetrics(ctx, "authorization", r.Method, http.StatusFound, startTime)
			h.redirectError(w, r, req.RedirectURI, req.State, verr)
		} else {
			h.recordHTTPMetrics(ctx, "authorization", r.Method, verr.Status, startTime)
			h.writeError(w, verr)
		}
		return
	}

	if h.authorize == nil {
		h.logger.Error("Authorization request received but no user authorization handler is registered")
		h.recordHTTPMetrics(ctx, "authorization", r.Method, http.StatusFound, startTime)
		instrumentation.SetSpanError(span, "no user authorization handler")
		h.redirectError(w, r, req.RedirectURI, req.State,
			server.ErrServerError("authorization is not available"))
		return
	}

	userID, err := h.authorize(w, r, req)
	if errors.Is(err, ErrAuthorizationPending) {
		h.recordHTTPMetrics(ctx, "authorization", r.Method, http.StatusFound, startTime)
		instrumentation.SetSpanSuccess(span)
		return
	}
	if err != nil {
		h.logger.Error("User authorization handler failed", "client_id", req.ClientID, "error", err)
		h.recordHTTPMetrics(ctx, "authorization", r.Method, http.StatusFound, startTime)
		instrumentation.RecordError(span, err)
		h.redirectError(w, r, req.RedirectURI, req.State,
			server.ErrServerError("authorization failed"))
		return
	}

	code, err := h.server.Authorize(ctx, req, userID)
	if err != nil {
		aerr := server.AsError(err)
		h.logger.Warn("Authorization denied", "client_id", req.ClientID, "error", aerr.Code)
		h.recordHTTPMetrics(ctx, "authorization", r.Method, http.StatusFound, startTime)
		instrumentation.RecordError(span, err)
		h.redirectError(w, r, req.RedirectURI, req.State, aerr)
		return
	}

	redirect, err := codeRedirectURL(req.RedirectURI, code, req.State)
	if err != nil {
		// Unreachable when the redirect URI passed validation.
		h.recordHTTPMetrics(ctx, "authorization", r.Method, http.StatusInternalServerError, startTime)
		h.writeError(w, server.ErrServerError("failed to build redirect"))
		return
	}

	h.recordHTTPMetrics(ctx, "authorization", r.Method, http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)
	http.Redirect(w, r, redirect, http.StatusFound)
}

// ServeToken handles the OAuth token endpoint, dispatching on grant_type.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		h.serveCORSPreflight(w, r, "")
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, server.ErrInvalidRequest("failed to parse request"))
		return
	}

	h.setCORSHeaders(w, r, h.requestClientID(r))

	switch grantType := r.FormValue("grant_type"); grantType {
	case server.GrantTypeAuthorizationCode:
		h.handleAuthorizationCodeGrant(w, r)
	case server.GrantTypeRefreshToken:
		h.handleRefreshTokenGrant(w, r)
	case server.GrantTypeClientCredentials:
		h.handleClientCredentialsGrant(w, r)
	default:
		h.writeError(w, server.ErrUnsupportedGrantType(
			fmt.Sprintf("grant type %q is not supported", grantType)))
	}
}

func (h *Handler) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_exchange")
		defer span.End()
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)

	code := r.FormValue("code")
	redirectURI := r.FormValue("redirect_uri")
	codeVerifier := r.FormValue("code_verifier")

	if code == "" {
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "code missing")
		h.writeError(w, server.ErrInvalidRequest("code is required"))
		return
	}

	client, aerr := h.authenticateClient(ctx, r, clientIP)
	if aerr != nil {
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, aerr.Status, startTime)
		instrumentation.SetSpanError(span, "client authentication failed")
		h.writeError(w, aerr)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, client.ID),
		attribute.String(instrumentation.AttrClientType, client.Type),
	)

	grant, err := h.server.ExchangeAuthorizationCode(ctx, client, code, redirectURI, codeVerifier)
	if err != nil {
		aerr := server.AsError(err)
		h.logger.Warn("Token exchange failed",
			"client_id", client.ID, "ip", clientIP, "error", aerr.Code, "reason", aerr.Reason)
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, aerr.Status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "code exchange failed")
		h.writeError(w, aerr)
		return
	}

	h.logger.Info("Token exchange successful", "client_id", client.ID, "ip", clientIP)
	h.recordHTTPMetrics(ctx, "token", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	h.writeTokenResponse(w, grant)
}

func (h *Handler) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_refresh")
		defer span.End()
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)

	refreshToken := r.FormValue("refresh_token")
	if refreshToken == "" {
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "refresh_token missing")
		h.writeError(w, server.ErrInvalidRequest("refresh_token is required"))
		return
	}

	client, aerr := h.authenticateClient(ctx, r, clientIP)
	if aerr != nil {
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, aerr.Status, startTime)
		instrumentation.SetSpanError(span, "client authentication failed")
		h.writeError(w, aerr)
		return
	}

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, client.ID))

	grant, err := h.server.RefreshAccessToken(ctx, client, refreshToken, r.FormValue("scope"))
	if err != nil {
		aerr := server.AsError(err)
		h.logger.Warn("Token refresh failed",
			"client_id", client.ID, "ip", clientIP, "error", aerr.Code, "reason", aerr.Reason)
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, aerr.Status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "token refresh failed")
		h.writeError(w, aerr)
		return
	}

	h.recordHTTPMetrics(ctx, "token", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	h.writeTokenResponse(w, grant)
}

func (h *Handler) handleClientCredentialsGrant(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.client_credentials")
		defer span.End()
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)

	client, aerr := h.authenticateClient(ctx, r, clientIP)
	if aerr != nil {
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, aerr.Status, startTime)
		instrumentation.SetSpanError(span, "client authentication failed")
		h.writeError(w, aerr)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, client.ID),
		attribute.String(instrumentation.AttrGrantType, server.GrantTypeClientCredentials),
	)

	grant, err := h.server.ClientCredentialsGrant(ctx, client, r.FormValue("scope"))
	if err != nil {
		aerr := server.AsError(err)
		h.logger.Warn("Client credentials grant failed",
			"client_id", client.ID, "ip", clientIP, "error", aerr.Code, "reason", aerr.Reason)
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, aerr.Status, startTime)
		instrumentation.RecordError(span, err)
		h.writeError(w, aerr)
		return
	}

	h.recordHTTPMetrics(ctx, "token", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	h.writeTokenResponse(w, grant)
}

// ServeTokenRevocation handles the RFC 7009 token revocation endpoint.
// Revoking an unknown or foreign token still returns 200; only failed
// client authentication or a malformed request is an error.
func (h *Handler) ServeTokenRevocation(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_revocation")
		defer span.End()
	}

	if r.Method == http.MethodOptions {
		h.serveCORSPreflight(w, r, "")
		return
	}
	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "revoke", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics(ctx, "revoke", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "parse form failed")
		h.writeError(w, server.ErrInvalidRequest("failed to parse request"))
		return
	}

	h.setCORSHeaders(w, r, h.requestClientID(r))

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)

	token := r.FormValue("token")
	if token == "" {
		h.recordHTTPMetrics(ctx, "revoke", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "token missing")
		h.writeError(w, server.ErrInvalidRequest("token is required"))
		return
	}

	client, aerr := h.authenticateClient(ctx, r, clientIP)
	if aerr != nil {
		h.recordHTTPMetrics(ctx, "revoke", http.MethodPost, aerr.Status, startTime)
		instrumentation.SetSpanError(span, "client authentication failed")
		h.writeError(w, aerr)
		return
	}

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, client.ID))

	if err := h.server.RevokeToken(ctx, client, token, r.FormValue("token_type_hint")); err != nil {
		// RFC 7009 section 2.2: the response does not reflect storage
		// failures.
		h.logger.Error("Failed to revoke token", "client_id", client.ID, "ip", clientIP, "error", err)
		instrumentation.RecordError(span, err)
	}

	h.recordHTTPMetrics(ctx, "revoke", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.WriteHeader(http.StatusOK)
}

// ServeTokenIntrospection handles the RFC 7662 token introspection
// endpoint. Unknown, expired, and foreign tokens all produce
// {"active": false} so the endpoint cannot be used as a token oracle.
func (h *Handler) ServeTokenIntrospection(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_introspection")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "introspect", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics(ctx, "introspect", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "parse form failed")
		h.writeError(w, server.ErrInvalidRequest("failed to parse request"))
		return
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)

	token := r.FormValue("token")
	if token == "" {
		h.recordHTTPMetrics(ctx, "introspect", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "token missing")
		h.writeError(w, server.ErrInvalidRequest("token is required"))
		return
	}

	client, aerr := h.authenticateClient(ctx, r, clientIP)
	if aerr != nil {
		h.recordHTTPMetrics(ctx, "introspect", http.MethodPost, aerr.Status, startTime)
		instrumentation.SetSpanError(span, "client authentication failed")
		h.writeError(w, aerr)
		return
	}

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, client.ID))

	result, err := h.server.IntrospectToken(ctx, client, token, r.FormValue("token_type_hint"))
	if err != nil {
		aerr := server.AsError(err)
		h.logger.Error("Introspection failed", "client_id", client.ID, "ip", clientIP, "error", err)
		h.recordHTTPMetrics(ctx, "introspect", http.MethodPost, aerr.Status, startTime)
		instrumentation.RecordError(span, err)
		h.writeError(w, aerr)
		return
	}

	response := &IntrospectionResponse{Active: result.Active}
	if result.Active {
		response.Scope = result.Scope
		response.ClientID = result.ClientID
		response.Sub = result.UserID
		response.TokenType = result.TokenType
		response.Exp = result.ExpiresAt.Unix()
		response.Iat = result.IssuedAt.Unix()
	}

	h.recordHTTPMetrics(ctx, "introspect", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// ServeClientRegistration handles dynamic client registration (RFC 7591).
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.client_registration")
		defer span.End()
	}

	if r.Method == http.MethodOptions {
		h.serveCORSPreflight(w, r, "")
		return
	}
	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "register", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ClientRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.recordHTTPMetrics(ctx, "register", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "invalid request body")
		h.writeError(w, server.ErrInvalidRequest("invalid registration request body"))
		return
	}

	client, secret, err := h.server.RegisterClient(ctx, &server.ClientRegistration{
		Name:         req.ClientName,
		Type:         req.ClientType,
		RedirectURIs: req.RedirectURIs,
		GrantTypes:   req.GrantTypes,
		Scopes:       req.Scopes,
	})
	if err != nil {
		aerr := server.AsError(err)
		h.logger.Warn("Client registration failed", "client_name", req.ClientName, "error", err)
		h.recordHTTPMetrics(ctx, "register", http.MethodPost, aerr.Status, startTime)
		instrumentation.RecordError(span, err)
		h.writeError(w, aerr)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, client.ID),
		attribute.String(instrumentation.AttrClientType, client.Type),
	)
	h.recordHTTPMetrics(ctx, "register", http.MethodPost, http.StatusCreated, startTime)
	instrumentation.SetSpanSuccess(span)

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(&ClientRegistrationResponse{
		ClientID:         client.ID,
		ClientSecret:     secret,
		ClientIDIssuedAt: client.CreatedAt.Unix(),
		ClientName:       client.Name,
		ClientType:       client.Type,
		RedirectURIs:     client.RedirectURIs,
		GrantTypes:       client.GrantTypes,
		Scopes:           client.Scopes,
	})
}

// ServeMetadata handles the RFC 8414 authorization server metadata
// endpoint.
func (h *Handler) ServeMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.setCORSHeaders(w, r, "")
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.buildMetadata())
}

func (h *Handler) buildMetadata() *AuthorizationServerMetadata {
	issuer := strings.TrimSuffix(h.server.Config.Issuer, "/")

	challengeMethods := []string{server.PKCEMethodS256}
	if h.server.Config.AllowPlainPKCE {
		challengeMethods = append(challengeMethods, server.PKCEMethodPlain)
	}

	return &AuthorizationServerMetadata{
		Issuer:                issuer,
		AuthorizationEndpoint: issuer + AuthorizationEndpointPath,
		TokenEndpoint:         issuer + TokenEndpointPath,
		RegistrationEndpoint:  issuer + RegistrationEndpointPath,
		RevocationEndpoint:    issuer + RevocationEndpointPath,
		IntrospectionEndpoint: issuer + IntrospectionEndpointPath,
		ScopesSupported:       h.server.Config.SupportedScopes,
		ResponseTypesSupported: []string{
			server.ResponseTypeCode,
		},
		GrantTypesSupported: []string{
			server.GrantTypeAuthorizationCode,
			server.GrantTypeRefreshToken,
			server.GrantTypeClientCredentials,
		},
		TokenEndpointAuthMethodsSupported: []string{
			"client_secret_basic",
			"client_secret_post",
			"none",
		},
		CodeChallengeMethodsSupported: challengeMethods,
	}
}

// ==================== Helpers ====================

// requestClientID extracts the client identifier from Basic auth or the
// form body, preferring the header. Used where the client is not yet
// authenticated, e.g. for the origin policy lookup.
func (h *Handler) requestClientID(r *http.Request) string {
	if id, _, ok := r.BasicAuth(); ok && id != "" {
		return id
	}
	return r.FormValue("client_id")
}

// authenticateClient authenticates the requesting client from Basic auth
// or form credentials, preferring the header (RFC 6749 section 2.3.1).
func (h *Handler) authenticateClient(ctx context.Context, r *http.Request, clientIP string) (*storage.Client, *server.Error) {
	clientID := r.FormValue("client_id")
	clientSecret := r.FormValue("client_secret")
	if id, secret, ok := r.BasicAuth(); ok && id != "" {
		clientID = id
		clientSecret = secret
	}

	client, aerr := h.server.AuthenticateClient(ctx, clientID, clientSecret)
	if aerr != nil {
		h.logger.Warn("Client authentication failed",
			"client_id", clientID, "ip", clientIP, "reason", aerr.Reason)
		return nil, aerr
	}
	return client, nil
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, grant *server.TokenGrant) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	tokenType := grant.TokenType
	if tokenType == "" {
		tokenType = tokenTypeBearer
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(&TokenResponse{
		AccessToken:  grant.AccessToken,
		TokenType:    tokenType,
		ExpiresIn:    grant.ExpiresIn,
		RefreshToken: grant.RefreshToken,
		Scope:        grant.Scope,
	})
}

// writeError sends an OAuth error response body. The generic wire
// description goes to the client; the Reason stays in the logs.
func (h *Handler) writeError(w http.ResponseWriter, oauthErr *server.Error) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	// RFC 6749 section 5.2: a 401 from a client that authenticated via
	// the Authorization header must carry a matching challenge.
	if oauthErr.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth", charset="UTF-8"`)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oauthErr.Status)
	_ = json.NewEncoder(w).Encode(&ErrorResponse{
		Error:            oauthErr.Code,
		ErrorDescription: oauthErr.Description,
	})
}

// redirectError delivers an error to a validated redirect URI per RFC 6749
// section 4.1.2.1, echoing the state unchanged when present.
func (h *Handler) redirectError(w http.ResponseWriter, r *http.Request, redirectURI, state string, oauthErr *server.Error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		h.writeError(w, oauthErr)
		return
	}

	q := u.Query()
	q.Set("error", oauthErr.Code)
	if oauthErr.Description != "" {
		q.Set("error_description", oauthErr.Description)
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()

	http.Redirect(w, r, u.String(), http.StatusFound)
}

func codeRedirectURL(redirectURI, code, state string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// setCORSHeaders applies the origin policy to browser requests. The
// specific origin is echoed back, never "*", so the policy decision stays
// per-origin; Vary keeps shared caches from leaking one origin's headers
// to another.
func (h *Handler) setCORSHeaders(w http.ResponseWriter, r *http.Request, clientID string) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	if !h.server.IsOriginAllowed(r.Context(), clientID, origin) {
		h.logger.Debug("CORS request from disallowed origin", "origin", origin, "client_id", clientID)
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Add("Vary", "Origin")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", defaultCORSMaxAge))
}

// serveCORSPreflight answers an OPTIONS preflight. Preflights carry no
// form body, so the client identity may be unknown to the policy here; the
// actual request is still gated separately.
func (h *Handler) serveCORSPreflight(w http.ResponseWriter, r *http.Request, clientID string) {
	h.setCORSHeaders(w, r, clientID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, statusCode int, startTime time.Time) {
	inst := h.server.Instrumentation()
	if inst == nil || inst.Metrics() == nil {
		return
	}
	durationMs := float64(time.Since(startTime).Milliseconds())
	inst.Metrics().RecordHTTPRequest(ctx, method, endpoint, statusCode, durationMs)
}

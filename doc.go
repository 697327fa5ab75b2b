// Package oauth provides an embeddable OAuth 2.1 authorization server:
// authorization code grant with mandatory PKCE, refresh token rotation with
// reuse detection, client credentials, token revocation (RFC 7009),
// introspection (RFC 7662), and server metadata (RFC 8414).
//
// The package splits into a protocol core and a thin HTTP adapter. The core
// lives in the server subpackage and is transport-agnostic; Handler in this
// package maps it onto net/http endpoints. Storage is pluggable through the
// interfaces in the storage subpackage, with ready-made backends in
// storage/memory and storage/valkey.
//
// The host application owns user authentication. Handler never renders a
// login page; it calls the registered UserAuthorizationHandler to learn who
// the resource owner is and whether they consented, then finishes the flow:
//
//	store := memory.New(logger)
//	srv, err := server.New(store, store, store, &server.Config{
//		Issuer: "https://auth.example.com",
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	h := oauth.NewHandler(srv, logger)
//	h.SetUserAuthorizationHandler(func(w http.ResponseWriter, r *http.Request, req *server.AuthorizationRequest) (string, error) {
//		session, ok := sessions.Get(r)
//		if !ok {
//			http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.String()), http.StatusFound)
//			return "", oauth.ErrAuthorizationPending
//		}
//		return session.UserID, nil
//	})
//
//	mux := http.NewServeMux()
//	h.RegisterRoutes(mux)
//
// Cross-origin access is closed by default. Browser-based clients need an
// OriginPolicy on the server; see server.SetOriginPolicy.
package oauth

/*
Package server exposes the interpretation and credit operations over HTTP.

# Middleware

The chain built by New, outermost first:
 1. RequestIDMiddleware reuses a well-formed incoming X-Request-ID or
    generates a UUID, and echoes it on the response.
 2. LoggingMiddleware logs request start at debug and completion at a
    level chosen by status (5xx error, 4xx warn). Handlers attach fields
    with AddLogField and AddError.
 3. chi Timeout cancels the request context after Config.RequestTimeout.
 4. chi Recoverer turns panics into 500s.
 5. otelhttp opens the server span.

Routes mounted by API add their own layers:
  - AuthMiddleware on /v1 resolves the user from a bearer JWT, or from
    X-User-ID when no Authenticator is configured.
  - CreditHeadersMiddleware on /v1 writes X-Credits-* headers from the
    CreditInfo a handler stores with SetCredits.
  - InternalTokenMiddleware on /internal compares X-Internal-Token in
    constant time.

# Errors

Handlers return *domain.Error values through writeError, which renders
{"error": {...}} with the status from domain.HTTPStatus. Causes of
persistence errors are logged, never sent to the client.

# Example Usage

	srv := server.New(server.Config{Port: 8080}, logger)
	server.NewAPI(arbiter, ledger, reconciler,
		server.WithAuthenticator(authenticator),
		server.WithInternalToken(token),
	).Mount(srv.Router)
	srv.Start()
*/
package server

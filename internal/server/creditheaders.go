package server

import (
	"context"
	"net/http"
	"strconv"
	"sync"
)

// Credit headers report the wallet state after a metered request.
const (
	HeaderCreditsBalance   = "X-Credits-Balance"
	HeaderCreditsCost      = "X-Credits-Cost"
	HeaderCreditsRequired  = "X-Credits-Required"
	HeaderCreditsUnlimited = "X-Credits-Unlimited"
)

// creditInfoKey is the context key for the per-request credit holder.
type creditInfoKey struct{}

// CreditInfo is the wallet state a handler reports for the response.
type CreditInfo struct {
	Balance   int64
	Cost      int64
	Required  int64
	Unlimited bool
}

type creditHolder struct {
	mu   sync.Mutex
	info *CreditInfo
}

// SetCredits records info for CreditHeadersMiddleware to write. No-op
// outside the middleware.
func SetCredits(ctx context.Context, info CreditInfo) {
	if h, ok := ctx.Value(creditInfoKey{}).(*creditHolder); ok {
		h.mu.Lock()
		h.info = &info
		h.mu.Unlock()
	}
}

// GetCredits returns the info recorded for this request, or nil.
func GetCredits(ctx context.Context) *CreditInfo {
	if h, ok := ctx.Value(creditInfoKey{}).(*creditHolder); ok {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.info
	}
	return nil
}

// CreditHeadersMiddleware writes X-Credits-* headers from the info the
// handler recorded with SetCredits before the first byte is sent.
func CreditHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), creditInfoKey{}, &creditHolder{})
		r = r.WithContext(ctx)
		next.ServeHTTP(&creditResponseWriter{ResponseWriter: w, request: r}, r)
	})
}

// creditResponseWriter wraps ResponseWriter to write credit headers.
type creditResponseWriter struct {
	http.ResponseWriter
	request      *http.Request
	wroteHeaders bool
}

func (rw *creditResponseWriter) WriteHeader(code int) {
	rw.writeCreditHeaders()
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *creditResponseWriter) Write(b []byte) (int, error) {
	rw.writeCreditHeaders()
	return rw.ResponseWriter.Write(b)
}

func (rw *creditResponseWriter) writeCreditHeaders() {
	if rw.wroteHeaders {
		return
	}
	rw.wroteHeaders = true

	info := GetCredits(rw.request.Context())
	if info == nil {
		return
	}

	h := rw.Header()
	h.Set(HeaderCreditsBalance, strconv.FormatInt(info.Balance, 10))
	if info.Required > 0 {
		h.Set(HeaderCreditsRequired, strconv.FormatInt(info.Required, 10))
	} else {
		h.Set(HeaderCreditsCost, strconv.FormatInt(info.Cost, 10))
	}
	if info.Unlimited {
		h.Set(HeaderCreditsUnlimited, "true")
	}
}

package telegram

import (
	"net"
	"net/http"
	"time"

	"github.com/m3rciful/vatwatch/core/telegram/netutil"
)

const (
	// defaultClientTimeout bounds one Bot API call, long poll excluded.
	defaultClientTimeout = 30 * time.Second
	headerTimeout        = 5 * time.Second
	transportRetries     = 3
	transportBackoff     = 2 * time.Second
)

// BuildHTTPClient returns the client telebot uses for Bot API calls.
// pollTimeout is how long getUpdates may hold a request open, so both the
// header and overall deadlines are extended by it.
func BuildHTTPClient(pollTimeout time.Duration) *http.Client {
	pollTimeout = max(pollTimeout, 0)

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext
	tr.MaxIdleConnsPerHost = 10
	tr.IdleConnTimeout = 30 * time.Second
	tr.TLSHandshakeTimeout = 5 * time.Second
	tr.ResponseHeaderTimeout = headerTimeout + pollTimeout

	return &http.Client{
		Timeout:   defaultClientTimeout + pollTimeout,
		Transport: &retryTransport{base: tr, maxRetries: transportRetries, backoff: transportBackoff},
	}
}

// retryTransport repeats requests that failed before reaching Telegram
// (see netutil.ShouldRetry), waiting backoff*n before the n-th retry.
type retryTransport struct {
	base       http.RoundTripper
	maxRetries int
	backoff    time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	for n := 1; err != nil && n <= t.maxRetries && netutil.ShouldRetry(err); n++ {
		if werr := wait(req, t.backoff*time.Duration(n)); werr != nil {
			return nil, werr
		}
		next, rerr := rewind(req)
		if rerr != nil {
			return nil, err
		}
		resp, err = t.base.RoundTrip(next)
	}
	return resp, err
}

// rewind clones req with a fresh body. Requests whose body cannot be
// replayed are not retried.
func rewind(req *http.Request) (*http.Request, error) {
	next := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return next, nil
	}
	if req.GetBody == nil {
		return nil, http.ErrBodyReadAfterClose
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	next.Body = body
	return next, nil
}

func wait(req *http.Request, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-req.Context().Done():
		return req.Context().Err()
	case <-t.C:
		return nil
	}
}

package selfupdate

import (
	"context"
	"net/http"

	"github.com/FelixBucket/shticker-book-unwritten/errs"
)

// Requester is the out-of-scope HTTP fetch primitive the update driver
// depends on: a blocking "GET a URL" that surfaces the response status
// and body. The teacher's own selfupdate.go names this type
// (Requester, HTTPRequester) but doesn't define it in isolation; this
// is a concrete body in the same shape.
type Requester interface {
	Fetch(ctx context.Context, url string) (*http.Response, error)
}

// httpRequester is the default Requester, built directly on net/http.
type httpRequester struct {
	client *http.Client
}

func newHTTPRequester() *httpRequester {
	return &httpRequester{client: http.DefaultClient}
}

func (r *httpRequester) Fetch(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &errs.DownloadRequestError{Cause: err}
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &errs.DownloadRequestError{Cause: err}
	}
	return resp, nil
}

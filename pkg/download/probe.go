package download

import (
	"context"
	"fmt"
	"net/http"

	"github.com/replicate/rget/pkg/client"
	"github.com/replicate/rget/pkg/logging"
)

// probe asks for the size of the remote resource with a HEAD request and
// returns the URL after redirects.
func probe(ctx context.Context, c client.HTTPClient, url string) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return "", -1, fmt.Errorf("failed to create request for %s: %w", url, err)
	}

	resp, err := c.Do(req)
	if err != nil {
		return "", -1, fmt.Errorf("%w: %w", ErrProbe, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", -1, fmt.Errorf("%w: %w", ErrProbe, ErrUnexpectedHTTPStatus(resp.StatusCode))
	}

	trueURL := url
	if resp.Request != nil {
		trueURL = resp.Request.URL.String()
	}
	if trueURL != url {
		logger := logging.FromContext(ctx)
		logger.Info().Str("url", url).Str("redirect_url", trueURL).Msg("Redirect")
	}

	if resp.ContentLength <= 0 {
		return trueURL, -1, fmt.Errorf("%w: content length %d", ErrProbe, resp.ContentLength)
	}
	return trueURL, resp.ContentLength, nil
}

// Package upstream performs outbound HTTP calls to the identity provider and
// other upstream services.
//
// Every call gets its own deadline and its outcome is classified into a fixed
// set of kinds (see Kind). Rate limiting, server errors and timeouts are
// retried with exponential backoff starting at InitialDelay and doubling on
// each retry. A Retry-After header, or a retry_after / retryAfter field in a
// JSON body, replaces the computed delay for that one retry; such retries
// still count toward MaxRetries.
//
//	client := upstream.NewClient(http.DefaultClient, upstream.DefaultOptions())
//	resp, err := client.Do(ctx, upstream.Request{
//	    Operation: "token_exchange",
//	    Method:    http.MethodPost,
//	    URL:       tokenURL,
//	    Header:    http.Header{"Content-Type": {"application/x-www-form-urlencoded"}},
//	    Body:      []byte(form.Encode()),
//	})
//	if upstream.IsKind(err, upstream.KindRateLimited) {
//	    // retries exhausted
//	}
package upstream

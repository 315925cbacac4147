package ports

import "net/http"

// HTTPClient is the transport the Razorpay adapter and the outbound webhook
// notifier call through. *http.Client satisfies it; tests
// substitute a recording fake.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

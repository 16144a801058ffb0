package replicate

import (
	"bytes"
	"io"
	"net/http"

	replicatego "github.com/replicate/replicate-go"
)

// VerifyWebhook checks the webhook-id, webhook-timestamp and
// webhook-signature headers of a delivery against the signing secret.
// body is the already-read request body; r.Body is left readable.
func VerifyWebhook(r *http.Request, body []byte, secret string) (bool, error) {
	r.Body = io.NopCloser(bytes.NewReader(body))
	defer func() { r.Body = io.NopCloser(bytes.NewReader(body)) }()
	return replicatego.ValidateWebhookRequest(r, replicatego.WebhookSigningSecret{Key: secret})
}

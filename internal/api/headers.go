package api

// Header names of the payment protocol and the provider
const (
	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
	HeaderExposeHeaders   = "Access-Control-Expose-Headers"
	HeaderRequestID       = "X-Request-ID"

	HeaderProviderAPIKey  = "x-freepik-api-key"
	HeaderUpstreamStatus  = "x-apisix-upstream-status"
	HeaderUpstreamRequest = "x-request-id"

	HeaderWebhookID        = "webhook-id"
	HeaderWebhookTimestamp = "webhook-timestamp"
	HeaderWebhookSignature = "webhook-signature"
)

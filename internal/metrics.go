package internal

import "expvar"

var (
	deliveriesTotal   = expvar.NewInt("sdlcsquad_deliveries_total")
	signatureFailures = expvar.NewInt("sdlcsquad_signature_failures_total")
	handlerErrors     = expvar.NewInt("sdlcsquad_handler_errors_total")
	tokenRefreshes    = expvar.NewInt("sdlcsquad_token_refreshes_total")
	publishErrors     = expvar.NewMap("sdlcsquad_publish_errors_total")
)

func IncDelivery() {
	deliveriesTotal.Add(1)
}

func IncSignatureFailure() {
	signatureFailures.Add(1)
}

func IncHandlerError() {
	handlerErrors.Add(1)
}

func IncTokenRefresh() {
	tokenRefreshes.Add(1)
}

func IncPublishError(topic string) {
	publishErrors.Add(topic, 1)
}

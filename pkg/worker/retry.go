package worker

import "context"

// RetryDecision defines whether a message should be retried or Nacked.
type RetryDecision struct {
	Retry bool
	Nack  bool
}

// RetryPolicy defines a policy for retrying failed messages.
type RetryPolicy interface {
	OnError(ctx context.Context, evt *Event, err error) RetryDecision
}

// NoRetry Nacks failed messages without retrying.
type NoRetry struct{}

func (NoRetry) OnError(ctx context.Context, evt *Event, err error) RetryDecision {
	return RetryDecision{Retry: false, Nack: true}
}

// AckOnError drops failed messages so a poisoned event cannot wedge the
// topic.
type AckOnError struct{}

func (AckOnError) OnError(ctx context.Context, evt *Event, err error) RetryDecision {
	return RetryDecision{}
}

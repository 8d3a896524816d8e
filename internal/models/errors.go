package models

import "fmt"

// ValidationCode classifies why a request was rejected.
type ValidationCode string

const (
	InvalidCloud       ValidationCode = "InvalidCloud"
	InvalidEnvironment ValidationCode = "InvalidEnvironment"
	InvalidRegion      ValidationCode = "InvalidRegion"
	InvalidProject     ValidationCode = "InvalidProject"
	InvalidAction      ValidationCode = "InvalidAction"
	UnsafeDestroy      ValidationCode = "UnsafeDestroy"
)

// ValidationError rejects a malformed request before any side effect.
type ValidationError struct {
	Code   ValidationCode
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Reason)
}

// PartialApplyError reports an apply or destroy that mutated some resources
// and failed on others. It is captured into the result, never retried.
type PartialApplyError struct {
	Failed    int
	Succeeded int
}

func (e *PartialApplyError) Error() string {
	return fmt.Sprintf("partial apply failure: %d resources failed, %d succeeded", e.Failed, e.Succeeded)
}

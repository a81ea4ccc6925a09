package services

import (
	"github.com/buildforge/requestd/modules/workflow/domain/aggregates/request"
)

// Events published on the application bus after a command commits.

type RequestCreated struct {
	Request *request.Request
}

type RequestStateChanged struct {
	RequestID int64
	From      request.State
	To        request.State
	By        string
}

type ReviewChanged struct {
	RequestID int64
	Ref       request.ReviewRef
	State     request.ReviewState
	By        string
}

type RelationshipChanged struct {
	Project string
	Package string
}

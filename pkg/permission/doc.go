// Package permission implements the risk-aware authorization engine
// gating every tool, resource, and prompt invocation. It classifies
// requested operations by risk, negotiates user approval asynchronously
// with timeouts, and stores scoped, expiring, argument-fenced grants.
//
// The engine is the single owner of the permission store: grants, the
// bounded session set, and outstanding pending approvals all mutate
// under one lock, so concurrent identical calls share one prompt
// instead of raising duplicates.
package permission

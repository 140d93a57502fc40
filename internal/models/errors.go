package models

import "errors"

// Router and middleware lifecycle errors
var (
	ErrNotInitialized = errors.New("resilor: middleware not initialized")
	ErrAlreadyInit    = errors.New("resilor: middleware already initialized")
)

// Queue errors
var (
	ErrQueueFull         = errors.New("resilor: queue full")
	ErrRequestNotFound   = errors.New("resilor: queued request not found")
	ErrDuplicateIdemKey  = errors.New("resilor: idempotency key already pending")
	ErrRequestExpired    = errors.New("resilor: request expired")
	ErrMaxRetriesReached = errors.New("resilor: max retries exceeded")
)

// Transport errors
var (
	ErrTimeout        = errors.New("resilor: transport timeout")
	ErrTransportError = errors.New("resilor: transport error")
	ErrCircuitOpen    = errors.New("resilor: circuit breaker open")
)

// SMS errors
var (
	ErrSMSTooLarge         = errors.New("resilor: encoded SMS exceeds 160 characters")
	ErrSMSNotEligible      = errors.New("resilor: request is not SMS eligible")
	ErrSMSDisabled         = errors.New("resilor: SMS transport disabled")
	ErrSMSPermissionDenied = errors.New("resilor: SMS permission denied")
	ErrSMSSendFailed       = errors.New("resilor: failed to send SMS")
	ErrSMSRateLimited      = errors.New("resilor: SMS rate limited")
	ErrSMSCostRefused      = errors.New("resilor: SMS cost warning refused by caller")
)

// Package vortex implements the moderation resource endpoints: the
// violation and dispute lifecycle, authorized through the dynamic
// permission checker.
//
// # Lifecycle
//
// A violation is created by a moderator and never hard-deleted; expiry
// and overturning represent its end of life. A dispute moves through a
// small state machine:
//
//	pending --(approve)--> approved   (terminal)
//	pending --(reject)---> rejected   (terminal)
//
// Resolving a dispute as approved flips the associated violation's
// overturned flag; that resolution is the only dispute-driven path by
// which overturned changes. Both rows are updated inside one database
// transaction.
//
// # Visibility
//
// Only violations whose external moderation status is "approved" are
// eligible for update or dispute. Anything else reads as not-found, an
// intentional visibility boundary rather than a data-shape check. Users
// listing their own violations never see moderator-only fields.
//
// # Errors
//
// Every endpoint returns a stable, pre-defined message per error
// condition. Unexpected failures funnel through one converter that logs
// full context and replaces the error with a generic internal message.
package vortex

// Package api serves the execution service and the job queue over a JSON
// REST interface built on gin.
//
// Failures are returned as {"error":{"kind":...,"rule":...,"message":...}}
// with the status derived from the error kind: validation 400, not_found
// 404, timeout 504 and unexpected 500. The caller identity used for progress
// invalidation is read from the X-Caller-ID header.
package api

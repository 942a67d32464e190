package ledger

import "strings"

// Every ledger entry shares one unique request_id index. Each origin writes
// under its own prefix so an ID chosen by a client can never match one the
// server issued (job IDs, Stripe object IDs, admin grants).
const (
	jobRequestPrefix = "job:"
	useRequestPrefix = "use:"
)

// JobRequestID is the ledger request ID of a correlated generation job.
func JobRequestID(jobID string) string {
	return jobRequestPrefix + jobID
}

// UseRequestID scopes a client supplied request ID to its account.
func UseRequestID(userID, clientID string) string {
	return useRequestPrefix + userID + ":" + clientID
}

// ClientRequestID undoes UseRequestID for display. Other IDs pass through.
func ClientRequestID(userID, requestID string) string {
	return strings.TrimPrefix(requestID, useRequestPrefix+userID+":")
}

// Package registry integrates with the external identity registry used to
// verify voter records.
//
// Two concerns live here: the TokenCache, which owns the process-wide bearer
// token and single-flights its refresh, and the Client, which performs
// rate-limited verification calls and classifies their outcomes
// (verified, not found, ambiguous, transient). Both remote operations are
// treated as unreliable; transient conditions become retryable outcomes
// rather than hard errors.
package registry

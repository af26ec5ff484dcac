// Package consent tracks whether the visitor agreed to see labeling tasks.
//
// A Gate owns the opt-out flag and the cached consent answer for one page
// session. It never stores task data. Anonymize rewrites identifying fields
// of outgoing records into non-reversible digests.
package consent

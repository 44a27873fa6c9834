// Package api exposes the REST surface for submitting natural language
// commands, polling their execution state, and issuing access tokens.
package api

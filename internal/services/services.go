// Package services holds the concrete collaborators of the ask flow: session stores, the provider
// transport, model settings, conversation history and screen captures.
package services

const errLoggerKey = "error"

// ABOUTME: Package doc for connector authentication
// ABOUTME: HS256 JWTs binding each channel connector to its channel

// Package auth authenticates channel connectors with HS256 JWTs. Each
// token carries the connector id ("sub") and the one channel it may
// post messages for ("chan"); the gateway rejects inbound messages
// whose channel does not match the token. That keeps a compromised
// connector from forging thread identities on another channel.
package auth

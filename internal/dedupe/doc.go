// Package dedupe prevents duplicate processing of redelivered messages.
package dedupe

// Package api exposes the admin and command HTTP interface of the watcher.
//
// Operators trigger poll cycles and lookups over /v1; the chat front end
// forwards user messages to /v1/commands and relays the replies.
package api

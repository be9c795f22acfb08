// Package fanout turns conversation document changes into a per-user chat
// list and de-duplicated, mute-aware alerts.
//
// A Listener is created per signed-in user and owns its subscription,
// per-conversation workers and alert bookkeeping. There is no process-wide
// instance: Start begins listening and Stop tears everything down.
//
// Alert decisions are made by Decide, a pure function of the changed
// conversation, the viewer state and the last alert sent for that
// conversation.
package fanout

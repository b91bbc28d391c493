// Package room holds the state of one live interview room: the
// transcript, the recruiter takeover mode, panel visibility and the
// notice board. Inbound data messages are turned into state changes by
// the Dispatcher; everything else is a local operator action.
package room

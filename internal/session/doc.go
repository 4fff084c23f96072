// Package session manages one client's conversation with the remote agent.
//
// # Overview
//
// A Manager owns the current session id, the single live chat channel, the
// message list, the thinking trace of the current turn and the client-visible
// status. Everything is private state mutated only by the Manager's own
// operations and channel callbacks; consumers read it through accessors or
// subscribe to change events.
//
// # Status
//
// The status is a projection of the most recent lifecycle or frame event:
//
//	channel open  -> connected
//	channel close -> idle
//	step frame    -> thinking
//	token frame   -> streaming
//	done frame    -> connected
//
// Error frames and undecodable payloads never change it.
//
// # Supersession
//
// Every LoadSession, StartNewSession, Reconnect and Disconnect starts a new
// generation. History fetched or channel events delivered for an older
// generation are discarded, so a slow history response can never overwrite a
// newer session.
//
// # Sending before ready
//
// Text sent while a session is loading or its channel is still connecting is
// shown locally and queued. The queue is flushed in order once the channel
// opens; if the channel closes first, the queued text is reported through an
// EventSendDropped event.
package session

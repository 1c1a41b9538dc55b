// Package realtime authorizes websocket connections and broadcasts events to
// named groups.
//
// # Groups
//
// Group names are fixed: personal:<account_id>, dashboard, leaderboard,
// mentor:<id> and student:<id>. Every connection joins its personal group.
// Mentor and student topics require the account to be the named id or staff.
//
// # Connections
//
// The client passes its token as ?token=. With message auth enabled it may
// instead send {"type":"authenticate","token":"..."} as its first message.
// Failures before the upgrade answer 401 or 403; failures after it close the
// socket with a policy-violation status. Accepted connections receive a
// connection_established event, then every event published to their groups.
// {"type":"ping","timestamp":...} is answered with a pong echoing the
// timestamp.
//
// # Delivery
//
// Publish is at-most-once with no replay. A slow subscriber whose buffer is
// full misses events. RedisRelay forwards broadcasts between processes;
// membership stays local.
package realtime

/*
Package health provides liveness probing for sync peers.

Before attempting a sync, an instance can probe whether a peer's sync
endpoint is actually reachable, instead of discovering that mid-handshake
after the TLS and HMAC exchange already paid their cost. It implements two
checker types: HTTP and TCP.

# Architecture

	┌─────────────────────────────────────────────────┐
	│                Checker Interface                 │
	│  • Check(ctx) Result                             │
	│  • Type() CheckType                              │
	└────────┬──────────────────────────────────────────┘
	         │
	    ┌────┴──────┐
	    ▼           ▼
	┌────────┐  ┌──────┐
	│  HTTP  │  │ TCP  │
	│Checker │  │Checker│
	└────────┘  └──────┘
	     │          │
	     ▼          ▼
	  GET       Connect
	  /ping      :port

# Check Flow

Each Check call runs one probe. Config carries Interval, Retries and
StartPeriod, and Status.Update and Status.InStartPeriod apply them to a
stream of results, but nothing in this module schedules checks or makes a
sync skip a peer: `arhiv config check-peers` runs a single TCP check per
configured peer and reports the outcome.

# HTTP Checks

	Check Type: HTTP
	Configuration:
	├── URL: the peer's sync endpoint, e.g. https://peer.local:8443/ping
	├── Method: GET, POST, HEAD
	├── Headers: custom HTTP headers
	├── Expected Status: 200-399 (configurable)
	└── Timeout: 10 seconds

# TCP Checks

	Check Type: TCP
	Configuration:
	├── Address: host:port of the peer's sync listener
	└── Timeout: 5 seconds

A TCP check only proves the listener accepts connections; it does not
validate TLS or HMAC authentication, so a successful TCP check can still
be followed by a failed sync attempt if the peer's credentials changed.

# Status Tracking

Status tracks consecutive successes/failures per peer. It marks a peer
unhealthy only after the configured Retries consecutive failures, so a
single dropped packet doesn't mark a peer unreachable; a single success
marks it healthy again.
*/
package health

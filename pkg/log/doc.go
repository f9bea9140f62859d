/*
Package log provides structured logging for Arhiv using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
context-specific child loggers, configurable levels, and helper functions
for common logging patterns. All logs include timestamps and support
filtering by severity level.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Context Loggers                     │          │
	│  │  - WithComponent("sync")                    │          │
	│  │  - WithInstanceID("desktop-a1b2")            │          │
	│  │  - WithDocumentID("4f2a...")                 │          │
	│  │  - WithPeer("laptop-9f0e")                   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │  {"level":"info","component":"sync",        │          │
	│  │   "peer":"laptop-9f0e","time":"...",        │          │
	│  │   "message":"changeset applied"}            │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})
	log.Info("baza opened")

	syncLog := log.WithPeer("laptop-9f0e")
	syncLog.Info().Int("pulled", 3).Msg("sync completed")

	docLog := log.WithDocumentID(doc.ID)
	docLog.Warn().Msg("concurrent edit produced a conflict set")

# Security

Never log key material, passwords, or document contents — only ids,
revisions, and counts. A document's title or field values may themselves
be the user's private data.
*/
package log

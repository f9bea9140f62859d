/*
Package events provides an in-memory broadcast channel for Arhiv's three
store-level events: DocumentsChanged, BazaUnlocked, and SyncCompleted.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  Publisher → Event Channel (buffer: 100)                  │
	│       ↓                                                    │
	│  Broadcast Loop                                            │
	│       ↓                                                    │
	│  Subscriber Channels (buffer: 50 each)                    │
	│                                                            │
	└────────────────────────────────────────────────────────────┘

Publish waits only while the broker's 100-event channel is full (or until
Stop); the broadcast loop skips a subscriber whose buffer is full rather
than stalling the broker. This is fine for UI refresh hints — a
missed DocumentsChanged is harmless because the next one (or a manual
refresh) catches the same state.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for ev := range sub {
			switch ev.Type {
			case events.EventDocumentsChanged:
				refreshUI()
			case events.EventSyncCompleted:
				log.WithPeer(ev.Metadata["peer"]).Info().Msg("sync completed")
			}
		}
	}()

	broker.Publish(&events.Event{Type: events.EventDocumentsChanged})

# Integration Points

  - pkg/baza publishes DocumentsChanged after a commit or erasure, and
    BazaUnlocked when the advisory file lock is released.
  - pkg/sync publishes SyncCompleted after a sync round, whether or not it
    applied any changes.
*/
package events

/*
Package baza implements Arhiv's facade (spec.md §4.9): the single entry
point that owns a replica's schema, paths, event broker, and peer-discovery
holder, and exposes read-only connections and read-write transactions over
pkg/state. It is the only package that acquires the advisory file lock
(paths.Layout.LockFile) and the only one that knows how to go from "a
password and a directory" to a ready-to-query store.

Data flow (spec.md §2): a transaction stages an edit, pkg/schema validates
it against the current pkg/state view, pkg/state applies it in memory, and
on commit baza (a) appends the new snapshot into a pkg/container storage
container, (b) promotes any newly-referenced pkg/blob from staged to
committed, (c) rewrites the encrypted state mirror, all before releasing
the lock.
*/
package baza

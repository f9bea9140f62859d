/*
Package config loads Arhiv's on-disk configuration: the peer list
consulted by `arhiv sync`, KDF cost tuning, and sync timeout overrides
(spec.md §6 Environment, §5). It mirrors the teacher's reliance on
gopkg.in/yaml.v3 for on-disk config and the flag-default conventions
cmd/arhiv's cobra commands use.
*/
package config

// Package ir holds the vocabulary shared by every tandem package: entity
// kinds, change events, remote acknowledgements and the canonical JSON used
// to fingerprint record content.
//
// ir imports nothing internal, so the replica store, the gateways and the
// engine can all depend on it without cycles.
//
// Fingerprints never see floats. Money travels as int64 minor units and
// dates as strings, so the same logical content always hashes the same way.
package ir

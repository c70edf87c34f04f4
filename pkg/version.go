// Package catalogue holds build-level metadata shared by the binaries.
package catalogue

// Version is the release of the catalogue engine. It is independent of the
// on-disk schema version, see db.CurrentSchemaVersion.
const Version = "0.4.0"

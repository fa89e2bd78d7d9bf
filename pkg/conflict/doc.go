// Package conflict classifies resolved assets as new, already tracked, or
// colliding with files on disk, and obtains a replace-or-skip decision per
// conflicting asset via a pluggable Decider.
//
// Destination path construction is shared with the importer through
// DestinationDir/DestinationFilePath so detection and the real import
// always agree on where a file would land.
package conflict

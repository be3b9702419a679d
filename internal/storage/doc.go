// Package storage keeps the files a worker has received until the external
// converter picks them up.
//
// # Overview
//
// A worker accepts payloads over HTTP and must acknowledge them only once
// they are safely stored. Store is the contract the worker's receive
// handler depends on; Spool is the implementation on top of an afero
// filesystem, so production uses the OS filesystem and tests use an
// in-memory one:
//
//	spool, err := storage.NewSpool(afero.NewOsFs(), "/var/spool/palantir")
//	if err != nil {
//	    return err
//	}
//	if err := spool.Put("nfcapd.202410151200", body); err != nil {
//	    // reply {"result":"error"} so the producer retries elsewhere
//	}
//
// # Atomicity
//
// Put writes to a hidden temporary file in the spool directory and renames
// it into place. Hidden files are excluded from List and Stats, so a
// converter polling the directory never sees a half-written capture.
//
// # File Names
//
// Names come from the producer's "filename" query parameter. Empty names,
// names containing path separators and names starting with a dot are
// rejected with ErrInvalidFilename.
package storage

// Package storage moves job inputs and results between the worker and object
// storage.
//
// The production Store talks to S3 or an S3-compatible service through
// aws-sdk-go-v2. Download URLs are resolved to bucket and key the way the
// calling service builds them: the key is the URL path and the bucket comes
// from configuration. Failures are tagged with services.ErrDownload or
// services.ErrUpload.
package storage

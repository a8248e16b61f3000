// Package objectstore implements component C1: the narrow object-store
// RPC surface the core subsystems depend on (list buckets, list files,
// download, upload, delete). The concrete backend is S3-compatible,
// reached through aws-sdk-go-v2, since the spec's bucket/file/object-id
// vocabulary maps directly onto S3's bucket/key/ETag model.
package objectstore

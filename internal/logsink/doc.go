// Package logsink stores benchmark log files.
//
// A Sink receives finished logs by name. Local writes them into a directory,
// S3 uploads them with the aws-sdk-go-v2 upload manager, and MinIO targets
// S3-compatible endpoints. Open picks a sink from a URL:
//
//	./logs                      local directory
//	file:///var/log/npheap      local directory
//	s3://bucket/prefix          Amazon S3, credentials from the default chain
//	minio://host:9000/bucket/p  MinIO, credentials from MINIO_ACCESS_KEY and MINIO_SECRET_KEY
//
// Logs can be compressed on the way out with zstd or lz4; see NewWriter.
package logsink

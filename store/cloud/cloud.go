// Package cloud adds StorageBackend implementations over third-party
// object-storage SDKs (SPEC_FULL.md's domain-stack extension of spec
// §4.2's "multiple implementations... (local disk, segmented disk,
// mirror, network, RAM)"): S3, Google Cloud Storage, and Azure Blob
// Storage, registered under the "s3", "gs", and "az" schemes. Each
// backend treats ContainerID as the bucket/container name and BlobName
// as the object key, the same mapping the teacher's own
// ais/backend/{aws,gcp,azure}.go cloud providers use for aistore
// buckets.
/*
 * Copyright (c) 2024, Kiln Authors. All rights reserved.
 */
package cloud

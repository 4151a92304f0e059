package archive

import (
	"context"
	"fmt"
	"strings"
)

// newGCSSink is installed by the gcp build. Left nil otherwise.
var newGCSSink func(ctx context.Context, bucket, prefix string) (Sink, error)

// OpenSink builds a sink from an archive URL:
//
//	s3://bucket/prefix    S3 (region from AWS_REGION)
//	gs://bucket/prefix    Google Cloud Storage (gcp build tag)
//	/path or file:///path local directory
func OpenSink(ctx context.Context, rawURL, region string) (Sink, error) {
	switch {
	case strings.HasPrefix(rawURL, "s3://"):
		bucket, prefix := splitBucketURL(strings.TrimPrefix(rawURL, "s3://"))
		return NewS3Sink(ctx, S3Config{Bucket: bucket, Region: region, Prefix: prefix})
	case strings.HasPrefix(rawURL, "gs://"):
		if newGCSSink == nil {
			return nil, fmt.Errorf("archive: gs:// requires a build with the gcp tag")
		}
		bucket, prefix := splitBucketURL(strings.TrimPrefix(rawURL, "gs://"))
		return newGCSSink(ctx, bucket, prefix)
	case strings.HasPrefix(rawURL, "file://"):
		return NewFileSink(strings.TrimPrefix(rawURL, "file://"))
	case rawURL != "":
		return NewFileSink(rawURL)
	}
	return nil, fmt.Errorf("archive: empty archive url")
}

func splitBucketURL(rest string) (bucket, prefix string) {
	bucket, prefix, found := strings.Cut(rest, "/")
	if found && prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return bucket, prefix
}

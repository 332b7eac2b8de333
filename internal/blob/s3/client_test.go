package s3blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresBucketAndRegion(t *testing.T) {
	_, err := New(context.Background(), Config{Region: "us-east-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")

	_, err = New(context.Background(), Config{Bucket: "archives"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "region")
}

func TestWithSchemeDefaultsToHTTPS(t *testing.T) {
	assert.Equal(t, "https://minio.local:9000", withScheme("minio.local:9000"))
	assert.Equal(t, "http://minio.local:9000", withScheme("http://minio.local:9000"))
	assert.Equal(t, "https://r2.example.com", withScheme("https://r2.example.com"))
}

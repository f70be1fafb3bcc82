package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseS3Ref(t *testing.T) {
	bucket, key, err := parseS3Ref("s3://leads/audits/lead-1/abc.json")
	require.NoError(t, err)
	assert.Equal(t, "leads", bucket)
	assert.Equal(t, "audits/lead-1/abc.json", key)

	for _, bad := range []string{"", "leads/audits.json", "s3://", "s3://bucketonly", "s3://bucket/"} {
		_, _, err := parseS3Ref(bad)
		assert.Error(t, err, "ref %q", bad)
	}
}

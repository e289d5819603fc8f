package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupProviderKnown(t *testing.T) {
	p, err := LookupProvider("AWS")
	require.NoError(t, err)
	assert.Equal(t, "AWS S3", p.Name)
}

func TestLookupProviderUnknown(t *testing.T) {
	_, err := LookupProvider("not-a-provider")
	assert.Error(t, err)
}

func TestResolveEndpointAndRegionUsesTemplate(t *testing.T) {
	endpoint, region, err := ResolveEndpointAndRegion("digitalocean", "", "sfo3")
	require.NoError(t, err)
	assert.Equal(t, "https://sfo3.digitaloceanspaces.com", endpoint)
	assert.Equal(t, "sfo3", region)
}

func TestResolveEndpointAndRegionDefaultsRegion(t *testing.T) {
	_, region, err := ResolveEndpointAndRegion("aws", "https://s3.amazonaws.com", "")
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", region)
}

func TestValidateEndpointRejectsBadScheme(t *testing.T) {
	assert.Error(t, ValidateEndpoint("ftp://example.com"))
	assert.NoError(t, ValidateEndpoint("https://example.com"))
}

func TestRequiresPathStyleAddressing(t *testing.T) {
	assert.True(t, RequiresPathStyleAddressing("minio"))
	assert.False(t, RequiresPathStyleAddressing("aws"))
}

package account

import (
	"fmt"
	"net/url"
	"strings"
)

// Provider describes one S3-compatible backend an account can point
// at. Adapted from the teacher's internal/s3/providers.go table so a
// pool can mix providers across its accounts instead of running a
// single gateway against a single provider.
type Provider struct {
	Name              string
	DefaultEndpoint   string
	RequiresRegion    bool
	RequiresPathStyle bool
	DefaultRegion     string
	EndpointTemplate  string
}

// Providers is the set of S3-compatible backends a pool account may
// use, trimmed to the fields the account pool actually consults
// (region/endpoint resolution and path-style addressing).
var Providers = map[string]Provider{
	"aws": {
		Name: "AWS S3", DefaultEndpoint: "https://s3.amazonaws.com",
		RequiresRegion: true, DefaultRegion: "us-east-1",
	},
	"minio": {
		Name: "MinIO", DefaultEndpoint: "http://localhost:9000",
		RequiresPathStyle: true, DefaultRegion: "us-east-1",
	},
	"wasabi": {
		Name: "Wasabi", DefaultEndpoint: "https://s3.wasabisys.com",
		RequiresRegion: true, DefaultRegion: "us-east-1",
	},
	"hetzner": {
		Name: "Hetzner Storage Box", DefaultEndpoint: "https://your-storagebox.your-server.de",
		RequiresPathStyle: true, DefaultRegion: "nbg1",
	},
	"digitalocean": {
		Name: "DigitalOcean Spaces", DefaultEndpoint: "https://nyc3.digitaloceanspaces.com",
		RequiresRegion: true, DefaultRegion: "nyc3",
		EndpointTemplate: "https://%s.digitaloceanspaces.com",
	},
	"backblaze": {
		Name: "Backblaze B2", DefaultEndpoint: "https://s3.us-west-000.backblazeb2.com",
		RequiresRegion: true, RequiresPathStyle: true, DefaultRegion: "us-west-000",
		EndpointTemplate: "https://s3.%s.backblazeb2.com",
	},
	"cloudflare": {
		Name: "Cloudflare R2", DefaultEndpoint: "https://<account-id>.r2.cloudflarestorage.com",
		DefaultRegion: "auto",
	},
	"linode": {
		Name: "Linode Object Storage", DefaultEndpoint: "https://us-east-1.linodeobjects.com",
		RequiresRegion: true, DefaultRegion: "us-east-1",
		EndpointTemplate: "https://%s.linodeobjects.com",
	},
	"scaleway": {
		Name: "Scaleway Object Storage", DefaultEndpoint: "https://s3.fr-par.scw.cloud",
		RequiresRegion: true, DefaultRegion: "fr-par",
		EndpointTemplate: "https://s3.%s.scw.cloud",
	},
	"oracle": {
		Name: "Oracle Cloud Infrastructure", DefaultEndpoint: "https://objectstorage.us-ashburn-1.oraclecloud.com",
		RequiresRegion: true, DefaultRegion: "us-ashburn-1",
		EndpointTemplate: "https://objectstorage.%s.oraclecloud.com",
	},
	"idrive": {
		Name: "IDrive e2", DefaultEndpoint: "https://s3.us-west-2.idrivee2-29.com",
		RequiresRegion: true, RequiresPathStyle: true, DefaultRegion: "us-west-2",
		EndpointTemplate: "https://s3.%s.idrivee2-29.com",
	},
}

// LookupProvider returns the Provider for name (case-insensitive).
func LookupProvider(name string) (Provider, error) {
	if name == "" {
		return Provider{}, fmt.Errorf("provider name is required")
	}
	p, ok := Providers[strings.ToLower(name)]
	if !ok {
		return Provider{}, fmt.Errorf("unknown provider %q (known: %s)", name, strings.Join(providerNames(), ", "))
	}
	return p, nil
}

func providerNames() []string {
	names := make([]string, 0, len(Providers))
	for name := range Providers {
		names = append(names, name)
	}
	return names
}

// ResolveEndpointAndRegion fills in endpoint/region defaults for a
// provider when the caller didn't specify them explicitly.
func ResolveEndpointAndRegion(provider, endpoint, region string) (string, string, error) {
	p, err := LookupProvider(provider)
	if err != nil {
		return "", "", err
	}
	if endpoint == "" {
		if p.EndpointTemplate != "" && region != "" {
			endpoint = fmt.Sprintf(p.EndpointTemplate, region)
		} else {
			endpoint = p.DefaultEndpoint
		}
	}
	endpoint = normalizeEndpoint(endpoint)
	if region == "" {
		region = p.DefaultRegion
	}
	return endpoint, region, nil
}

func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	return strings.TrimSuffix(endpoint, "/")
}

// ValidateEndpoint checks that endpoint parses as a well-formed http(s) URL.
func ValidateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint must use http:// or https:// scheme")
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint must include a hostname")
	}
	return nil
}

// RequiresPathStyleAddressing reports whether provider needs
// path-style bucket addressing rather than virtual-hosted-style.
func RequiresPathStyleAddressing(provider string) bool {
	p, err := LookupProvider(provider)
	if err != nil {
		return false
	}
	return p.RequiresPathStyle
}

// ABOUTME: OAuth 2.0 Protected Resource Metadata (RFC 9728) for the tool surface
// ABOUTME: Advertises scopes and tool names visible to the requesting principal

package gateway

import (
	"slices"

	"github.com/2389/toolbridge/internal/discovery"
	"github.com/2389/toolbridge/internal/tool"
)

// ResourceMetadataPath is the well-known location of the metadata document.
const ResourceMetadataPath = "/.well-known/oauth-protected-resource"

// MetadataConfig holds the static parts of the metadata document.
type MetadataConfig struct {
	Resource             string
	ResourceName         string
	AuthorizationServers []string
}

// ResourceMetadata is the RFC 9728 document.
type ResourceMetadata struct {
	Resource                           string   `json:"resource"`
	AuthorizationServers               []string `json:"authorization_servers"`
	ScopesSupported                    []string `json:"scopes_supported"`
	BearerMethodsSupported             []string `json:"bearer_methods_supported"`
	AuthorizationDetailsTypesSupported []string `json:"authorization_details_types_supported"`
	ResourceName                       string   `json:"resource_name,omitempty"`
}

// BuildResourceMetadata computes the document for a discovery result.
func BuildResourceMetadata(cfg MetadataConfig, result *discovery.Result) ResourceMetadata {
	scopes := []string{}
	names := []string{}
	for _, e := range result.Entries() {
		names = append(names, e.Descriptor.ID)
		scopes = append(scopes, tool.RequirementFor(e.Extension).Scopes...)
	}
	slices.Sort(scopes)
	scopes = slices.Compact(scopes)
	slices.Sort(names)

	servers := slices.Clone(cfg.AuthorizationServers)
	if servers == nil {
		servers = []string{}
	}

	return ResourceMetadata{
		Resource:                           cfg.Resource,
		AuthorizationServers:               servers,
		ScopesSupported:                    scopes,
		BearerMethodsSupported:             []string{"header"},
		AuthorizationDetailsTypesSupported: names,
		ResourceName:                       cfg.ResourceName,
	}
}

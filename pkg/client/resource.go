package client

import (
	"fmt"
	"strings"
)

// Resource is a named collection exposed by the remote API.
type Resource string

const (
	ResourcePosts    Resource = "posts"
	ResourceComments Resource = "comments"
	ResourceAlbums   Resource = "albums"
	ResourcePhotos   Resource = "photos"
	ResourceTodos    Resource = "todos"
	ResourceUsers    Resource = "users"
)

// AllResources returns every known resource in declaration order.
func AllResources() []Resource {
	return []Resource{
		ResourcePosts,
		ResourceComments,
		ResourceAlbums,
		ResourcePhotos,
		ResourceTodos,
		ResourceUsers,
	}
}

// DefaultResources returns the resources fetched when none are requested.
func DefaultResources() []Resource {
	return []Resource{ResourcePosts, ResourceComments}
}

// Valid reports whether r is one of the known resources.
func (r Resource) Valid() bool {
	for _, known := range AllResources() {
		if r == known {
			return true
		}
	}
	return false
}

// ParseResource converts a case-insensitive name into a Resource.
func ParseResource(name string) (Resource, error) {
	r := Resource(strings.ToLower(strings.TrimSpace(name)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownResource, name)
	}
	return r, nil
}

// ParseResources converts a list of names, failing on the first unknown one.
func ParseResources(names []string) ([]Resource, error) {
	resources := make([]Resource, 0, len(names))
	for _, name := range names {
		r, err := ParseResource(name)
		if err != nil {
			return nil, err
		}
		resources = append(resources, r)
	}
	return resources, nil
}

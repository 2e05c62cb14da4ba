package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crashbisect/crashbisect/pkg/oracle"
)

func TestCleanFilters(t *testing.T) {
	containerFilters, imageFilters := cleanFilters()

	// Both listings stay coupled to the label the builder attaches
	assert.Contains(t, containerFilters.Get("label"), oracle.ContainerLabel+"=1", "Containers must be matched on the builder's label")
	assert.Contains(t, imageFilters.Get("label"), oracle.ContainerLabel+"=1", "Images must be matched on the builder's label")

	// Containers are narrowed to this tool's compile containers
	assert.Contains(t, containerFilters.Get("name"), oracle.ContainerNamePrefix, "Containers must be matched on the compile container name prefix")
	assert.Empty(t, imageFilters.Get("name"), "Images carry no name prefix to match on")
}

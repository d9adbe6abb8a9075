package domain

import (
	"testing"

	"queryengine/testutil"
)

// TestDomainDoesNotImportInternal keeps the domain free of service and
// backend packages; every backend depends on the domain, never the reverse.
func TestDomainDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "domain must not import internal packages")
	testutil.AssertNoDirectImports(t, ".", testutil.ModuleImportsExcept(), "domain must not import other module packages")
}

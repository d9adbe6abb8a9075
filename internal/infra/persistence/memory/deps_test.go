package memory

import (
	"testing"

	"queryengine/testutil"
)

func TestImportsAreDomainOrStdlib(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.ModuleImportsExcept("queryengine/pkg/domain"),
		"memory backend may only depend on the domain")
}

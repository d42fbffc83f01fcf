package sqlite

import (
	"go/build"
	"strings"
	"testing"
)

func TestImportsStayInPersistenceLayer(t *testing.T) {
	pkg, err := build.Default.ImportDir(".", 0)
	if err != nil {
		t.Fatalf("import dir: %v", err)
	}
	for _, imp := range pkg.Imports {
		if strings.HasPrefix(imp, "agentregistry/internal/core") || strings.HasPrefix(imp, "agentregistry/internal/adapters") {
			t.Fatalf("sqlite store must not depend on %s", imp)
		}
	}
}

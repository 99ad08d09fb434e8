// ABOUTME: Tests for version information
// ABOUTME: Ensures identification fields are defined and formatted
package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldsDefined(t *testing.T) {
	for name, v := range map[string]string{"Version": Version, "Product": Product, "Manufacturer": Manufacturer} {
		assert.NotEmpty(t, v, name)
		assert.Less(t, len(v), 100, "%s is unreasonably long", name)
	}
}

func TestVersionNotPlaceholder(t *testing.T) {
	for _, placeholder := range []string{"TODO", "FIXME", "XXX", "placeholder"} {
		assert.NotEqual(t, placeholder, Version)
		assert.NotEqual(t, placeholder, Product)
	}
}

func TestString(t *testing.T) {
	s := String()
	assert.True(t, strings.HasPrefix(s, Product+" "+Version))
	assert.Contains(t, s, "commit "+Commit)
}

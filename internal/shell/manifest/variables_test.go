package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpand(t *testing.T) {
	tests := []struct {
		name  string
		value string
		vars  map[string]string
		want  string
	}{
		{"plain", "build/release/lock", nil, "build/release/lock"},
		{"set", "${BUILD}/lock", map[string]string{"BUILD": "out"}, "out/lock"},
		{"default used", "${BUILD:-build/release}/lock", nil, "build/release/lock"},
		{"default ignored", "${BUILD:-build/release}/lock", map[string]string{"BUILD": "dist"}, "dist/lock"},
		{"empty default", "${EMPTY:-}", nil, ""},
		{"missing kept", "${MISSING}", map[string]string{}, "${MISSING}"},
		{"several", "${A}-${B:-2}", map[string]string{"A": "1"}, "1-2"},
		{"default with colon", "${URL:-http://127.0.0.1:8114}", nil, "http://127.0.0.1:8114"},
		{"not a placeholder", "$HOME and ${1BAD}", map[string]string{"HOME": "x"}, "$HOME and ${1BAD}"},
		{"empty", "", map[string]string{"A": "1"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Expand(tt.value, tt.vars))
		})
	}
}

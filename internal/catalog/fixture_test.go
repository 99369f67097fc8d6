package catalog_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivmfnal/metacat-sub001/internal/catalog"
)

func TestDecodeFixture_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "datasets:\n  - did: a:b\n    colour: red\n", "colour"},
		{"bare name", "datasets:\n  - did: b\n", "namespace:name"},
		{"cyclic parents", "datasets:\n  - did: a:x\n    parent: a:y\n  - did: a:y\n    parent: a:x\n", "cyclic"},
		{"unknown file parent", "datasets:\n  - did: a:d\nfiles:\n  - did: a:f\n    datasets: [a:d]\n    parents: [a:g]\n", "not in the fixture"},
		{"bad param", "queries:\n  - did: a:q\n    source: files from d\n    params: {x: [1]}\n", "parameter x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx, err := catalog.DecodeFixture(strings.NewReader(tt.yaml))
			if err == nil {
				err = fx.Apply(context.Background(), catalog.NewMemory())
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDecodeFixture_Empty(t *testing.T) {
	fx, err := catalog.DecodeFixture(strings.NewReader(""))
	require.NoError(t, err)
	assert.NoError(t, fx.Apply(context.Background(), catalog.NewMemory()))
}

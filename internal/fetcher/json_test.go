package fetcher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type indexHeader struct {
	Numero string `json:"numero"`
	Fecha  string `json:"fecha_publicacion"`
}

func TestDecodeJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    *indexHeader
		wantErr string
	}{
		{
			name: "unknown fields ignored",
			in:   `{"numero":"7100","fecha_publicacion":"02/03/2026","extra":true}`,
			want: &indexHeader{Numero: "7100", Fecha: "02/03/2026"},
		},
		{
			name: "trailing whitespace",
			in:   "{\"numero\":\"7101\"}\n\n",
			want: &indexHeader{Numero: "7101"},
		},
		{name: "truncated", in: `{"numero":`, wantErr: "json: decode object"},
		{name: "empty", in: "", wantErr: "json: decode object"},
		{name: "trailing html", in: `{"numero":"1"}<html>`, wantErr: "trailing data"},
		{name: "second object", in: `{"numero":"1"}{"numero":"2"}`, wantErr: "trailing data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeJSONObject[indexHeader](strings.NewReader(tt.in))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQdrantURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		host    string
		port    int
		useTLS  bool
		wantErr bool
	}{
		{name: "https with rest port maps to grpc", url: "https://xyz.cloud.qdrant.io:6333", host: "xyz.cloud.qdrant.io", port: 6334, useTLS: true},
		{name: "http localhost rest port", url: "http://localhost:6333", host: "localhost", port: 6334},
		{name: "explicit grpc port kept", url: "http://localhost:6334", host: "localhost", port: 6334},
		{name: "custom port kept", url: "https://q.internal:7443", host: "q.internal", port: 7443, useTLS: true},
		{name: "no port defaults to grpc", url: "http://qdrant", host: "qdrant", port: 6334},
		{name: "missing host", url: "not a url", wantErr: true},
		{name: "empty", url: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, useTLS, err := parseQdrantURL(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
			assert.Equal(t, tt.useTLS, useTLS)
		})
	}
}

package wsengine_test

import (
	"testing"

	"github.com/rpcwire/jsonrpc-ws/pkg/wsengine"
)

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		name string
		ep   wsengine.Endpoint
		want string
	}{
		{
			name: "hostname with path",
			ep:   wsengine.Endpoint{Host: "localhost", Port: 9998, Path: "/jsonrpc"},
			want: "ws://localhost:9998/jsonrpc",
		},
		{
			name: "ip address",
			ep:   wsengine.Endpoint{Host: "127.0.0.1", Port: 80, Path: "/"},
			want: "ws://127.0.0.1:80/",
		},
		{
			name: "ipv6 address is bracketed",
			ep:   wsengine.Endpoint{Host: "::1", Port: 9998, Path: "/jsonrpc"},
			want: "ws://[::1]:9998/jsonrpc",
		},
		{
			name: "empty path",
			ep:   wsengine.Endpoint{Host: "svc.local", Port: 8080},
			want: "ws://svc.local:8080",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ep.URL(); got != tt.want {
				t.Errorf("Endpoint.URL() = %q, want %q", got, tt.want)
			}
		})
	}
}

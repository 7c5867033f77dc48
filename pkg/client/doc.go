// Package client is documented at the top of client.go.
package client

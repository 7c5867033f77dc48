// Package supervisor is documented at the top of supervisor.go.
package supervisor

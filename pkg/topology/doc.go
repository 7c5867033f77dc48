// Package topology is documented at the top of config.go.
package topology

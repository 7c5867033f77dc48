// Package metrics is documented at the top of metrics.go.
package metrics

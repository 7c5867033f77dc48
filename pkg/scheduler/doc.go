// Package scheduler is documented at the top of scheduler.go.
package scheduler

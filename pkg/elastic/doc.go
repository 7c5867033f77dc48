// Package elastic is documented at the top of elastic.go.
package elastic

// Package usage assembles the metrics read model: index totals, per-target
// refresh state, and the capacity of the filesystem behind each target.
package usage

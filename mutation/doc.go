// Package mutation runs the writes of a list view and reconciles their
// results with the view's pending and selection sets.
//
// For every successful write the order is fixed: the sets are updated, then
// the resource tag is invalidated, then the user is notified. A failed write
// only releases its pending ids and reports the error.
package mutation

// Package progress provides ready-made pool.ProgressSink implementations: a
// terminal progress bar and an aggregated counter tracker whose snapshots
// can be polled or pushed to a callback.
package progress

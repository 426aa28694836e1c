// Package store defines the persistence contract for the catalog pipeline (items, discovery runs and hits,
// the refresh queue, thumbnails, taxonomy). Implementations live under internal/storage; this package must
// not import database drivers or concrete clients.
package store

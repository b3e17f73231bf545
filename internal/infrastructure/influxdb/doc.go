// Package influxdb provides InfluxDB connectivity for cuebox.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched point writing and health monitoring.
//
// # Purpose
//
// The engine records two kinds of time series when InfluxDB is enabled:
//   - "state": every committed state write (tags plugin, key)
//   - "automation_runs": one point per finished run (tags automation, status)
//
// Both carry a "site" tag when the site has an ID.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteStateChange("clock", "hour", 22)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via a
// callback (SetOnError). Connection and health check errors are returned
// directly.
package influxdb

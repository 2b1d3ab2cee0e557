// Package storage wires the partitioned market-data store: the columnar
// store, partition index, incremental merger and query service, behind one
// Service.
//
// Layout on disk is Hive-style, one Parquet file per partition:
//
//	{root}/prices/ticker={T}/year={YYYY}/data.parquet
//	{root}/fundamentals_quarterly/ticker={T}/data.parquet
//	{root}/fundamentals_annual/ticker={T}/data.parquet
//	{root}/metadata/{table}.parquet
//
// Partitions mutate only through the merge write path, which stages to a
// temporary file and publishes with an atomic rename. Concurrent readers
// during a write see either the old or the new partition, never a mix.
// Writes to different keys may run in parallel; writes to one key must be
// serialized by the caller.
package storage

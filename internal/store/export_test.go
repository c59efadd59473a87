package store

// LoadSnapshotTx exposes the transaction-scoped snapshot read to tests.
var LoadSnapshotTx = loadSnapshot

// Package async provides safe concurrent execution for background work.
//
// SafeGo runs fire-and-forget tasks (realtime notifications) with panic
// recovery, a timeout and structured error logging. Batch processes a slice
// with bounded concurrency and collects every error (mapping sync).
package async

// Short-lived key/value cache with a fixed TTL and purging.
//
// Includes an interface and implementations using redis and in-process memory.
//
// The runner uses it for stashed pre-evaluation results and for remembering
// which warnings a user has already seen.
package cachestore

// Package redis builds the Redis client shared by the run queue.
package redis

// Package store provides durable, field-level access to Redis hashes
//
// Every key written on behalf of a schedule shares the SCH:{schedule_id}
// prefix. Key-scoped proxies expose typed views over the schedule data,
// step, group, operation context and event hashes, and the removal proxy
// deletes everything a schedule ever wrote
package store

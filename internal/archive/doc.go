// Package archive keeps serialized schedule contexts in blob storage while
// their schedules are hibernated
package archive

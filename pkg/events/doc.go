/*
Package events is an in-memory pub/sub broker for topology and
replication events: node joined/left, leader changed, snapshot
started/finished. Subscribers get a buffered channel of *Event;
publish queues the event for a background loop and blocks only while
that 100-event queue is full, and a full subscriber buffer skips rather
than blocks the broadcaster.
*/
package events

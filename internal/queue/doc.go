// Package queue provides the unbounded FIFO used to hand events from the
// transport side of a chat session to its single delivery goroutine.
//
// Producers never block and never lose items; the ring doubles when full.
package queue

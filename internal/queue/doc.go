// Package queue provides the shared work queue that feeds the worker pool.
//
// The queue holds entity identifiers. Any number of workers race to take
// items; each item is handed out exactly once.
//
// # Termination
//
// Workers stop when the queue is closed and drained, never on an emptiness
// check alone:
//
//	q := queue.New("AAPL", "MSFT")
//	q.Close() // seeding finished
//
//	for {
//	    item, err := q.Next(ctx)
//	    if err == io.EOF {
//	        return // no more work
//	    }
//	    if err != nil {
//	        return // cancelled
//	    }
//	    process(item)
//	}
//
// Producers may keep calling Enqueue concurrently with consumers until they
// call Close.
package queue

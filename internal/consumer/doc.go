// Package consumer connects the worker to its RabbitMQ queue.
//
// Deliveries are consumed one at a time with manual acknowledgement. Each
// message is decoded into a job and handed to the workflow dispatcher; the
// consumer then settles it:
//   - undecodable messages and unknown commands are acknowledged and dropped
//   - dispatched jobs are acknowledged whatever their pipeline outcome
//   - dispatch errors and panics are negatively acknowledged with requeue
//
// Run keeps a connection open for the lifetime of the worker, reconnecting
// after broker restarts or network failures. Publish is the producer side
// used by operator tooling.
package consumer

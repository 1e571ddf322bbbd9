/*
Package workers is the public entry point of the actor runtime.

An ActorThread is a logical execution context with its own queue. Actors
are bound to a thread with BindActor, which returns a Ref whose Tell method
yields a front-end: a value implementing the actor interface whose methods
queue messages instead of running them. Front-ends are built by an
Eventizer registered per interface.

Two containers share that contract:

  - ThreadedWorkers runs each actor thread as an actor state on a
    core.Controller worker pool.
  - SingleThreadedWorkers runs everything on the goroutine calling
    ProcessEventsUntilIdle, for deterministic tests.

A message that panics is reported to the FailureHandler once and never
stops its thread.
*/
package workers

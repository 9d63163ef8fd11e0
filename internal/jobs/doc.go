// Package jobs runs agent queries asynchronously. A Service records submitted
// runs in a Store and publishes their ids to a Queue; a Processor drains the
// queue with a pool of workers and re-publishes retryable failures until the
// attempt budget is spent. Queue drivers exist for an in-process channel,
// Redis lists and RabbitMQ.
package jobs

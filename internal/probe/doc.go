// Package probe implements the health check capability behind the scheduler.
//
// A Prober is selected by the service spec's type tag:
//   - http — request the endpoint and classify by status code, optional body
//     substring, with cert_days_left metadata for HTTPS endpoints
//   - tcp — plain connect check for caches, databases, and brokers
//   - metrics — scrape a Prometheus text exposition and evaluate a
//     "field op value" condition against it
//
// Probers never return errors from Check: every failure mode is encoded in
// the Outcome (status down or degraded, error text verbatim) so the scheduler
// treats all outcomes uniformly.
package probe

// Package notify renders and delivers alerts for state transitions.
//
// The Dispatcher keeps one FIFO queue per service so a service's alerts are
// delivered in the order its transitions occurred, while notifiers for one
// transition and transitions for different services run concurrently. Each
// notifier applies its own retry policy (multiplicative backoff with a delay
// cap and per-attempt timeout); a notifier that exhausts its attempts is
// logged and recorded but never blocks the others.
//
// Delivery channels are selected by the notifier spec's type tag: webhook
// (generic JSON POST), slack, teams, and email (SMTP). Message text comes
// from the pure {{var}} template renderer in this package.
package notify

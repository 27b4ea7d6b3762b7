/*
Package events publishes domain events to in-process handlers and webhook
subscribers.

The bus keeps a typed handler registry. Publishing an event invokes every
handler registered for its type plus the subscribe-all handlers; the
webhook dispatcher is one such subscribe-all handler and fans the event
out to every active subscription whose event-type filter matches.

# Architecture

	┌──────────────────────── EVENT FLOW ─────────────────────────┐
	│                                                              │
	│  engine.ApprovePlan ──► Bus.Publish(plan.approved)           │
	│                              │                               │
	│               ┌──────────────┼──────────────┐                │
	│               ▼              ▼              ▼                │
	│      typed handlers   subscribe-all   Dispatcher.HandleEvent │
	│      (in-process)     handlers              │                │
	│                                   one goroutine per matching │
	│                                   subscription               │
	│                                             │                │
	│                              validate URL (SSRF policy)      │
	│                              open + verify signing secret    │
	│                              POST, retry 1s/2s/4s            │
	│                                                              │
	└──────────────────────────────────────────────────────────────┘

Dispatch is fire-and-forget: handler errors and delivery failures are
logged and counted, never surfaced to the publisher.

# Delivery Contract

Each delivery POSTs the JSON-encoded event. Headers:

	X-Ironlayer-Signature: sha256=<hex hmac of the body>
	X-Ironlayer-Event:     plan.approved
	X-Ironlayer-Delivery:  <delivery id>

The delivery id is stable across retries of the same event, so receivers
de-duplicate on it. A 2xx response is success; anything else retries with
exponential backoff (1s, 2s, 4s) up to three retries, then the failure is
logged with the subscription id.

Endpoints are validated against the SSRF policy before every dispatch, not
just at registration: the URL must be HTTPS (loopback HTTP in dev only) and
must not resolve to private, loopback, link-local, or otherwise reserved
addresses.

# Signing Secrets

Secrets are stored bcrypt-hashed; the dispatcher recovers the plaintext
from its AES-GCM sealed copy and refuses to sign unless the plaintext
matches the stored digest. Receivers verify with:

	if !events.VerifySignature(secret, body, r.Header.Get(events.HeaderSignature)) {
	    http.Error(w, "bad signature", http.StatusUnauthorized)
	    return
	}

# Integration Points

  - pkg/engine: publishes plan, run, model, and schedule events
  - pkg/storage: subscription source
  - pkg/security: opens sealed signing secrets
  - pkg/governance: webhook URL policy
  - pkg/metrics: delivery outcome counters
*/
package events

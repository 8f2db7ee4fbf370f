package redis

import "strings"

// Keyspace prefixes every key this service writes so several deployments can
// share one Redis.
type Keyspace string

const DefaultKeyspace Keyspace = "rentescrow"

// Key joins kind and parts with ':' under the keyspace. Blank parts are
// dropped.
func (k Keyspace) Key(kind string, parts ...string) string {
	var b strings.Builder
	b.WriteString(string(k))
	for _, part := range append([]string{kind}, parts...) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}

// IdempotencyKey namespaces dedup marks for a consumer or webhook scope.
func (c *Client) IdempotencyKey(scope, id string) string {
	return c.keyspace().Key("idempotency", scope, id)
}

// RateLimitKey namespaces fixed-window counters.
func (c *Client) RateLimitKey(scope string) string {
	return c.keyspace().Key("rate_limit", scope)
}

// LockKey namespaces leases such as the cron-worker lock.
func (c *Client) LockKey(name string) string {
	return c.keyspace().Key("lock", name)
}

func (c *Client) keyspace() Keyspace {
	if c == nil || c.keys == "" {
		return DefaultKeyspace
	}
	return c.keys
}

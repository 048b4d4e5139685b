package rabbitmq

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// headerInt reads an integer header of any AMQP integer width.
func headerInt(headers amqp.Table, key string) (int64, bool) {
	if headers == nil {
		return 0, false
	}
	v, ok := headers[key]
	if !ok {
		return 0, false
	}
	return toInt64(v)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > 1<<63-1 {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}

// releaseCount reads numberOfReleases, falling back to the legacy x-numberOfReleases.
func releaseCount(headers amqp.Table) int {
	if n, ok := headerInt(headers, headerNumberOfReleases); ok && n >= 0 {
		return int(n)
	}
	if n, ok := headerInt(headers, headerLegacyNumberOfReleases); ok && n >= 0 {
		return int(n)
	}
	return 0
}

// deathCount reads x-death[0].count as set by the broker on dead-lettering.
func deathCount(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	deaths, ok := headers[headerDeath].([]interface{})
	if !ok || len(deaths) == 0 {
		return 0
	}
	first, ok := deaths[0].(amqp.Table)
	if !ok {
		return 0
	}
	if n, ok := toInt64(first["count"]); ok && n >= 0 {
		return int(n)
	}
	return 0
}

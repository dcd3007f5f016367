package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "spc"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanPolicyUpdate — сигнал подписчикам, что активная политика изменилась.
	// Формат сообщения: "<action>:<profile_identifier>".
	RedisChanPolicyUpdate = RedisNamespace + ":policy-update"
)

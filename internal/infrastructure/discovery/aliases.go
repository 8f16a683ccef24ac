package discovery

import "github.com/thetolkienblack/home-lab-automation/internal/domain/migration"

// Accepted configuration keys per credential field, in priority order.
var (
	databaseKeys = []string{"DB_NAME", "DB_DATABASE", "DATABASE", "DATABASE_NAME", "POSTGRES_DB", "MYSQL_DATABASE", "MARIADB_DATABASE"}
	userKeys     = []string{"DB_USER", "DB_USERNAME", "USER", "DATABASE_USER", "POSTGRES_USER", "MYSQL_USER", "MARIADB_USER"}
	passwordKeys = []string{"DB_PASSWORD", "DB_PASS", "PASSWORD", "DATABASE_PASSWORD", "POSTGRES_PASSWORD", "MYSQL_PASSWORD", "MARIADB_PASSWORD"}
	rootKeys     = []string{"DB_ROOT_PASSWORD", "ROOT_PASSWORD", "POSTGRES_ROOT_PASSWORD", "POSTGRES_ADMIN_PASSWORD", "MYSQL_ROOT_PASSWORD", "MARIADB_ROOT_PASSWORD"}
	portKeys     = []string{"DB_PORT", "DATABASE_PORT", "POSTGRES_PORT", "MYSQL_PORT"}

	redisHintKeys     = []string{"REDIS_HOST", "REDIS_URL", "REDIS_PASSWORD", "REDIS_PORT", "REDIS_DB", "CACHE_HOST"}
	redisPasswordKeys = []string{"REDIS_PASSWORD", "REDIS_PASS", "CACHE_PASSWORD"}
	redisIndexKeys    = []string{"REDIS_DB", "REDIS_DATABASE", "REDIS_INDEX"}
	redisPortKeys     = []string{"REDIS_PORT"}

	engineHintKeys = []string{"DB_TYPE", "DB_ENGINE", "DB_CONNECTION", "DATABASE_TYPE"}
)

// containerKeys lists the keys naming the source container of each engine.
var containerKeys = map[migration.EngineKind][]string{
	migration.EnginePostgres: {"POSTGRES_CONTAINER", "DB_CONTAINER"},
	migration.EngineMySQL:    {"MYSQL_CONTAINER", "MARIADB_CONTAINER", "DB_CONTAINER"},
	migration.EngineRedis:    {"REDIS_CONTAINER", "CACHE_CONTAINER"},
}

// imageHints are matched against container images when resolving by compose project.
var imageHints = map[migration.EngineKind][]string{
	migration.EnginePostgres: {"postgres"},
	migration.EngineMySQL:    {"mysql", "mariadb"},
	migration.EngineRedis:    {"redis", "valkey"},
}

// namePrefixes mark keys that tie a service to one relational engine.
var namePrefixes = map[migration.EngineKind][]string{
	migration.EnginePostgres: {"POSTGRES_", "PG"},
	migration.EngineMySQL:    {"MYSQL_", "MARIADB_"},
}

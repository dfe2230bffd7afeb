// Package constants provides centralized definitions of constants used throughout the application
package constants

// Environment variable names
const (
	// EnvPort is the port the worker HTTP server listens on
	EnvPort = "PORT"
	// EnvLogLevel is the logrus level name
	EnvLogLevel = "LOG_LEVEL"

	// EnvGCPProject is the Google Cloud project hosting the Pub/Sub topic
	EnvGCPProject = "GCP_PROJECT"
	// EnvPubSubTopic is the topic job messages are published to
	EnvPubSubTopic = "PUBSUB_TOPIC"
	// EnvTransport selects the message transport (pubsub, rabbitmq, memory)
	EnvTransport = "TRANSPORT"

	// EnvAMQPURL is the RabbitMQ connection URL
	EnvAMQPURL = "AMQP_URL"
	// EnvAMQPExchange is the RabbitMQ exchange name
	EnvAMQPExchange = "AMQP_EXCHANGE"
	// EnvAMQPQueue is the RabbitMQ queue name
	EnvAMQPQueue = "AMQP_QUEUE"
	// EnvAMQPRoutingKey is the RabbitMQ routing key
	EnvAMQPRoutingKey = "AMQP_ROUTING_KEY"

	// EnvDBDriver selects the job record store driver (postgres, sqlite)
	EnvDBDriver = "DB_DRIVER"
	// EnvDBHost is the database host
	EnvDBHost = "DB_HOST"
	// EnvDBPort is the database port
	EnvDBPort = "DB_PORT"
	// EnvDBUser is the database user
	EnvDBUser = "DB_USER"
	// EnvDBPassword is the database password
	EnvDBPassword = "DB_PASSWORD"
	// EnvDBName is the database name
	EnvDBName = "DB_NAME"
	// EnvDBSSLMode is the postgres sslmode
	EnvDBSSLMode = "DB_SSL_MODE"
	// EnvSQLitePath is the sqlite database file
	EnvSQLitePath = "SQLITE_PATH"

	// EnvPubSubVerify toggles bearer token verification on the push endpoint
	EnvPubSubVerify = "PUBSUB_VERIFY"
	// EnvPubSubAudience is the expected token audience
	EnvPubSubAudience = "PUBSUB_AUDIENCE"
	// EnvPubSubServiceAccount is the expected token principal
	EnvPubSubServiceAccount = "PUBSUB_SERVICE_ACCOUNT"
	// EnvAuthMode selects the token verifier (google, hmac)
	EnvAuthMode = "AUTH_MODE"
	// EnvAuthHMACSecret is the shared secret for the hmac verifier
	EnvAuthHMACSecret = "AUTH_HMAC_SECRET"
	// EnvAuthIssuers is a comma separated list of accepted token issuers
	EnvAuthIssuers = "AUTH_ISSUERS"

	// EnvMaxAttempts is the consecutive failure ceiling per task
	EnvMaxAttempts = "MAX_ATTEMPTS"
	// EnvRetryDelayMode selects how retry delays are applied (inline, timer, redis)
	EnvRetryDelayMode = "RETRY_DELAY_MODE"
	// EnvTaskLease is how long a task claim blocks concurrent deliveries
	EnvTaskLease = "TASK_LEASE"

	// EnvRedisAddr is the redis address used by the delayed retry scheduler
	EnvRedisAddr = "REDIS_ADDR"
	// EnvRedisPassword is the redis password
	EnvRedisPassword = "REDIS_PASSWORD"
	// EnvRedisDB is the redis logical database
	EnvRedisDB = "REDIS_DB"

	// EnvReconcileSchedule is the cron schedule for stale job reconciliation
	EnvReconcileSchedule = "RECONCILE_SCHEDULE"
	// EnvReconcileStaleAfter is the idle time after which a job is considered stale
	EnvReconcileStaleAfter = "RECONCILE_STALE_AFTER"

	// EnvServerAddress is the API address used by the CLI
	EnvServerAddress = "TOWNREADY_SERVER_ADDRESS"
)

package main

import (
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	_ "github.com/lib/pq"

	"github.com/webpods-org/webpods/core/access"
	"github.com/webpods-org/webpods/core/backend"
	"github.com/webpods-org/webpods/core/blob"
	"github.com/webpods-org/webpods/core/cache"
	"github.com/webpods-org/webpods/core/csql"
	"github.com/webpods-org/webpods/core/logger"
	"github.com/webpods-org/webpods/core/ratelimit"
)

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker"
type Service struct {
	Postgres         string `env:"POSTGRES,required" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
	Host             string `env:"HOST,default=localhost.webpods.io" description:"the main host; pods are served as {pod}.HOST"`
	Port             string `env:"PORT,default=3000" description:"the port to listen on"`
	JwtSecret        string `env:"JWT_SECRET,required" description:"the HMAC secret shared with the token issuer"`
	JwtIssuer        string `env:"JWT_ISSUER,default=webpods" description:"the accepted JWT issuer"`
	AllowedHeaders   string `env:"ALLOWED_HEADERS,optional" description:"comma separated custom record headers"`
	RedisAddr        string `env:"REDIS_ADDR,optional" description:"redis address for the shared cache; empty uses the in-process cache"`
	RedisPassword    string `env:"REDIS_PASSWORD,optional" description:"password for the redis cache"`
	RateLimiter      string `env:"RATE_LIMITER,default=memory" description:"rate limiter backend: memory or postgres"`
	StorageDriver    string `env:"STORAGE_DRIVER,optional" description:"external blob storage driver: local or s3; empty keeps all content in the database"`
	StorageBasePath  string `env:"STORAGE_BASE_PATH,optional" description:"base directory of the local storage driver"`
	StoragePublicURL string `env:"STORAGE_PUBLIC_URL,optional" description:"public base URL of the local storage driver"`
	S3Region         string `env:"S3_REGION,optional" description:"region of the S3 storage bucket"`
	S3Bucket         string `env:"S3_BUCKET,optional" description:"name of the S3 storage bucket"`
	S3AccessID       string `env:"S3_ACCESS_ID,optional" description:"access key id for the S3 storage bucket"`
	S3AccessKey      string `env:"S3_ACCESS_KEY,optional" description:"access key for the S3 storage bucket"`
	S3KeyPrefix      string `env:"S3_KEY_PREFIX,optional" description:"key prefix inside the S3 storage bucket"`
	KafkaBrokers     string `env:"KAFKA_BROKERS,optional" description:"comma separated Kafka brokers for record event notifications"`
	KafkaTopic       string `env:"KAFKA_TOPIC,default=webpods_records" description:"Kafka topic for record event notifications"`
	LogLevel         string `env:"LOG_LEVEL,default=info" description:"log level"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	level, err := logrus.ParseLevel(service.LogLevel)
	if err != nil {
		panic(err)
	}
	logger.InitLogger(level)

	db := csql.OpenWithSchema(service.Postgres, service.PostgresPassword, "webpods")
	defer db.Close()
	if err := access.EnsureAuthRelations(db); err != nil {
		panic(err)
	}

	var recordCache cache.Cache
	if service.RedisAddr != "" {
		recordCache, err = cache.NewRedis(service.RedisAddr, service.RedisPassword, cache.Configuration{})
		if err != nil {
			panic(err)
		}
	} else {
		recordCache = cache.NewMemory(cache.Configuration{})
	}

	var limiter ratelimit.Limiter
	switch service.RateLimiter {
	case "postgres":
		limiter, err = ratelimit.NewPostgresFixedWindow(db, ratelimit.DefaultLimits)
		if err != nil {
			panic(err)
		}
	case "memory":
		limiter = ratelimit.NewMemorySlidingWindow(ratelimit.DefaultLimits)
	default:
		panic("unknown rate limiter backend " + service.RateLimiter)
	}

	var storage blob.Driver
	switch blob.DriverType(service.StorageDriver) {
	case blob.DriverTypeLocal:
		storage, err = blob.NewLocalFilesystem(blob.LocalConfiguration{
			BasePath:  service.StorageBasePath,
			PublicURL: service.StoragePublicURL,
		})
		if err != nil {
			panic(err)
		}
	case blob.DriverTypeAWSS3:
		storage, err = blob.NewS3(blob.S3Configuration{
			AWSRegion:     service.S3Region,
			AWSBucketName: service.S3Bucket,
			AccessID:      service.S3AccessID,
			AccessKey:     service.S3AccessKey,
			KeyPrefix:     service.S3KeyPrefix,
		})
		if err != nil {
			panic(err)
		}
	case blob.None:
	default:
		panic("unknown storage driver " + service.StorageDriver)
	}

	var notifier backend.Notifier
	if service.KafkaBrokers != "" {
		notifier = backend.NewKafkaNotifier(strings.Split(service.KafkaBrokers, ","), service.KafkaTopic)
	}

	router := mux.NewRouter()
	logger.AddRequestID(router)
	router.Use(access.NewJwtMiddleware(&access.JwtMiddlewareBuilder{
		Secret: []byte(service.JwtSecret),
		Issuer: service.JwtIssuer,
	}))
	router.Use(access.NewSessionMiddleware(db))

	allowedHeaders := []string{}
	if service.AllowedHeaders != "" {
		allowedHeaders = strings.Split(service.AllowedHeaders, ",")
	}
	configuration, _ := json.Marshal(map[string]interface{}{
		"host":            service.Host,
		"allowed_headers": allowedHeaders,
	})

	b := backend.New(&backend.Builder{
		Config:   string(configuration),
		DB:       db,
		Router:   router,
		Cache:    recordCache,
		Limiter:  limiter,
		Storage:  storage,
		Notifier: notifier,
	})
	defer b.Shutdown()

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders(append([]string{"Authorization", "Content-Type"}, allowedHeaders...)),
	)

	logger.Default().Infoln("listen on port :" + service.Port)
	logger.Default().WithError(http.ListenAndServe(":"+service.Port, cors(router))).Fatalln("server stopped")
}

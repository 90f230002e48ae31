package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/wave-research/wave/core/access"
	"github.com/wave-research/wave/core/backend"
	"github.com/wave-research/wave/core/csql"
	"github.com/wave-research/wave/core/events"
	"github.com/wave-research/wave/core/logger"
)

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres password=docker dbname=postgres sslmode=disable"
type Service struct {
	Postgres     string `env:"POSTGRES,required" description:"the connection string for the Postgres DB"`
	Port         string `env:"PORT,default=3000" description:"the port the service listens on"`
	LogLevel     string `env:"LOG_LEVEL,default=info" description:"the log level (debug, info, warning, error)"`
	AuthBaseURL  string `env:"WAVE_AUTH_BASE_URL,default=" description:"the base url of the key service; empty disables authorization"`
	AuthAPIID    string `env:"WAVE_APP_ID,default=" description:"the key service api id"`
	AuthCacheTTL int    `env:"WAVE_AUTH_CACHE_TTL,default=300" description:"how long verified keys are cached, in seconds"`
	AuthTimeout  int    `env:"WAVE_AUTH_TIMEOUT,default=10" description:"key service request timeout, in seconds"`
	KafkaBrokers string `env:"KAFKA_BROKERS,default=" description:"comma separated kafka brokers; empty disables notifications"`
	KafkaTopic   string `env:"KAFKA_TOPIC,default=wave-events" description:"the kafka topic for change notifications"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	level, err := logrus.ParseLevel(service.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.InitLogger(level)
	rlog := logger.Default()

	db := csql.OpenWithSchema(service.Postgres, "wave")
	defer db.Close()

	var notifier events.Notifier = events.NullNotifier{}
	if service.KafkaBrokers != "" {
		kafkaNotifier := events.NewKafkaNotifier(strings.Split(service.KafkaBrokers, ","), service.KafkaTopic)
		defer kafkaNotifier.Close()
		notifier = kafkaNotifier
	}

	var keyClient *access.KeyClient
	if service.AuthBaseURL != "" {
		keyClient = access.NewKeyClient(&access.KeyClientBuilder{
			BaseURL:  service.AuthBaseURL,
			APIID:    service.AuthAPIID,
			CacheTTL: time.Duration(service.AuthCacheTTL) * time.Second,
			Timeout:  time.Duration(service.AuthTimeout) * time.Second,
		})
	} else {
		rlog.Warningln("no key service configured, authorization is disabled")
	}

	router := mux.NewRouter()
	logger.AddRequestID(router)
	backend.New(&backend.Builder{
		DB:                db,
		Router:            router,
		Notifier:          notifier,
		KeyClient:         keyClient,
		EnableCORS:        true,
		EnableCompression: true,
	})

	rlog.Infoln("listen on port :" + service.Port)
	if err := http.ListenAndServe(":"+service.Port, router); err != nil {
		rlog.Fatalln(err)
	}
}

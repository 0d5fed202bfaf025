package main

import (
	"net/http"

	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/gorilla/mux"

	"github.com/evidenceindex/research-api/core/api"
	"github.com/evidenceindex/research-api/core/csql"
	"github.com/evidenceindex/research-api/core/events"
	"github.com/evidenceindex/research-api/core/logger"
	"github.com/evidenceindex/research-api/core/postgrest"
	"github.com/evidenceindex/research-api/core/store"
)

// Service holds the configuration for this service.
//
// The dataset can be served from a managed PostgREST instance
// (POSTGREST_URL) or straight from a Postgres database (POSTGRES), e.g.
// POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker"
type Service struct {
	APIKey           string `env:"API_KEY,required" description:"shared secret expected in the X-API-Key header"`
	Port             string `env:"PORT,default=3000" description:"port to listen on"`
	PostgRESTURL     string `env:"POSTGREST_URL,optional" description:"base URL of the PostgREST backend"`
	PostgRESTToken   string `env:"POSTGREST_TOKEN,optional" description:"service token for the PostgREST backend"`
	Postgres         string `env:"POSTGRES,optional" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
	PostgresSchema   string `env:"POSTGRES_SCHEMA,default=research" description:"database schema holding the dataset"`
	KafkaBroker      string `env:"KAFKA_BROKER,optional" description:"kafka broker for change notifications"`
	KafkaTopic       string `env:"KAFKA_TOPIC,default=research-api.changes" description:"kafka topic for change notifications"`
	LogLevel         string `env:"LOG_LEVEL,default=info" description:"log level"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	logLevel, err := logrus.ParseLevel(service.LogLevel)
	if err != nil {
		panic(err)
	}
	logger.InitLogger(logLevel)
	log := logger.Default()

	var backend api.Backend
	switch {
	case service.PostgRESTURL != "":
		log.Infoln("serving from postgrest backend", service.PostgRESTURL)
		backend = postgrest.NewClient(service.PostgRESTURL).WithToken(service.PostgRESTToken)
	case service.Postgres != "":
		db := csql.OpenWithSchema(service.Postgres, service.PostgresPassword, service.PostgresSchema)
		defer db.Close()
		backend = store.New(db)
	default:
		log.Fatal("either POSTGREST_URL or POSTGRES must be set")
	}

	var notifier events.Notifier
	if service.KafkaBroker != "" {
		log.Infoln("publishing change notifications to", service.KafkaTopic)
		kafkaNotifier := events.NewKafkaNotifier(service.KafkaBroker, service.KafkaTopic)
		defer kafkaNotifier.Close()
		notifier = kafkaNotifier
	}

	router := mux.NewRouter()
	logger.AddRequestID(router)
	api.New(&api.Builder{
		Router:   router,
		Backend:  backend,
		APIKey:   service.APIKey,
		Notifier: notifier,
	})

	log.Infoln("listen on port :" + service.Port)
	log.Fatal(http.ListenAndServe(":"+service.Port, router))
}

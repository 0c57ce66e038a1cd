package main

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/gardenbase/core/backend"
	"github.com/relabs-tech/gardenbase/core/csql"
	"github.com/relabs-tech/gardenbase/core/logger"
	"github.com/relabs-tech/gardenbase/core/notify"
	"github.com/relabs-tech/gardenbase/trefle"
)

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres password=docker dbname=postgres sslmode=disable"
type Service struct {
	Postgres     string `env:"POSTGRES,required" description:"the connection string for the Postgres DB"`
	SecretKey    string `env:"SECRET_KEY,required" description:"the key for signing identity tokens"`
	BcryptCost   int    `env:"BCRYPT_COST,default=12" description:"the work factor for password hashing"`
	FrontendURL  string `env:"FRONTEND_URL,default=*" description:"the origin allowed for cross-origin requests"`
	TrefleToken  string `env:"TREFLE_TOKEN" description:"the credential for the trefle plant database"`
	TrefleURL    string `env:"TREFLE_URL,default=https://trefle.io" description:"the url of the trefle plant database"`
	KafkaBrokers string `env:"KAFKA_BROKERS" description:"comma separated kafka brokers for change notifications, optional"`
	KafkaTopic   string `env:"KAFKA_TOPIC,default=gardenbase-changes" description:"the kafka topic for change notifications"`
	Port         string `env:"PORT,default=3000" description:"the port to listen on"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	logger.InitLogger(logrus.InfoLevel)
	nillog := logger.Default()

	db := csql.OpenWithSchema(service.Postgres, "gardenbase")
	defer db.Close()

	router := mux.NewRouter()
	logger.AddRequestID(router)

	var notifier *notify.KafkaNotifier
	if len(service.KafkaBrokers) > 0 {
		notifier = notify.NewKafkaNotifier(strings.Split(service.KafkaBrokers, ","), service.KafkaTopic)
		defer notifier.Close()
		nillog.Infoln("publishing change notifications to topic", service.KafkaTopic)
	}

	builder := &backend.Builder{
		DB:            db,
		Router:        router,
		SecretKey:     service.SecretKey,
		BcryptCost:    service.BcryptCost,
		AllowedOrigin: service.FrontendURL,
	}
	if notifier != nil {
		builder.Notifier = notifier
	}
	backend.New(builder)

	trefle.NewAPI(&trefle.Builder{
		Router:  router,
		BaseURL: service.TrefleURL,
		Token:   service.TrefleToken,
	})

	nillog.Infoln("listen on port :" + service.Port)
	nillog.Fatalln(http.ListenAndServe(":"+service.Port, router))
}

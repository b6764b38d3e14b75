package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	BackendInMemory = "inmemory"
	BackendRqlite   = "rqlite"
)

type Config struct {
	Server   Server   `yaml:"server" json:"server"`
	Name     string   `yaml:"name" json:"name" env:"APP_NAME" env-default:"bpmn-engine"`
	Tracing  Tracing  `yaml:"tracing" json:"tracing"`
	Engine   Engine   `yaml:"engine" json:"engine"`
	Rqlite   Rqlite   `yaml:"rqlite" json:"rqlite"`
}

// Server configures the REST façade.
type Server struct {
	Context string `yaml:"context" json:"context" env:"REST_API_CONTEXT" env-default:"/"`
	Addr    string `yaml:"addr" json:"addr" env:"REST_API_ADDR" env-default:":8080"`
}

// Tracing configures the OTel tracer/meter setup in internal/otel.
type Tracing struct {
	Name            string   `yaml:"name" json:"name" env:"TRACING_NAME" env-default:"bpmn-engine"`
	Enabled         bool     `yaml:"enabled" json:"enabled" env:"TRACING_ENABLED" env-default:"false"`
	Endpoint        string   `yaml:"endpoint" json:"endpoint" env:"TRACING_ENDPOINT" env-default:"localhost:4318"`
	TransferHeaders []string `yaml:"transferHeaders" json:"transferHeaders" env:"TRACING_TRANSFER_HEADERS" env-separator:","`
}

// Engine configures the process manager's non-persistence-backend-specific
// behavior: which store backend to use and where resources and handler
// scripts live. TimerPollInterval is loaded but not read by the engine;
// timers fire from one-shot callbacks armed when their token arrives.
type Engine struct {
	PersistenceBackend string `yaml:"persistenceBackend" json:"persistenceBackend" env:"ENGINE_PERSISTENCE_BACKEND" env-default:"inmemory"`
	TimerPollInterval  string `yaml:"timerPollInterval" json:"timerPollInterval" env:"ENGINE_TIMER_POLL_INTERVAL" env-default:"1s"`
	ResourcesDir       string `yaml:"resourcesDir" json:"resourcesDir" env:"ENGINE_RESOURCES_DIR" env-default:"./resources"`
	HandlerScriptDir   string `yaml:"handlerScriptDir" json:"handlerScriptDir" env:"ENGINE_HANDLER_SCRIPT_DIR" env-default:"./handlers"`
}

// Rqlite configures the optional durable persistence.Store backend.
type Rqlite struct {
	Addr     string `yaml:"addr" json:"addr" env:"RQLITE_ADDR" env-default:"localhost:4001"`
	User     string `yaml:"user" json:"user" env:"RQLITE_USER"`
	Password string `yaml:"password" json:"password" env:"RQLITE_PASSWORD"`
}

func InitConfig() Config {
	c := Config{}
	var fileName string
	confFile := os.Getenv("CONFIG_FILE")
	if confFile == "" {
		wd, err := os.Getwd()
		if err != nil {
			panic(err)
		}
		fileName = fmt.Sprintf("%s/conf.yaml", wd)
	} else {
		fileName = confFile
	}
	var err error
	if _, perr := os.Stat(fileName); errors.Is(perr, os.ErrNotExist) {
		err = cleanenv.ReadEnv(&c)
		fmt.Printf("Configuration file %s not found. Reading config from ENV.\n", fileName)
	} else {
		err = cleanenv.ReadConfig(fileName, &c)
	}
	if err != nil {
		fmt.Printf("Error occurred while reading the configuration: %s\n", err)
		panic(err)
	}
	return c
}
